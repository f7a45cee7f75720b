package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 30 * time.Second

// Channel runs requests against targets and folds every failure into a
// Result. It is safe for concurrent use if its Runner and scope are.
type Channel struct {
	runner  Runner
	scope   CredentialScope
	timeout time.Duration
	logger  *slog.Logger
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithScope sets the credential scope acquired around each call.
func WithScope(scope CredentialScope) ChannelOption {
	return func(c *Channel) {
		if scope != nil {
			c.scope = scope
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChannel creates a Channel backed by runner.
func NewChannel(runner Runner, opts ...ChannelOption) *Channel {
	c := &Channel{
		runner:  runner,
		scope:   NopScope{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call timeout.
func (c *Channel) Timeout() time.Duration {
	return c.timeout
}

// Run executes req on target and always returns a non-nil Result.
//
// A command that ran reports its own exit code and output with a nil Err.
// Anything else (oversized payload, credential scope failure, unreachable
// host, rejected credentials, timeout, cancellation) yields exit code 1, a
// description in Stderr, and Err wrapping the matching sentinel.
func (c *Channel) Run(ctx context.Context, target Target, req Request) (res *Result) {
	logger := c.logger.With("target", target)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("remote call panicked", "panic", p)
			res = failure(fmt.Errorf("remote: panic during call: %v", p))
		}
	}()

	if target.Hostname == "" {
		return failure(fmt.Errorf("%w: empty hostname", ErrNotConnected))
	}
	if _, _, err := req.CommandLineWithin(CommandLimit(c.runner)); err != nil {
		logger.Warn("request rejected", "error", err)
		return failure(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	release, err := c.scope.Acquire(callCtx, target)
	if err != nil {
		logger.Warn("credential scope unavailable", "error", err)
		return failure(fmt.Errorf("%w: acquire credentials: %w", ErrAuthentication, err))
	}
	defer release()

	logger.Debug("running remote command",
		"script", LoggableScript(req.Script, target.Password),
		"payload_bytes", len(req.Payload))

	start := time.Now()
	res, err = c.runner.Run(callCtx, target, req)
	elapsed := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			// The caller's deadline may be the one that fired.
			limit := c.timeout
			if ctx.Err() != nil {
				limit = elapsed.Round(time.Millisecond)
			}
			logger.Warn("remote call timed out", "timeout", limit)
			return &Result{
				ExitCode: 1,
				Stderr:   fmt.Sprintf("Command timed out after %s", limit),
				Err:      fmt.Errorf("%w after %s: %w", ErrTimeout, limit, context.DeadlineExceeded),
			}
		case ctx.Err() != nil:
			err = fmt.Errorf("remote: call cancelled: %w", ctx.Err())
		default:
			err = classify(err)
		}
		logger.Warn("remote call failed", "error", MaskSecret(err.Error(), target.Password), "elapsed", elapsed)
		return failure(err)
	}
	if res == nil {
		res = &Result{}
	}

	logger.Debug("remote call finished", "exit_code", res.ExitCode, "elapsed", elapsed)
	return res
}

// Echo runs the authentication round trip and reports whether it succeeded.
// A failed echo returns the Result explaining why.
func (c *Channel) Echo(ctx context.Context, target Target) (bool, *Result) {
	res := c.Run(ctx, target, EchoRequest())
	if EchoSucceeded(res) {
		return true, res
	}
	if res.Err == nil {
		msg := fmt.Sprintf("echo probe returned exit %d", res.ExitCode)
		res.Err = fmt.Errorf("%w: %s", ErrAuthentication, msg)
	}
	return false, res
}
