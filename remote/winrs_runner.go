package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smnsjas/go-winops/winrs"
	"github.com/smnsjas/go-winops/wsman"
	"github.com/smnsjas/go-winops/wsman/auth"
	"github.com/smnsjas/go-winops/wsman/transport"
)

// UTF8Codepage is the console codepage requested for remote shells.
const UTF8Codepage = 65001

// closeTimeout bounds shell deletion after a call.
const closeTimeout = 5 * time.Second

// maxOutput caps what one call may print. Downloads arrive on stdout, so
// this also bounds CopyFromRemote.
const maxOutput = 256 << 20

// WinRSConfig configures a WinRSRunner.
type WinRSConfig struct {
	// Auth is the authentication scheme. Defaults to NTLM.
	Auth auth.Scheme

	// InsecureSkipVerify disables certificate verification on HTTPS
	// targets, which usually carry self-signed listener certificates.
	InsecureSkipVerify bool

	// Krb5ConfPath and Realm configure Kerberos.
	Krb5ConfPath string
	Realm        string

	// Codepage is the remote console codepage. Defaults to UTF-8.
	Codepage int

	// Proxy is passed to transport.WithProxy.
	Proxy string
}

// WinRSRunner runs requests through a WinRS shell over WS-Management.
// Each call opens its own connection and shell.
type WinRSRunner struct {
	cfg    WinRSConfig
	logger *slog.Logger
}

// NewWinRSRunner creates a WinRSRunner.
func NewWinRSRunner(cfg WinRSConfig, logger *slog.Logger) *WinRSRunner {
	if cfg.Auth == "" {
		cfg.Auth = auth.SchemeNTLM
	}
	if cfg.Codepage == 0 {
		cfg.Codepage = UTF8Codepage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WinRSRunner{cfg: cfg, logger: logger}
}

// MaxCommandLine implements CommandLineLimiter.
func (r *WinRSRunner) MaxCommandLine() int {
	return MaxShellCommandLine
}

// Run implements Runner.
func (r *WinRSRunner) Run(ctx context.Context, target Target, req Request) (*Result, error) {
	exe, args, err := req.CommandLineWithin(MaxShellCommandLine)
	if err != nil {
		return nil, err
	}

	authenticator, err := r.authenticator(target)
	if err != nil {
		return nil, err
	}
	defer func() { _ = authenticator.Close() }()

	opts := []transport.HTTPTransportOption{
		transport.WithLogger(r.logger),
		transport.WithProxy(r.cfg.Proxy),
		transport.WithRoundTripper(authenticator.Wrap),
	}
	if target.UseTLS {
		opts = append(opts, transport.WithInsecureSkipVerify(r.cfg.InsecureSkipVerify))
	}
	tr := transport.NewHTTPTransport(opts...)
	client := wsman.NewClient(target.Endpoint(), tr)
	defer client.CloseIdleConnections()

	shell, err := winrs.NewShell(ctx, client,
		winrs.WithNoProfile(),
		winrs.WithCodepage(r.cfg.Codepage),
		winrs.WithMaxOutput(maxOutput),
	)
	if err != nil {
		if errors.Is(err, wsman.ErrQuotaLimit) {
			r.logger.Warn("host refused a new shell; lower fan-out concurrency or raise MaxShellsPerUser",
				"target", target)
		}
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := shell.Close(closeCtx); err != nil {
			r.logger.Debug("shell close failed", "host", target.Hostname, "shell", shell.ID(), "error", err)
		}
	}()

	out, err := shell.Run(ctx, exe, args...)
	if err != nil {
		return nil, err
	}

	return &Result{
		ExitCode: out.ExitCode,
		Stdout:   normalizeOutput(out.Stdout),
		Stderr:   decodeCLIXML(normalizeOutput(out.Stderr)),
	}, nil
}

func (r *WinRSRunner) authenticator(target Target) (auth.Authenticator, error) {
	a, err := auth.New(r.cfg.Auth, auth.SplitUsername(target.Username, target.Password), auth.Options{
		Host:     target.Hostname,
		TLS:      target.UseTLS,
		Realm:    r.cfg.Realm,
		Krb5Conf: r.cfg.Krb5ConfPath,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return a, nil
}
