package remote

import (
	"context"
	"fmt"
	"log/slog"
)

// Target identifies a remote host and the credentials used against it.
type Target struct {
	Hostname string
	Username string
	Password string

	// Port is the WinRM listener port. Zero selects 5985, or 5986 when
	// UseTLS is set.
	Port int

	// UseTLS selects HTTPS.
	UseTLS bool
}

// EffectivePort returns the port the target is contacted on.
func (t Target) EffectivePort() int {
	switch {
	case t.Port != 0:
		return t.Port
	case t.UseTLS:
		return PortHTTPS
	default:
		return PortHTTP
	}
}

// Endpoint returns the WS-Management URL for the target.
func (t Target) Endpoint() string {
	scheme := "http"
	if t.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/wsman", scheme, t.Hostname, t.EffectivePort())
}

// LogValue implements slog.LogValuer so the password never reaches a log.
func (t Target) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("hostname", t.Hostname),
		slog.String("username", t.Username),
		slog.Int("port", t.EffectivePort()),
		slog.Bool("tls", t.UseTLS),
	)
}

// Runner executes a request on a target.
//
// A non-nil error means the command did not run (transport, authentication,
// cancellation). A command that ran returns a Result with a nil error,
// whatever its exit code.
type Runner interface {
	Run(ctx context.Context, target Target, req Request) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, target Target, req Request) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, target Target, req Request) (*Result, error) {
	return f(ctx, target, req)
}

// CredentialScope makes credentials for a target available for the
// duration of one call. Acquire is paired with the returned release,
// which is always called.
type CredentialScope interface {
	Acquire(ctx context.Context, target Target) (release func(), err error)
}

// NopScope is a CredentialScope that does nothing. The WinRM runner
// carries credentials on the connection itself and needs no scope.
type NopScope struct{}

// Acquire returns a no-op release.
func (NopScope) Acquire(context.Context, Target) (func(), error) {
	return func() {}, nil
}
