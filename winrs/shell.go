package winrs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/smnsjas/go-winops/wsman"
)

// Idle timeouts requested for new shells. Under a context deadline the shell
// idles out idleGrace after that deadline, so a caller that disappears
// mid-call leaves nothing behind for long.
const (
	DefaultIdleTimeout = 5 * time.Minute
	MinIdleTimeout     = time.Minute
	idleGrace          = 30 * time.Second
)

type settings struct {
	idle      time.Duration
	codepage  int
	noProfile bool
	maxOutput int
}

// Option adjusts a shell before it is created.
type Option func(*settings)

// WithIdleTimeout fixes the idle timeout instead of deriving it from the
// context. It is never set below MinIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *settings) { s.idle = d }
}

// WithCodepage selects the console codepage (65001 is UTF-8).
func WithCodepage(cp int) Option {
	return func(s *settings) { s.codepage = cp }
}

// WithNoProfile starts the shell without the user's profile.
func WithNoProfile() Option {
	return func(s *settings) { s.noProfile = true }
}

// WithMaxOutput bounds the stdout plus stderr bytes Run keeps. Zero is
// unbounded.
func WithMaxOutput(n int) Option {
	return func(s *settings) { s.maxOutput = n }
}

func (s settings) idleTimeout(ctx context.Context) time.Duration {
	if s.idle > 0 {
		return max(s.idle, MinIdleTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok {
		return max(time.Until(deadline)+idleGrace, MinIdleTimeout)
	}
	return DefaultIdleTimeout
}

// Shell is a remote cmd.exe shell. It is used for one call and then closed.
type Shell struct {
	transport Transport
	epr       *wsman.EndpointReference
	cfg       settings
	closed    atomic.Bool
}

// NewShell creates a shell on the host behind transport.
func NewShell(ctx context.Context, transport Transport, opts ...Option) (*Shell, error) {
	if transport == nil {
		return nil, errors.New("winrs: nil transport")
	}
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}

	epr, err := transport.Create(ctx, wsman.ShellOptions{
		IdleTimeout: isoSeconds(cfg.idleTimeout(ctx)),
		Codepage:    cfg.codepage,
		NoProfile:   cfg.noProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("winrs: create shell: %w", err)
	}
	return &Shell{transport: transport, epr: epr, cfg: cfg}, nil
}

// ID is the server-assigned shell ID.
func (s *Shell) ID() string { return s.epr.ShellID() }

func (s *Shell) isClosed() bool { return s.closed.Load() }

// Close deletes the shell on the server. Only the first call does anything.
func (s *Shell) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.transport.Delete(ctx, s.epr); err != nil {
		return fmt.Errorf("winrs: delete shell %s: %w", s.ID(), err)
	}
	return nil
}

// isoSeconds renders d as an xs:duration in whole seconds.
func isoSeconds(d time.Duration) string {
	return fmt.Sprintf("PT%dS", int64(d/time.Second))
}
