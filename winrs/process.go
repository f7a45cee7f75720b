package winrs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smnsjas/go-winops/wsman"
)

var (
	ErrShellClosed       = errors.New("winrs: shell is closed")
	ErrInvalidExecutable = errors.New("winrs: empty executable")
	ErrOutputLimit       = errors.New("winrs: output limit exceeded")
)

// signalTimeout bounds the terminate request sent when Run gives up.
const signalTimeout = 5 * time.Second

// Output is what a command wrote and how it exited.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run starts executable in the shell and polls until it exits.
//
// If ctx ends first, or the output grows past the shell's limit, the
// command is sent a terminate signal and Run returns the output gathered
// so far with the error.
func (s *Shell) Run(ctx context.Context, executable string, args ...string) (*Output, error) {
	if executable == "" {
		return nil, ErrInvalidExecutable
	}
	if s.isClosed() {
		return nil, ErrShellClosed
	}

	id, err := s.transport.Command(ctx, s.epr, executable, args...)
	if err != nil {
		return nil, fmt.Errorf("winrs: start command: %w", err)
	}

	out := &Output{}
	for {
		if err := ctx.Err(); err != nil {
			s.terminate(id)
			return out, err
		}

		res, err := s.transport.Receive(ctx, s.epr, id)
		if err != nil {
			if ctx.Err() != nil {
				s.terminate(id)
				return out, ctx.Err()
			}
			return out, fmt.Errorf("winrs: receive output: %w", err)
		}

		out.Stdout = append(out.Stdout, res.Stdout...)
		out.Stderr = append(out.Stderr, res.Stderr...)
		if res.Done {
			out.ExitCode = res.ExitCode
			return out, nil
		}
		if limit := s.cfg.maxOutput; limit > 0 && len(out.Stdout)+len(out.Stderr) > limit {
			s.terminate(id)
			return out, fmt.Errorf("%w: more than %d bytes", ErrOutputLimit, limit)
		}
	}
}

// terminate signals a command with a context detached from the caller's,
// which has usually ended already.
func (s *Shell) terminate(commandID string) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	_ = s.transport.Signal(ctx, s.epr, commandID, wsman.SignalTerminate)
}
