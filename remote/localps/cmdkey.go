package localps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smnsjas/go-winops/remote"
)

const releaseTimeout = 10 * time.Second

// CmdkeyScope stores target credentials in the Windows credential manager
// for the duration of one call and deletes them afterwards.
type CmdkeyScope struct {
	exec   ExecFunc
	logger *slog.Logger
}

// NewCmdkeyScope creates a CmdkeyScope. A nil exec uses Exec.
func NewCmdkeyScope(exec ExecFunc, logger *slog.Logger) *CmdkeyScope {
	if exec == nil {
		exec = Exec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CmdkeyScope{exec: exec, logger: logger}
}

var _ remote.CredentialScope = (*CmdkeyScope)(nil)

// Acquire adds a generic credential for the target host.
func (s *CmdkeyScope) Acquire(ctx context.Context, target remote.Target) (func(), error) {
	args := []string{
		"/add:" + target.Hostname,
		"/user:" + target.Username,
		"/pass:" + target.Password,
	}
	_, stderr, code, err := s.exec(ctx, "cmdkey", args, nil)
	if err != nil {
		return nil, fmt.Errorf("cmdkey add: %w", err)
	}
	if code != 0 {
		return nil, fmt.Errorf("cmdkey add: exit %d: %s", code, strings.TrimSpace(string(stderr)))
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		_, stderr, code, err := s.exec(ctx, "cmdkey", []string{"/delete:" + target.Hostname}, nil)
		if err != nil || code != 0 {
			s.logger.Warn("cmdkey delete failed", "host", target.Hostname, "exit_code", code,
				"error", err, "stderr", strings.TrimSpace(string(stderr)))
		}
	}
	return release, nil
}
