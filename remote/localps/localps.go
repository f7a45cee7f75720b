// Package localps runs remote requests through the local PowerShell
// interpreter with Invoke-Command, for hosts where the management console
// itself runs on Windows and the remote side is reached through the
// built-in PowerShell remoting client.
package localps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/smnsjas/go-winops/remote"
)

// PasswordEnv carries the target password to the local interpreter. It
// is set on the child process only and never appears on a command line.
const PasswordEnv = "WINOPS_REMOTE_PASSWORD"

// exitMarker prefixes the line reporting the remote exit code.
const exitMarker = "##winops-exit:"

var exitLine = regexp.MustCompile(`(?m)^` + exitMarker + `(-?\d+)\r?$\n?`)

const trustScript = `$current = (Get-Item -Path WSMan:\localhost\Client\TrustedHosts -ErrorAction SilentlyContinue).Value
if ($current -ne '*' -and (($current -split ',') | ForEach-Object { $_.Trim() }) -notcontains $target) {
    Set-Item -Path WSMan:\localhost\Client\TrustedHosts -Value $target -Concatenate -Force -ErrorAction SilentlyContinue
}
`

const invokeScript = `$ErrorActionPreference = 'Stop'
$secure = ConvertTo-SecureString $env:` + PasswordEnv + ` -AsPlainText -Force
$credential = New-Object System.Management.Automation.PSCredential($user, $secure)
try {
    Invoke-Command -ComputerName $target -Credential $credential -ErrorAction Continue -ArgumentList $encoded -ScriptBlock {
        param($encoded)
        & powershell.exe -NoProfile -NonInteractive -ExecutionPolicy Bypass -EncodedCommand $encoded
        "` + exitMarker + `$LASTEXITCODE"
    }
} catch {
    [Console]::Error.WriteLine($_.Exception.Message)
    exit 1
}`

// ExecFunc starts a local program and returns its output and exit code.
// err is non-nil only when the program could not be run at all.
type ExecFunc func(ctx context.Context, name string, args, env []string) (stdout, stderr []byte, exitCode int, err error)

// Exec runs name with os/exec, adding env to the current environment.
func Exec(ctx context.Context, name string, args, env []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return stdout.Bytes(), stderr.Bytes(), -1, ctx.Err()
		}
		return nil, nil, -1, fmt.Errorf("localps: run %s: %w", name, err)
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// Runner implements remote.Runner with Invoke-Command.
type Runner struct {
	exec       ExecFunc
	trustHosts bool
	logger     *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithExec replaces the process launcher, mainly for tests.
func WithExec(fn ExecFunc) Option {
	return func(r *Runner) { r.exec = fn }
}

// WithTrustedHosts controls whether the target is appended to the WinRM
// client's TrustedHosts list before each call. Non-domain targets need it.
func WithTrustedHosts(enabled bool) Option {
	return func(r *Runner) { r.trustHosts = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Runner. TrustedHosts relaxation is on by default.
func New(opts ...Option) *Runner {
	r := &Runner{
		exec:       Exec,
		trustHosts: true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ remote.Runner = (*Runner)(nil)

// Run implements remote.Runner.
func (r *Runner) Run(ctx context.Context, target remote.Target, req remote.Request) (*remote.Result, error) {
	wrapper, err := r.wrap(target, req)
	if err != nil {
		return nil, err
	}
	exe, args, err := wrapper.CommandLine()
	if err != nil {
		return nil, err
	}

	stdout, stderr, code, err := r.exec(ctx, exe, args, []string{PasswordEnv + "=" + target.Password})
	if err != nil {
		return nil, err
	}

	out := strings.ReplaceAll(string(stdout), "\r\n", "\n")
	errOut := strings.ReplaceAll(string(stderr), "\r\n", "\n")

	remoteCode, out, ok := extractExitCode(out)
	if !ok {
		// The remote side never ran; the local interpreter explains why.
		msg := strings.TrimSpace(errOut)
		if msg == "" {
			msg = fmt.Sprintf("local interpreter exited %d", code)
		}
		return nil, fmt.Errorf("localps: invoke on %s: %s", target.Hostname, msg)
	}

	r.logger.Debug("invoke-command finished", "host", target.Hostname, "exit_code", remoteCode)
	return &remote.Result{ExitCode: remoteCode, Stdout: out, Stderr: errOut}, nil
}

// wrap builds the local request that forwards req to target.
func (r *Runner) wrap(target remote.Target, req remote.Request) (remote.Request, error) {
	encoded, err := req.EncodedCommand()
	if err != nil {
		return remote.Request{}, err
	}
	script := invokeScript
	if r.trustHosts {
		script = trustScript + script
	}
	return remote.Request{
		Script: script,
		Params: map[string]string{
			"target":  target.Hostname,
			"user":    target.Username,
			"encoded": encoded,
		},
	}, nil
}

// extractExitCode removes the exit marker line from out and returns the
// code it carried.
func extractExitCode(out string) (int, string, bool) {
	matches := exitLine.FindAllStringSubmatchIndex(out, -1)
	if len(matches) == 0 {
		return 0, out, false
	}
	last := matches[len(matches)-1]
	code, err := strconv.Atoi(out[last[2]:last[3]])
	if err != nil {
		return 0, out, false
	}
	return code, out[:last[0]] + out[last[1]:], true
}
