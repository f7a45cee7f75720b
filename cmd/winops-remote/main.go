// Command winops-remote manages saved Windows remoting connections and runs
// commands, scripts and file transfers over them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-winops/client"
	"github.com/smnsjas/go-winops/internal/config"
	winlog "github.com/smnsjas/go-winops/internal/log"
)

var (
	version = "dev"
	commit  = "none"
)

// exitError carries a remote exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("remote command exited with code %d", e.code)
}

// app holds state shared by the subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string
	runner     string
	authScheme string
	useTLS     bool
	timeout    time.Duration
	audit      bool

	cfg     *config.Config
	cfgFile string
	logger  *slog.Logger
	closer  io.Closer
	manager *client.Manager

	// managerOpts are appended when building the Manager.
	managerOpts []client.Option
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.teardown()
	stop()

	var ee *exitError
	switch {
	case errors.As(err, &ee):
		os.Exit(ee.code)
	case err != nil:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "winops-remote",
		Short: "Run commands and copy files on Windows hosts over WinRM",
		Long: `winops-remote keeps a list of named Windows hosts with their credentials,
tests them over WinRM, and runs PowerShell commands, scripts and file
transfers against one host or all connected hosts.

Connections are stored per user in the WinOpsTool configuration directory.`,
		Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Configuration file (default: user config dir)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.runner, "runner", "", "Backend: winrm or localps")
	pf.StringVar(&a.authScheme, "auth", "", "WinRM auth: basic, ntlm, kerberos")
	pf.BoolVar(&a.useTLS, "tls", false, "Use HTTPS on port 5986")
	pf.DurationVar(&a.timeout, "timeout", 0, "Per-call timeout (e.g. 45s)")
	pf.BoolVar(&a.audit, "audit", false, "Emit security audit events")

	root.AddCommand(
		newAddCmd(a),
		newRemoveCmd(a),
		newListCmd(a),
		newConnectCmd(a),
		newRefreshCmd(a),
		newProbeCmd(a),
		newExecCmd(a),
		newScriptCmd(a),
		newPushCmd(a),
		newPullCmd(a),
		newBroadcastCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the logger
// and Manager.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("runner") {
		cfg.Runner = a.runner
	}
	if flags.Changed("auth") {
		cfg.Auth = a.authScheme
	}
	if flags.Changed("tls") {
		cfg.UseTLS = a.useTLS
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if flags.Changed("audit") {
		cfg.Audit = a.audit
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg, a.cfgFile = cfg, path

	opts := cfg.LogOptions()
	opts.Stderr = cmd.ErrOrStderr()
	logger, closer, err := winlog.New(opts)
	if err != nil {
		return err
	}
	a.logger, a.closer = logger, closer

	mopts := []client.Option{client.WithLogger(logger)}
	if cfg.Audit {
		mopts = append(mopts, client.WithAudit(logger))
	}
	mopts = append(mopts, a.managerOpts...)

	m, err := client.NewManager(cfg.ManagerConfig(), mopts...)
	if err != nil {
		a.teardown()
		return err
	}
	a.manager = m
	return nil
}

func (a *app) teardown() {
	if a.closer != nil {
		_ = a.closer.Close()
		a.closer = nil
	}
}
