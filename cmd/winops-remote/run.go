package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-winops/client"
	"github.com/smnsjas/go-winops/remote"
)

// connectFlag adds the --name flag used by commands that act on one host.
func connectFlag(cmd *cobra.Command, name *string) {
	cmd.Flags().StringVarP(name, "name", "c", "", "Saved connection to use")
	_ = cmd.MarkFlagRequired("name")
}

// printResult writes a remote result and converts a non-zero exit code into
// an exitError.
func printResult(cmd *cobra.Command, res *remote.Result) error {
	if res.Stdout != "" {
		fmt.Fprint(cmd.OutOrStdout(), ensureNewline(res.Stdout))
	}
	if res.Stderr != "" {
		fmt.Fprint(cmd.ErrOrStderr(), ensureNewline(res.Stderr))
	}
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func newExecCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "exec --name <connection> -- <command...>",
		Short: "Run a PowerShell command on one host",
		Long: `Run a PowerShell command on a saved connection and print its output.
The process exits with the remote exit code.

Examples:
  winops-remote exec -c dc01 -- Get-Service WinRM
  winops-remote exec -c web01 -- 'Restart-Service W3SVC; exit 3'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Connect(cmd.Context(), name); err != nil {
				return err
			}
			return printResult(cmd, a.manager.Execute(cmd.Context(), strings.Join(args, " ")))
		},
	}
	connectFlag(cmd, &name)
	return cmd
}

func newScriptCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "script --name <connection> <file.ps1|->",
		Short: "Run a local PowerShell script file on one host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(cmd, args[0])
			if err != nil {
				return err
			}
			if err := a.manager.Connect(cmd.Context(), name); err != nil {
				return err
			}
			return printResult(cmd, a.manager.ExecuteScript(cmd.Context(), script))
		},
	}
	connectFlag(cmd, &name)
	return cmd
}

func readScript(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(data), nil
}

func newPushCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "push --name <connection> <local-path> <remote-path>",
		Short: "Copy a local file to a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Connect(cmd.Context(), name); err != nil {
				return err
			}
			if err := a.manager.CopyFileToRemote(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s to %s:%s\n", args[0], name, args[1])
			return nil
		},
	}
	connectFlag(cmd, &name)
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "pull --name <connection> <remote-path> <local-path>",
		Short: "Copy a file from a host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Connect(cmd.Context(), name); err != nil {
				return err
			}
			if err := a.manager.CopyFileFromRemote(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %s:%s to %s\n", name, args[0], args[1])
			return nil
		},
	}
	connectFlag(cmd, &name)
	return cmd
}

func newBroadcastCmd(a *app) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "broadcast -- <command...>",
		Short: "Run a PowerShell command on every reachable host",
		Long: `Test every saved connection, then run the command on each host that
answered. One host failing does not stop the others. The process exits
non-zero if any host failed or returned a non-zero exit code.

Examples:
  winops-remote broadcast -- Get-Date
  winops-remote broadcast --concurrency 8 -- 'Get-HotFix | Select -Last 1'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := concurrency
			if !cmd.Flags().Changed("concurrency") {
				n = a.cfg.Concurrency
			}
			command := strings.Join(args, " ")

			a.manager.RefreshConnections(cmd.Context())
			results := client.ExecuteOnAll(cmd.Context(), a.manager,
				func(ctx context.Context, s *client.Session) (*remote.Result, error) {
					res := s.Execute(ctx, command)
					return res, res.Err
				}, client.WithConcurrency(n))

			return printBroadcast(cmd, a, results)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Hosts to run at once")
	return cmd
}

func printBroadcast(cmd *cobra.Command, a *app, results map[string]client.Outcome[*remote.Result]) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, c := range a.manager.Connections() {
		if _, ok := results[c.Name]; !ok {
			fmt.Fprintf(out, "=== %s (%s): skipped, not reachable\n", c.Name, c.Hostname)
			failed++
		}
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := results[name]
		switch {
		case o.Value == nil && o.Err != nil:
			fmt.Fprintf(out, "=== %s: error: %v\n", name, o.Err)
			failed++
		case o.Value != nil:
			fmt.Fprintf(out, "=== %s: exit %d\n", name, o.Value.ExitCode)
			if o.Value.Stdout != "" {
				fmt.Fprint(out, ensureNewline(o.Value.Stdout))
			}
			if o.Value.Stderr != "" {
				fmt.Fprint(out, ensureNewline(o.Value.Stderr))
			}
			if !o.Value.OK() {
				failed++
			}
		}
	}

	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
