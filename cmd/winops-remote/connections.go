package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smnsjas/go-winops/store"
)

// PasswordEnv supplies the password for add without prompting.
const PasswordEnv = "WINOPS_PASSWORD"

func newAddCmd(a *app) *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "add <name> <hostname> <username>",
		Short: "Test and save a new connection",
		Long: `Test the host and credentials, then save the connection.

The password is read from --password-stdin, the WINOPS_PASSWORD environment
variable, or an interactive prompt, in that order.

Examples:
  winops-remote add dc01 10.0.0.5 Administrator
  echo "$PW" | winops-remote add web01 web01.corp.local 'CORP\svc' --password-stdin`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}
			rec := store.Record{Name: args[0], Hostname: args[1], Username: args[2], Password: password}
			if err := a.manager.AddConnection(cmd.Context(), rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", rec.Name, rec.Hostname)
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.RemoveConnection(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved connections",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if check {
				a.manager.RefreshConnections(cmd.Context())
			}
			printConnections(cmd.OutOrStdout(), a, check)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Test every connection and show its status")
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Test every saved connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.manager.RefreshConnections(cmd.Context())
			printConnections(cmd.OutOrStdout(), a, true)
			return nil
		},
	}
}

func newConnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "connect <name>",
		Aliases: []string{"test"},
		Short:   "Test a saved connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.Connect(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s\n", args[0])
			return nil
		},
	}
}

func newProbeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <hostname>",
		Short: "Check whether a host has a WinRM listener",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.manager.TestAvailability(cmd.Context(), args[0]) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: unreachable\n", args[0])
				return &exitError{code: 1}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: reachable\n", args[0])
			return nil
		},
	}
}

func printConnections(w io.Writer, a *app, withStatus bool) {
	conns := a.manager.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(w, "No saved connections.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if withStatus {
		fmt.Fprintln(tw, "NAME\tHOSTNAME\tUSERNAME\tSTATUS")
	} else {
		fmt.Fprintln(tw, "NAME\tHOSTNAME\tUSERNAME")
	}
	for _, c := range conns {
		if withStatus {
			status := "unreachable"
			if c.Connected {
				status = "ok"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Hostname, c.Username, status)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Hostname, c.Username)
	}
	_ = tw.Flush()
}

// readPassword follows the flag, environment, prompt order. Terminal input
// is read without echo.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if !fromStdin {
		if pw := os.Getenv(PasswordEnv); pw != "" {
			return pw, nil
		}
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			pw, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return "", fmt.Errorf("read password: %w", err)
			}
			return string(pw), nil
		}
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("empty password")
	}
	return pw, nil
}
