package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/smnsjas/go-winops/remote"
	"github.com/smnsjas/go-winops/wsman/auth"
)

// Runner backends.
const (
	// RunnerWinRM speaks WS-Management directly.
	RunnerWinRM = "winrm"

	// RunnerLocalPS drives the local powershell.exe with Invoke-Command.
	RunnerLocalPS = "localps"
)

// Config configures a Manager.
type Config struct {
	// Timeout bounds each remote call.
	Timeout time.Duration

	// ProbeTimeout bounds each reachability connect attempt.
	ProbeTimeout time.Duration

	// Auth is the WinRM authentication scheme (basic, ntlm, kerberos).
	Auth auth.Scheme

	// UseTLS forces HTTPS on port 5986. Without it HTTPS is used only
	// when 5985 does not answer.
	UseTLS bool

	// InsecureSkipVerify accepts self-signed listener certificates and,
	// with the localps runner, adds targets to TrustedHosts.
	InsecureSkipVerify bool

	// Runner selects the backend: RunnerWinRM or RunnerLocalPS.
	Runner string

	// Krb5ConfPath and Realm configure Kerberos.
	Krb5ConfPath string
	Realm        string

	// Proxy is an HTTP proxy URL, "" for the environment, or "direct".
	Proxy string

	// StorePath overrides the connection store location.
	StorePath string

	// StoreIdentity is an age identity file. When set, saved passwords
	// are sealed to it, and the file is created on first use.
	StoreIdentity string
}

// DefaultConfig returns a Config with the defaults used for ad-hoc
// workgroup administration.
func DefaultConfig() Config {
	return Config{
		Timeout:            remote.DefaultTimeout,
		ProbeTimeout:       remote.DefaultProbeTimeout,
		Auth:               auth.SchemeNTLM,
		InsecureSkipVerify: true,
		Runner:             RunnerWinRM,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probe timeout must be positive")
	}
	if _, err := auth.ParseScheme(string(c.Auth)); err != nil {
		return err
	}
	if c.Auth == auth.SchemeKerberos && !c.UseTLS && c.Runner != RunnerLocalPS {
		return errors.New("kerberos requires TLS")
	}
	switch c.Runner {
	case RunnerWinRM, RunnerLocalPS:
	default:
		return fmt.Errorf("unknown runner %q", c.Runner)
	}
	return nil
}
