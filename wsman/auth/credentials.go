package auth

import (
	"errors"
	"log/slog"
	"strings"
)

// Credentials is an account on the target host or its domain.
type Credentials struct {
	Username string
	Password string

	// Domain is the NetBIOS domain from a DOMAIN\user name.
	Domain string
}

// SplitUsername parses DOMAIN\user into its parts. UPNs (user@realm) and
// bare names are kept whole.
func SplitUsername(username, password string) Credentials {
	c := Credentials{Username: username, Password: password}
	if domain, user, ok := strings.Cut(username, `\`); ok {
		c.Domain, c.Username = domain, user
	}
	return c
}

// Account is the name in the form Windows expects on the wire.
func (c Credentials) Account() string {
	if c.Domain == "" {
		return c.Username
	}
	return c.Domain + `\` + c.Username
}

// Validate checks that both the username and password are present.
func (c Credentials) Validate() error {
	switch {
	case c.Username == "":
		return errors.New("auth: username is required")
	case c.Password == "":
		return errors.New("auth: password is required")
	}
	return nil
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account", c.Account()),
		slog.String("password", "[REDACTED]"),
	)
}
