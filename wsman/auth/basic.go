package auth

import (
	"log/slog"
	"net/http"
	"sync"
)

// Basic sends the credentials with every request. WinRM only accepts it for
// local accounts, and over HTTP the password crosses the wire in clear.
type Basic struct {
	creds  Credentials
	logger *slog.Logger
	warned sync.Once
}

// NewBasic returns a Basic authenticator. A nil logger uses slog.Default.
func NewBasic(creds Credentials, logger *slog.Logger) *Basic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Basic{creds: creds, logger: logger}
}

// Scheme implements Authenticator.
func (b *Basic) Scheme() Scheme { return SchemeBasic }

// Close implements Authenticator.
func (b *Basic) Close() error { return nil }

// Wrap implements Authenticator.
func (b *Basic) Wrap(base http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Scheme != "https" {
			b.warned.Do(func() {
				b.logger.Warn("basic authentication over unencrypted connection", "host", req.URL.Host)
			})
		}
		out := req.Clone(req.Context())
		out.SetBasicAuth(b.creds.Account(), b.creds.Password)
		return base.RoundTrip(out)
	})
}
