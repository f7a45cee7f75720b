package auth

import (
	"net/http"

	"github.com/Azure/go-ntlmssp"
)

// NTLM runs the NTLMSSP handshake on each connection via go-ntlmssp.
type NTLM struct {
	creds Credentials
}

// NewNTLM returns an NTLM authenticator.
func NewNTLM(creds Credentials) *NTLM {
	return &NTLM{creds: creds}
}

// Scheme implements Authenticator.
func (n *NTLM) Scheme() Scheme { return SchemeNTLM }

// Close implements Authenticator.
func (n *NTLM) Close() error { return nil }

// Wrap implements Authenticator. The negotiator takes the account from the
// request's Basic auth header and replaces it with the NTLM exchange.
func (n *NTLM) Wrap(base http.RoundTripper) http.RoundTripper {
	negotiator := ntlmssp.Negotiator{RoundTripper: base}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		out := req.Clone(req.Context())
		out.SetBasicAuth(n.creds.Account(), n.creds.Password)
		return negotiator.RoundTrip(out)
	})
}
