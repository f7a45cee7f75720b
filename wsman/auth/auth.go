package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnsupportedScheme is returned for a scheme name New does not know.
var ErrUnsupportedScheme = errors.New("auth: unsupported scheme")

// Scheme names an authentication mechanism.
type Scheme string

// Supported schemes.
const (
	SchemeBasic    Scheme = "basic"
	SchemeNTLM     Scheme = "ntlm"
	SchemeKerberos Scheme = "kerberos"
)

// ParseScheme converts a configuration string to a Scheme. An empty string
// selects NTLM and "negotiate" is accepted as a synonym for Kerberos.
func ParseScheme(s string) (Scheme, error) {
	switch v := Scheme(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return SchemeNTLM, nil
	case "negotiate":
		return SchemeKerberos, nil
	case SchemeBasic, SchemeNTLM, SchemeKerberos:
		return v, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedScheme, s)
}

// Authenticator decorates an HTTP round tripper with one scheme's handshake.
type Authenticator interface {
	Scheme() Scheme
	Wrap(base http.RoundTripper) http.RoundTripper
	Close() error
}

// Options carries what the individual schemes need beyond credentials.
type Options struct {
	// Host is the target hostname, used to derive the Kerberos SPN.
	Host string

	// TLS reports whether the listener is HTTPS.
	TLS bool

	// Realm and Krb5Conf configure Kerberos.
	Realm    string
	Krb5Conf string

	Logger *slog.Logger
}

// New builds the Authenticator for scheme. Kerberos refuses plain HTTP
// listeners because message sealing is not implemented.
func New(scheme Scheme, creds Credentials, opts Options) (Authenticator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch scheme {
	case SchemeBasic:
		return NewBasic(creds, opts.Logger), nil
	case SchemeNTLM:
		return NewNTLM(creds), nil
	case SchemeKerberos:
		if !opts.TLS {
			return nil, errors.New("auth: kerberos requires an HTTPS listener")
		}
		p, err := NewKerberosProvider(KerberosConfig{
			TargetSPN:    TargetSPN(opts.Host),
			Realm:        opts.Realm,
			Krb5ConfPath: opts.Krb5Conf,
			Credentials:  &creds,
		})
		if err != nil {
			return nil, err
		}
		return NewNegotiate(p), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, scheme)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
