// Package auth authenticates WS-Management requests.
//
// Three schemes are supported:
//
//   - Basic, for local accounts. Prefer HTTPS; over HTTP a warning is logged
//     once per authenticator.
//   - NTLM via github.com/Azure/go-ntlmssp, the default.
//   - Kerberos via SPNEGO on the pure Go github.com/go-krb5/krb5 client,
//     HTTPS only. Tickets come from a keytab, a ccache or a password.
//
// Callers normally go through New and hand Wrap to the transport:
//
//	a, err := auth.New(auth.SchemeNTLM, auth.SplitUsername(`CORP\svc`, pw), auth.Options{})
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	tr := transport.NewHTTPTransport(transport.WithRoundTripper(a.Wrap))
package auth
