package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxLegs bounds the SPNEGO round trips for one request.
const maxLegs = 5

// ErrNegotiateFailed is returned when the server keeps rejecting the
// SPNEGO exchange or stops offering Negotiate.
var ErrNegotiateFailed = errors.New("auth: negotiate failed")

// SecurityProvider produces the tokens of a GSS-API style exchange. Step is
// first called with a nil input and then with each server token until the
// context is complete. A provider serves one connection and is not safe for
// concurrent use.
type SecurityProvider interface {
	Step(ctx context.Context, input []byte) (output []byte, continueNeeded bool, err error)
	Complete() bool
	Close() error
}

// Negotiate implements HTTP Negotiate (RFC 4559) over a SecurityProvider.
type Negotiate struct {
	provider SecurityProvider
}

// NewNegotiate returns a Negotiate authenticator driving provider.
func NewNegotiate(provider SecurityProvider) *Negotiate {
	return &Negotiate{provider: provider}
}

// Scheme implements Authenticator.
func (n *Negotiate) Scheme() Scheme { return SchemeKerberos }

// Close releases the provider.
func (n *Negotiate) Close() error { return n.provider.Close() }

// Wrap implements Authenticator. The request body is buffered so that it
// can be replayed on every leg.
func (n *Negotiate) Wrap(base http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		body, err := drain(req)
		if err != nil {
			return nil, err
		}

		var token []byte
		for leg := 0; leg < maxLegs; leg++ {
			resp, err := base.RoundTrip(withToken(req, body, token))
			if err != nil || resp.StatusCode != http.StatusUnauthorized {
				return resp, err
			}

			challenge := resp.Header.Get("WWW-Authenticate")
			_ = resp.Body.Close()
			input, ok := parseChallenge(challenge)
			if !ok {
				return nil, fmt.Errorf("%w: server offered %q", ErrNegotiateFailed, challenge)
			}

			var more bool
			token, more, err = n.provider.Step(req.Context(), input)
			if err != nil {
				return nil, fmt.Errorf("negotiate step: %w", err)
			}
			if token == nil && !more && leg > 0 {
				break
			}
		}
		return nil, fmt.Errorf("%w after %d attempts", ErrNegotiateFailed, maxLegs)
	})
}

func drain(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func withToken(req *http.Request, body, token []byte) *http.Request {
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	if token != nil {
		out.Header.Set("Authorization", "Negotiate "+base64.StdEncoding.EncodeToString(token))
	}
	return out
}

// parseChallenge extracts the server token from a WWW-Authenticate value.
// A bare "Negotiate" yields a nil token; an undecodable one is ignored.
func parseChallenge(header string) ([]byte, bool) {
	scheme, param, _ := strings.Cut(strings.TrimSpace(header), " ")
	if !strings.EqualFold(scheme, "negotiate") {
		return nil, false
	}
	token, err := base64.StdEncoding.DecodeString(strings.TrimSpace(param))
	if err != nil || len(token) == 0 {
		return nil, true
	}
	return token, true
}
