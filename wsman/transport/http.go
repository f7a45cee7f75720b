package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUnauthorized means the listener rejected the credentials (401).
	ErrUnauthorized = errors.New("transport: authentication failed (401 Unauthorized)")

	// ErrForbidden means the account authenticated but may not use WinRM (403).
	ErrForbidden = errors.New("transport: access denied (403 Forbidden)")

	// ErrResponseTooLarge means a response exceeded MaxResponseSize.
	ErrResponseTooLarge = errors.New("transport: response too large")
)

const (
	// ContentTypeSOAP is the content type for SOAP 1.2 messages.
	ContentTypeSOAP = "application/soap+xml;charset=UTF-8"

	// DefaultTimeout bounds a single HTTP exchange. Receive calls block on
	// the server for up to the WSMan OperationTimeout, so this must exceed it.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps the body read from one response. WinRM's default
	// MaxEnvelopeSizekb is 500, so this is generous.
	MaxResponseSize = 16 << 20

	userAgent = "go-winops"

	// errorPreview bounds the body quoted in a StatusError message.
	errorPreview = 512
)

// StatusError reports an HTTP status of 400 or above other than 401/403.
// WinRM returns SOAP faults with status 500, so Body is kept for parsing.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > errorPreview {
		body = body[:errorPreview]
	}
	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, bytes.TrimSpace(body))
}

// RoundTripperWrapper decorates the base round tripper, typically with
// authentication. auth.Authenticator.Wrap satisfies it.
type RoundTripperWrapper func(base http.RoundTripper) http.RoundTripper

// HTTPTransport posts SOAP envelopes to a single WinRM listener.
//
// NTLM and Kerberos authenticate the TCP connection rather than each
// request, so the transport keeps one connection alive per host.
type HTTPTransport struct {
	client *http.Client
	base   *http.Transport
	logger *slog.Logger
	wrap   RoundTripperWrapper
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// NewHTTPTransport creates a transport with the given options.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     2,
		IdleConnTimeout:     30 * time.Second,
	}
	t := &HTTPTransport{
		client: &http.Client{Timeout: DefaultTimeout},
		base:   base,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.client.Transport = base
	if t.wrap != nil {
		t.client.Transport = t.wrap(base)
	}
	return t
}

// WithTimeout sets the per-exchange timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithLogger sets the logger used for transport warnings.
func WithLogger(logger *slog.Logger) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRoundTripper wraps the base transport, e.g. with an authenticator.
func WithRoundTripper(wrap RoundTripperWrapper) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.wrap = wrap
	}
}

// WithProxy sets the proxy. "" keeps the environment settings and
// "direct" disables proxying. An unparsable URL is logged and ignored.
func WithProxy(proxyURL string) HTTPTransportOption {
	return func(t *HTTPTransport) {
		switch proxyURL {
		case "":
			t.base.Proxy = http.ProxyFromEnvironment
		case "direct":
			t.base.Proxy = nil
		default:
			u, err := url.Parse(proxyURL)
			if err != nil || u.Host == "" {
				t.logger.Warn("ignoring invalid proxy URL", "proxy", proxyURL, "error", err)
				return
			}
			t.base.Proxy = http.ProxyURL(u)
		}
	}
}

// WithInsecureSkipVerify accepts any server certificate. Listeners on
// standalone hosts usually present a self-signed one.
func WithInsecureSkipVerify(skip bool) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if skip {
			t.logger.Warn("TLS certificate verification disabled")
		}
		t.base.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// Post sends one SOAP envelope and returns the response body.
func (t *HTTPTransport) Post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeSOAP)
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusForbidden:
		return nil, ErrForbidden
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, MaxResponseSize)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}

// CloseIdleConnections drops kept-alive connections, ending their
// authenticated context.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
