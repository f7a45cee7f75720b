package wsman

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smnsjas/go-winops/wsman/transport"
)

const (
	defaultMaxEnvelopeSize  = "153600"
	defaultOperationTimeout = "PT60S"
	defaultLocale           = "en-US"

	// receiveTimeout is kept short so a long-running command is polled
	// instead of holding one HTTP request open.
	receiveTimeout = "PT20S"
)

// Client issues WinRS shell operations against one WinRM endpoint.
// All requests from a Client share a WSMan session ID.
type Client struct {
	endpoint  string
	transport *transport.HTTPTransport
	sessionID string
}

// NewClient creates a client for endpoint, e.g. http://host:5985/wsman.
func NewClient(endpoint string, tr *transport.HTTPTransport) *Client {
	return &Client{
		endpoint:  endpoint,
		transport: tr,
		sessionID: newMessageID(),
	}
}

// Endpoint returns the WinRM endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ShellOptions configures a WinRS shell at creation time.
type ShellOptions struct {
	// IdleTimeout is an ISO 8601 duration after which the server may
	// reclaim an idle shell.
	IdleTimeout string

	// Codepage sets the console codepage (65001 for UTF-8). Zero leaves
	// the server default.
	Codepage int

	// NoProfile skips loading the user profile.
	NoProfile bool
}

// Create opens a cmd shell and returns its endpoint reference.
func (c *Client) Create(ctx context.Context, opts ShellOptions) (*EndpointReference, error) {
	var options []option
	if opts.NoProfile {
		options = append(options, option{Name: "WINRS_NOPROFILE", Value: "TRUE"})
	}
	if opts.Codepage > 0 {
		options = append(options, option{Name: "WINRS_CODEPAGE", Value: strconv.Itoa(opts.Codepage)})
	}

	resp, err := c.call(ctx, request{
		action:      ActionCreate,
		resourceURI: ResourceURIWinRS,
		options:     options,
		payload: shellBody{
			IdleTimeOut:   opts.IdleTimeout,
			InputStreams:  "stdin",
			OutputStreams: "stdout stderr",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create shell: %w", err)
	}

	epr := resp.endpoint()
	if epr.ShellID() == "" {
		return nil, errors.New("create shell: response carried no ShellId")
	}
	return epr, nil
}

// Command starts executable with args in the shell and returns the
// command ID. cmd.exe is bypassed, so args reach the process verbatim.
func (c *Client) Command(ctx context.Context, epr *EndpointReference, executable string, args ...string) (string, error) {
	resp, err := c.call(ctx, request{
		action:      ActionCommand,
		resourceURI: epr.ResourceURI,
		selectors:   epr.Selectors,
		options: []option{
			{Name: "WINRS_CONSOLEMODE_STDIN", Value: "TRUE"},
			{Name: "WINRS_SKIP_CMD_SHELL", Value: "TRUE"},
		},
		payload: commandBody{Command: executable, Arguments: args},
	})
	if err != nil {
		return "", fmt.Errorf("create command: %w", err)
	}
	if resp.Body.CommandID == "" {
		return "", errors.New("create command: response carried no CommandId")
	}
	return resp.Body.CommandID, nil
}

// Receive collects pending stdout and stderr of a command. When the
// server's OperationTimeout expires first the result is empty and not
// done, and the caller polls again.
func (c *Client) Receive(ctx context.Context, epr *EndpointReference, commandID string) (*ReceiveResult, error) {
	var body receiveBody
	body.Desired.CommandID = commandID
	body.Desired.Streams = "stdout stderr"

	resp, err := c.call(ctx, request{
		action:      ActionReceive,
		resourceURI: epr.ResourceURI,
		timeout:     receiveTimeout,
		selectors:   epr.Selectors,
		options:     []option{{Name: "WSMAN_CMDSHELL_OPTION_KEEPALIVE", Value: "TRUE"}},
		payload:     body,
	})
	switch {
	case errors.Is(err, ErrOperationTimeout):
		return &ReceiveResult{}, nil
	case err != nil:
		return nil, fmt.Errorf("receive: %w", err)
	}
	return resp.received()
}

// Signal sends a signal code such as SignalTerminate to a command.
func (c *Client) Signal(ctx context.Context, epr *EndpointReference, commandID, code string) error {
	_, err := c.call(ctx, request{
		action:      ActionSignal,
		resourceURI: epr.ResourceURI,
		selectors:   epr.Selectors,
		payload:     signalBody{CommandID: commandID, Code: code},
	})
	if err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	return nil
}

// Delete closes a shell.
func (c *Client) Delete(ctx context.Context, epr *EndpointReference) error {
	_, err := c.call(ctx, request{
		action:      ActionDelete,
		resourceURI: epr.ResourceURI,
		selectors:   epr.Selectors,
	})
	if err != nil {
		return fmt.Errorf("delete shell: %w", err)
	}
	return nil
}

// CloseIdleConnections drops kept-alive connections, so the next request
// authenticates again.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// call sends r and decodes the reply. SOAP faults come back as *Fault
// whether WinRM sent them with HTTP 500 or 200.
func (c *Client) call(ctx context.Context, r request) (*response, error) {
	body, err := c.encode(r)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	reply, err := c.transport.Post(ctx, c.endpoint, body)
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) {
			var fault *Fault
			if _, ferr := decode(statusErr.Body); errors.As(ferr, &fault) {
				return nil, fmt.Errorf("wsman: %w", fault)
			}
		}
		return nil, err
	}

	resp, err := decode(reply)
	var fault *Fault
	switch {
	case errors.As(err, &fault):
		return nil, fmt.Errorf("wsman: %w", fault)
	case err != nil:
		return nil, fmt.Errorf("parse %s response: %w", shortAction(r.action), err)
	}
	return resp, nil
}

func shortAction(action string) string {
	return action[strings.LastIndex(action, "/")+1:]
}
