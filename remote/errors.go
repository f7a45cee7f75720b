package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/smnsjas/go-winops/wsman"
	"github.com/smnsjas/go-winops/wsman/auth"
	"github.com/smnsjas/go-winops/wsman/transport"
)

// Sentinel errors for remote operations. Results and returned errors wrap
// one of them so callers can use errors.Is.
var (
	// ErrUnreachable indicates no management port answered.
	ErrUnreachable = errors.New("remote: host unreachable")

	// ErrAuthentication indicates the host answered but rejected the credentials.
	ErrAuthentication = errors.New("remote: authentication failed")

	// ErrTimeout indicates the remote call did not finish in time.
	ErrTimeout = errors.New("remote: operation timed out")

	// ErrTransfer indicates a file transfer could not be completed.
	ErrTransfer = errors.New("remote: file transfer failed")

	// ErrNotConnected indicates an operation needed a connected target.
	ErrNotConnected = errors.New("remote: not connected")

	// ErrPayloadTooLarge indicates the encoded command would exceed the
	// Windows command-line limit.
	ErrPayloadTooLarge = errors.New("remote: payload too large for a single command")
)

// classify maps a transport-level failure onto the sentinel taxonomy.
// Errors that fit no category are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrUnreachable, ErrAuthentication, ErrTimeout, ErrTransfer, ErrPayloadTooLarge} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	if errors.Is(err, transport.ErrUnauthorized) ||
		errors.Is(err, transport.ErrForbidden) ||
		errors.Is(err, auth.ErrNegotiateFailed) ||
		errors.Is(err, wsman.ErrAccessDenied) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "connection reset"):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case strings.Contains(msg, "access is denied"),
		strings.Contains(msg, "logon failure"),
		strings.Contains(msg, "the user name or password is incorrect"):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return err
}
