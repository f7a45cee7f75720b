package winrs

import (
	"context"

	"github.com/smnsjas/go-winops/wsman"
)

// Transport is the subset of wsman.Client a Shell drives.
type Transport interface {
	Create(ctx context.Context, opts wsman.ShellOptions) (*wsman.EndpointReference, error)
	Command(ctx context.Context, epr *wsman.EndpointReference, executable string, args ...string) (string, error)
	Receive(ctx context.Context, epr *wsman.EndpointReference, commandID string) (*wsman.ReceiveResult, error)
	Signal(ctx context.Context, epr *wsman.EndpointReference, commandID, code string) error
	Delete(ctx context.Context, epr *wsman.EndpointReference) error
}

var _ Transport = (*wsman.Client)(nil)
