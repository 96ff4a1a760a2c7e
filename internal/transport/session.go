package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("transport: session closed")

// Session is one live connection to the pub/sub server.
//
// Subscribe and Publish may be called from any goroutine. Receive is
// intended for a single reader.
type Session interface {
	Subscribe(destination string) error
	Publish(destination string, payload json.RawMessage) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
