// Package connection defines the message channel to the mirror.
//
// A Channel carries decoded wire objects in both directions. It does not
// interpret them; the session does. Implementations live in subpackages.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/surrealdb/surrealmirror/pkg/constants"
)

// Channel is one established connection to the mirror.
//
// Receive and Send may be called from different goroutines, but each from
// one goroutine at a time.
type Channel interface {
	// Receive blocks until the next message arrives, ctx is done or the
	// connection is lost. A frame that does not decode to an object is
	// reported as constants.ErrProtocolViolation.
	Receive(ctx context.Context) (map[string]any, error)
	Send(ctx context.Context, msg map[string]any) error
	// Close sends a close frame and releases the connection. It is safe to
	// call more than once.
	Close(ctx context.Context) error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, cfg *Config) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg *Config) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, cfg *Config) (Channel, error) {
	return f(ctx, cfg)
}

// HandshakeError classifies a failed upgrade by the HTTP status the mirror
// answered with. status is 0 when no response was received.
func HandshakeError(status int, cause error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %w", constants.ErrAuthorization, status, cause)
	case 0:
		return fmt.Errorf("%w: %w", constants.ErrHandshake, cause)
	default:
		return fmt.Errorf("%w: status %d: %w", constants.ErrHandshake, status, cause)
	}
}

// IsClosed reports whether err means the channel is gone.
func IsClosed(err error) bool {
	return errors.Is(err, constants.ErrConnectionLost) || errors.Is(err, constants.ErrClosed)
}
