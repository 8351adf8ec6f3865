package call

import (
	"context"
	"errors"

	"github.com/dkeye/Vision/internal/domain"
)

var ErrClosed = errors.New("engine closed")

// Signaler is the engine's pipe to the relay. The engine owns its
// signaler for exactly one call and closes it during teardown.
type Signaler interface {
	// Join enters the room and returns the peers already in it.
	Join(ctx context.Context, room domain.RoomID) ([]domain.PeerID, error)
	// Relay forwards a negotiation or chat payload to the other peer.
	Relay(kind domain.Kind, payload any) error
	// Events yields envelopes arriving from the relay. The channel is
	// closed when the underlying transport goes away.
	Events() <-chan domain.Envelope
	// Leave exits the current room without dropping the transport.
	Leave() error
	Close() error
}
