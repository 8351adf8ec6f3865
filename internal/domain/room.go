// Package domain contains entity without logic, just meta-data
package domain

type (
	// RoomID is an opaque room identifier chosen by the peers.
	// No uniqueness is enforced beyond the room map itself.
	RoomID string

	// PeerID identifies one signaling session for its lifetime.
	PeerID string
)

// MaxRoomMembers caps a room at a single peer pair. The negotiation
// engine addresses "the other peer" implicitly, so a third member has
// no defined behavior and is rejected at join time.
const MaxRoomMembers = 2
