package core

import "github.com/dkeye/Vision/internal/domain"

// Frame is a raw signal payload handed to the transport verbatim.
type Frame []byte

// SignalConnection abstracts a peer's signaling transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}
