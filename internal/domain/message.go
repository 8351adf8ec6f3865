package domain

import "encoding/json"

// Kind is the wire message type of a signal envelope.
type Kind string

const (
	// peer -> relay
	KindJoinRoom Kind = "join-room"
	KindLeave    Kind = "leave"
	KindPing     Kind = "ping"

	// relay -> peer
	KindRoomUsers  Kind = "room-users"
	KindRoomFull   Kind = "room-full"
	KindUserJoined Kind = "user-joined"
	KindUserLeft   Kind = "user-left"
	KindLeft       Kind = "left"
	KindPong       Kind = "pong"

	// peer -> relay -> peer, payload forwarded verbatim
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindChatMessage  Kind = "chat-message"
)

// Negotiation reports whether the kind carries offer/answer/candidate
// payload the relay forwards without inspection.
func (k Kind) Negotiation() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Envelope is the frame every signal message travels in. Payload stays
// raw JSON end to end; the relay never decodes it.
type Envelope struct {
	Type    Kind            `json:"type"`
	Room    RoomID          `json:"room,omitempty"`
	From    PeerID          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomUsersPayload is the join response body: every peer already in the
// room, excluding the joiner itself.
type RoomUsersPayload struct {
	Users []PeerID `json:"users"`
}
