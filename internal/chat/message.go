// Package chat frames the application messages that ride the relay's
// chat-message channel. Bodies are sealed end to end; the relay and
// the negotiation engine treat them as opaque blobs.
package chat

import "time"

// Subtype distinguishes application message kinds. The relay never
// sees these: they live inside the opaque payload.
type Subtype string

const (
	SubtypeText     Subtype = "text"
	SubtypeFile     Subtype = "file"
	SubtypeImage    Subtype = "image"
	SubtypeVoice    Subtype = "voice"
	SubtypeReaction Subtype = "reaction"
	SubtypeEdit     Subtype = "edit"
	SubtypeDelete   Subtype = "delete"
	SubtypeTyping   Subtype = "typing"
	SubtypeRead     Subtype = "message-read"
)

// Message is an opened chat message.
type Message struct {
	ID      string
	Subtype Subtype
	Body    string
	SentAt  time.Time
}

// sealedMessage is the wire form: everything in the clear except the
// body, which is ciphertext under the room key.
type sealedMessage struct {
	ID      string  `json:"id"`
	Subtype Subtype `json:"subtype"`
	Data    string  `json:"data"`
	SentAt  int64   `json:"sent_at"`
}
