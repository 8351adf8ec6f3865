package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/dkeye/Vision/internal/secret"
)

// Transport is the slice of the signaler the messenger needs.
type Transport interface {
	Relay(kind domain.Kind, payload any) error
}

// Messenger seals outgoing chat messages for one room and opens
// incoming ones. Sealing failures surface to the sender; opening
// failures are the caller's to log and drop.
type Messenger struct {
	room domain.RoomID
	sig  Transport
}

func NewMessenger(room domain.RoomID, sig Transport) *Messenger {
	return &Messenger{room: room, sig: sig}
}

// Send seals body under the room key and relays it.
func (m *Messenger) Send(subtype Subtype, body string) (*Message, error) {
	data, err := secret.Encrypt(body, m.room)
	if err != nil {
		return nil, fmt.Errorf("seal message: %w", err)
	}
	msg := &Message{
		ID:      uuid.NewString(),
		Subtype: subtype,
		Body:    body,
		SentAt:  time.Now(),
	}
	wire := sealedMessage{
		ID:      msg.ID,
		Subtype: msg.Subtype,
		Data:    data,
		SentAt:  msg.SentAt.Unix(),
	}
	if err := m.sig.Relay(domain.KindChatMessage, wire); err != nil {
		return nil, fmt.Errorf("relay message: %w", err)
	}
	return msg, nil
}

// Open decodes and decrypts a chat payload received from the relay.
func (m *Messenger) Open(payload json.RawMessage) (*Message, error) {
	var wire sealedMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("bad chat payload: %w", err)
	}
	body, err := secret.Decrypt(wire.Data, m.room)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:      wire.ID,
		Subtype: wire.Subtype,
		Body:    body,
		SentAt:  time.Unix(wire.SentAt, 0),
	}, nil
}
