package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/dkeye/Vision/internal/secret"
)

type captureTransport struct {
	kind    domain.Kind
	payload json.RawMessage
}

func (c *captureTransport) Relay(kind domain.Kind, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.kind = kind
	c.payload = b
	return nil
}

func TestSendOpenRoundTrip(t *testing.T) {
	tr := &captureTransport{}
	sender := NewMessenger("abc123", tr)
	receiver := NewMessenger("abc123", tr)

	sent, err := sender.Send(SubtypeText, "hi there")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if tr.kind != domain.KindChatMessage {
		t.Fatalf("relayed kind=%s, want chat-message", tr.kind)
	}

	got, err := receiver.Open(tr.payload)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Body != "hi there" || got.Subtype != SubtypeText || got.ID != sent.ID {
		t.Fatalf("got %+v, want body/subtype/id of the sent message", got)
	}
}

func TestBodyIsNotOnTheWire(t *testing.T) {
	tr := &captureTransport{}
	m := NewMessenger("abc123", tr)
	if _, err := m.Send(SubtypeText, "plaintext-marker"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(tr.payload, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if data, _ := wire["data"].(string); data == "plaintext-marker" {
		t.Fatal("body left the messenger unencrypted")
	}
}

func TestOpenWrongRoomDrops(t *testing.T) {
	tr := &captureTransport{}
	if _, err := NewMessenger("room-a", tr).Send(SubtypeText, "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := NewMessenger("room-b", tr).Open(tr.payload); !errors.Is(err, secret.ErrDecrypt) {
		t.Fatalf("err=%v, want ErrDecrypt", err)
	}
}
