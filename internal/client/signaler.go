// Package client implements call.Signaler over a websocket connection
// to the relay server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Vision/internal/call"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrSignalerClosed = errors.New("signaler closed")

// Signaler speaks the relay's envelope protocol. Join responses are
// routed to the caller waiting in Join; everything else lands on the
// Events channel for the engine's run loop.
type Signaler struct {
	conn *websocket.Conn

	mu   sync.Mutex
	room domain.RoomID

	events   chan domain.Envelope
	outgoing chan domain.Envelope
	joinCh   chan domain.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

var _ call.Signaler = (*Signaler)(nil)

// Dial connects to the relay's signal endpoint.
func Dial(ctx context.Context, serverURL string) (*Signaler, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	s := &Signaler{
		conn:     conn,
		events:   make(chan domain.Envelope, 16),
		outgoing: make(chan domain.Envelope, 16),
		joinCh:   make(chan domain.Envelope, 1),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.readPump()
	go s.writePump()
	return s, nil
}

func (s *Signaler) readPump() {
	defer func() {
		_ = s.conn.Close()
		close(s.events)
	}()
	for {
		var env domain.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			log.Info().Err(err).Str("module", "client.signaler").Msg("read pump stopped")
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case domain.KindRoomUsers, domain.KindRoomFull:
			select {
			case s.joinCh <- env:
			default:
			}
		case domain.KindPong, domain.KindLeft:
			// control acks, nothing to deliver
		default:
			select {
			case s.events <- env:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Signaler) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case env := <-s.outgoing:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				log.Warn().Err(err).Str("module", "client.signaler").Msg("write pump stopped")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Join enters the room and waits for the relay's membership response.
func (s *Signaler) Join(ctx context.Context, room domain.RoomID) ([]domain.PeerID, error) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	if err := s.enqueue(domain.Envelope{Type: domain.KindJoinRoom, Room: room}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSignalerClosed
	case env := <-s.joinCh:
		if env.Type == domain.KindRoomFull {
			return nil, core.ErrRoomFull
		}
		var p domain.RoomUsersPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad room-users payload: %w", err)
		}
		return p.Users, nil
	}
}

// Relay marshals payload and forwards it into the current room.
func (s *Signaler) Relay(kind domain.Kind, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	return s.enqueue(domain.Envelope{Type: kind, Room: room, Payload: b})
}

func (s *Signaler) Events() <-chan domain.Envelope { return s.events }

// Leave exits the current room, keeping the transport usable.
func (s *Signaler) Leave() error {
	s.mu.Lock()
	s.room = ""
	s.mu.Unlock()
	return s.enqueue(domain.Envelope{Type: domain.KindLeave})
}

func (s *Signaler) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Signaler) enqueue(env domain.Envelope) error {
	select {
	case <-s.done:
		return ErrSignalerClosed
	case s.outgoing <- env:
		return nil
	}
}
