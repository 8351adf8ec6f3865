package app

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hub is the relay service: it tracks room membership and forwards
// negotiation and chat frames between the two members of a room. It
// never inspects payloads and keeps all state in memory only.
type Hub struct {
	roomCap int

	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
	peers map[domain.PeerID]*peerEntry
}

type peerEntry struct {
	conn core.SignalConnection
	room domain.RoomID
}

func NewHub(roomCap int) *Hub {
	if roomCap <= 0 {
		roomCap = domain.MaxRoomMembers
	}
	return &Hub{
		roomCap: roomCap,
		rooms:   make(map[domain.RoomID]*core.Room),
		peers:   make(map[domain.PeerID]*peerEntry),
	}
}

// Bind registers a connected peer session. The adapter owns conn.
func (h *Hub) Bind(pid domain.PeerID, conn core.SignalConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[pid] = &peerEntry{conn: conn}
	log.Info().Str("module", "app.hub").Str("peer", string(pid)).Msg("session bound")
}

// Unbind forgets a peer session. Leave must have run first so room
// state is already consistent.
func (h *Hub) Unbind(pid domain.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, pid)
	log.Info().Str("module", "app.hub").Str("peer", string(pid)).Msg("session unbound")
}

// Join adds the peer to the room, creating it on first join, and
// returns the prior membership (never including the joiner). Every
// prior member is notified with a user-joined envelope. A peer already
// in another room leaves it first.
func (h *Hub) Join(pid domain.PeerID, roomID domain.RoomID) ([]domain.PeerID, error) {
	h.Leave(pid)

	h.mu.Lock()
	entry, ok := h.peers[pid]
	if !ok {
		h.mu.Unlock()
		return nil, ErrUnknownPeer
	}
	room, ok := h.rooms[roomID]
	if !ok {
		room = core.NewRoom(roomID, h.roomCap)
		h.rooms[roomID] = room
	}
	existing := room.Others(pid)
	if err := room.Add(pid, entry.conn); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	entry.room = roomID
	h.mu.Unlock()

	log.Info().Str("module", "app.hub").Str("peer", string(pid)).Str("room", string(roomID)).Int("existing", len(existing)).Msg("joined room")

	h.notify(room, pid, domain.KindUserJoined)
	return existing, nil
}

// Relay forwards an offer, answer or ice-candidate payload to the other
// room members, stamped with the sender id. A relay into a room the
// sender is alone in (or not in at all) is a silent no-op.
func (h *Hub) Relay(from domain.PeerID, roomID domain.RoomID, kind domain.Kind, payload json.RawMessage) {
	if !kind.Negotiation() {
		log.Warn().Str("module", "app.hub").Str("kind", string(kind)).Msg("refusing to relay non-negotiation kind")
		return
	}
	h.forward(from, roomID, kind, payload)
}

// RelayMessage forwards an opaque application payload (chat and its
// subtypes) to the other room members, uninterpreted.
func (h *Hub) RelayMessage(from domain.PeerID, roomID domain.RoomID, payload json.RawMessage) {
	h.forward(from, roomID, domain.KindChatMessage, payload)
}

func (h *Hub) forward(from domain.PeerID, roomID domain.RoomID, kind domain.Kind, payload json.RawMessage) {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	frame, err := json.Marshal(domain.Envelope{Type: kind, Room: roomID, From: from, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("marshal relay frame")
		return
	}
	sent := room.Fanout(from, frame)
	log.Debug().Str("module", "app.hub").Str("kind", string(kind)).Str("from", string(from)).Int("sent", sent).Msg("relayed")
}

// Leave removes the peer from its room, destroys the room when it
// empties, and notifies the remaining member. Safe to call for peers
// that never joined; runs on explicit leave and transport disconnect.
func (h *Hub) Leave(pid domain.PeerID) {
	h.mu.Lock()
	entry, ok := h.peers[pid]
	if !ok || entry.room == "" {
		h.mu.Unlock()
		return
	}
	roomID := entry.room
	entry.room = ""
	room := h.rooms[roomID]
	if room == nil {
		h.mu.Unlock()
		return
	}
	empty := room.Remove(pid)
	if empty {
		delete(h.rooms, roomID)
		log.Info().Str("module", "app.hub").Str("room", string(roomID)).Msg("room destroyed")
	}
	h.mu.Unlock()

	if !empty {
		h.notify(room, pid, domain.KindUserLeft)
	}
}

// RoomOf reports the room the peer is currently in.
func (h *Hub) RoomOf(pid domain.PeerID) (domain.RoomID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.peers[pid]
	if !ok || entry.room == "" {
		return "", false
	}
	return entry.room, true
}

// Rooms lists current rooms for the observability endpoint.
func (h *Hub) Rooms() []core.RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

func (h *Hub) notify(room *core.Room, about domain.PeerID, kind domain.Kind) {
	frame, err := json.Marshal(domain.Envelope{Type: kind, Room: room.ID(), From: about})
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("marshal notify frame")
		return
	}
	room.Fanout(about, frame)
}
