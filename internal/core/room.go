package core

import (
	"errors"
	"sync"

	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrRoomFull = errors.New("room full")

// Room is a threadsafe in-memory member set. It never closes
// adapter-owned connections.
type Room struct {
	id  domain.RoomID
	cap int

	mu      sync.RWMutex
	members map[domain.PeerID]SignalConnection
}

func NewRoom(id domain.RoomID, cap int) *Room {
	return &Room{
		id:      id,
		cap:     cap,
		members: make(map[domain.PeerID]SignalConnection),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Add registers a member, enforcing the room capacity. Re-adding an
// existing member just refreshes its connection.
func (r *Room) Add(pid domain.PeerID, conn SignalConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[pid]; !ok && r.cap > 0 && len(r.members) >= r.cap {
		return ErrRoomFull
	}
	r.members[pid] = conn
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(pid)).Msg("member added")
	return nil
}

// Remove drops a member and reports whether the room is now empty.
func (r *Room) Remove(pid domain.PeerID) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, pid)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(pid)).Msg("member removed")
	return len(r.members) == 0
}

// Others returns every member except the given one.
func (r *Room) Others(pid domain.PeerID) []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.members))
	for id := range r.members {
		if id != pid {
			out = append(out, id)
		}
	}
	return out
}

// Fanout delivers a frame to every member except the sender.
// Delivery is best-effort: a failed send is logged and skipped.
func (r *Room) Fanout(from domain.PeerID, data Frame) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for pid, conn := range r.members {
		if pid == from {
			continue
		}
		if err := conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(pid)).Msg("fanout dropped")
			continue
		}
		sent++
	}
	return sent
}
