package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
)

func (ctl *Controller) handleJoin(pid domain.PeerID, c *WsSignalConn, env domain.Envelope) {
	if env.Room == "" {
		ctl.sendEnvelope(c, domain.Envelope{Type: domain.KindRoomFull, Payload: errPayload("empty room id")})
		return
	}
	if !ctl.limiter.Allow(pid) {
		log.Warn().Str("module", "signal").Str("peer", string(pid)).Msg("join rate limited")
		return
	}

	existing, err := ctl.Hub.Join(pid, env.Room)
	if errors.Is(err, core.ErrRoomFull) {
		log.Info().Str("module", "signal").Str("peer", string(pid)).Str("room", string(env.Room)).Msg("room full")
		ctl.sendEnvelope(c, domain.Envelope{Type: domain.KindRoomFull, Room: env.Room})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("join failed")
		return
	}

	payload, err := json.Marshal(domain.RoomUsersPayload{Users: existing})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal room-users")
		return
	}
	ctl.sendEnvelope(c, domain.Envelope{
		Type:    domain.KindRoomUsers,
		Room:    env.Room,
		Payload: payload,
	})
}

// handleLeave removes the peer from its room without dropping the
// websocket; the peer may join another room on the same connection.
func (ctl *Controller) handleLeave(pid domain.PeerID, c *WsSignalConn) {
	log.Info().Str("module", "signal").Str("peer", string(pid)).Msg("leave")
	ctl.Hub.Leave(pid)
	ctl.sendEnvelope(c, domain.Envelope{Type: domain.KindLeft})
}

func errPayload(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}
