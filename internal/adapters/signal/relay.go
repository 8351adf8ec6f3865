package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Vision/internal/domain"
)

// handleRelay forwards offer/answer/ice-candidate frames. The room on
// the envelope wins; a peer that omits it relays into its current room.
func (ctl *Controller) handleRelay(pid domain.PeerID, env domain.Envelope) {
	room := env.Room
	if room == "" {
		var ok bool
		if room, ok = ctl.Hub.RoomOf(pid); !ok {
			log.Warn().Str("module", "signal").Str("peer", string(pid)).Str("kind", string(env.Type)).Msg("relay without room")
			return
		}
	}
	ctl.Hub.Relay(pid, room, env.Type, env.Payload)
}

func (ctl *Controller) handleChat(pid domain.PeerID, env domain.Envelope) {
	room := env.Room
	if room == "" {
		var ok bool
		if room, ok = ctl.Hub.RoomOf(pid); !ok {
			return
		}
	}
	ctl.Hub.RelayMessage(pid, room, env.Payload)
}
