package signal

import "github.com/dkeye/Vision/internal/domain"

func (ctl *Controller) handlePing(c *WsSignalConn) {
	ctl.sendEnvelope(c, domain.Envelope{Type: domain.KindPong})
}
