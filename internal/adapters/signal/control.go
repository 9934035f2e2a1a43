package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

func (ctl *SignalWSController) handlePing(c *wsSignalConn) {
	_ = c.TrySend(core.Frame{Kind: core.KindPong})
}

func (ctl *SignalWSController) handleClose(c *wsSignalConn, f core.Frame) {
	if !c.owns(f.SessionID) {
		log.Warn().Str("module", "signal").Str("sid", string(f.SessionID)).
			Msg("close for foreign session")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(f.SessionID)).Msg("client close")
	ctl.Orch.CloseSession(f.SessionID, domain.CloseByClient)
	c.forget(f.SessionID)
}
