package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/core"
)

func (ctl *SignalWSController) handleOffer(ctx context.Context, c *wsSignalConn, f core.Frame) {
	var p core.OfferPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.SDP == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(c, "", "bad_payload", "malformed offer")
		return
	}

	sid, err := ctl.Orch.OnOffer(ctx, c, c.owner, p)
	if err != nil {
		// The orchestrator already told the client what went wrong.
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("offer failed")
		return
	}
	c.remember(sid)
}

func (ctl *SignalWSController) handleCandidate(c *wsSignalConn, f core.Frame) {
	if !c.owns(f.SessionID) {
		log.Warn().Str("module", "signal").Str("sid", string(f.SessionID)).
			Msg("candidate for foreign session")
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(f.Payload, &cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(c, f.SessionID, "bad_payload", "malformed candidate")
		return
	}
	ctl.Orch.OnCandidate(f.SessionID, cand)
}
