package orch

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
	"github.com/covenantmedia/pulpit/internal/metrics"
)

// OnOffer runs the whole session opening: registry entry, media handle,
// negotiation, answer frame. A failed negotiation closes the session and
// tells the client exactly once.
func (o *Orchestrator) OnOffer(ctx context.Context, conn core.SignalConnection, owner domain.Principal, offer core.OfferPayload) (domain.SessionID, error) {
	persona := domain.PersonaByName(offer.Persona)
	sess := o.Registry.Create(owner, persona)
	sid := sess.ID
	o.trackLink(sid, conn)
	metrics.SessionOpened()

	mc, err := o.Media(sid)
	if err != nil {
		o.failNegotiation(sid, err)
		return sid, err
	}
	o.BindMediaHandlers(mc, sess)
	if err := o.Registry.BindMedia(sid, mc); err != nil {
		// Torn down underneath us; the closer owns the cleanup, the
		// unbound handle is ours.
		mc.Close()
		return sid, err
	}
	if err := mc.Start(ctx); err != nil {
		o.failNegotiation(sid, err)
		return sid, err
	}
	answer, err := mc.Negotiate(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP})
	if err != nil {
		o.failNegotiation(sid, err)
		return sid, err
	}
	if err := o.Registry.Transition(sid, domain.StateActive); err != nil {
		return sid, err
	}
	o.send(sid, core.Frame{
		SessionID: sid,
		Kind:      core.KindAnswer,
		Payload:   core.Payload(core.AnswerPayload{SDP: answer.SDP}),
	})
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).
		Str("owner", owner.Subject).Str("persona", persona.Name).Msg("session active")
	return sid, nil
}

// failNegotiation tears the session down and reports the failure. The
// notice is tied to winning the Closed transition, so racing closers
// produce exactly one.
func (o *Orchestrator) failNegotiation(sid domain.SessionID, cause error) {
	log.Warn().Err(cause).Str("module", "app.orch").Str("sid", string(sid)).Msg("negotiation failed")
	o.Registry.SetReason(sid, domain.CloseNegotiation)
	if err := o.Registry.Transition(sid, domain.StateClosed); err != nil {
		return
	}
	o.notifyError(sid, "negotiation_failed", "media negotiation failed", "")
	o.finishClose(sid)
}

// BindMediaHandlers wires media callbacks into the orchestrator before
// the handle is started.
func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sess *app.Session) {
	sid := sess.ID
	mc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		o.send(sid, core.Frame{SessionID: sid, Kind: core.KindCandidate, Payload: core.Payload(cand)})
	})
	mc.OnTranscript(func(line string) {
		o.OnTranscript(sid, line)
	})
	mc.OnAudioFrame(func(_ *rtp.Packet) {
		if sess.State() == domain.StateActive {
			sess.CountMediaFrame()
		}
	})
	mc.OnClosed(func() {
		o.OnMediaDisconnect(sid)
	})
}

// OnCandidate applies a trickled remote candidate to the session's media.
func (o *Orchestrator) OnCandidate(sid domain.SessionID, cand webrtc.ICECandidateInit) {
	mc, err := o.Registry.Media(sid)
	if err != nil || mc == nil {
		log.Debug().Str("module", "app.orch").Str("sid", string(sid)).
			Msg("candidate for session without media")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Msg("failed to add remote candidate")
	}
}

// OnMediaDisconnect fires when the peer connection dies underneath an
// open session.
func (o *Orchestrator) OnMediaDisconnect(sid domain.SessionID) {
	o.CloseSession(sid, domain.CloseDisconnect)
}
