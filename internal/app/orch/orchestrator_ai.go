package orch

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/app/bridge"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
	"github.com/covenantmedia/pulpit/internal/metrics"
)

// OnTranscript turns one finalized transcript line into a bridge
// submission. Lines for sessions that are not Active are dropped.
func (o *Orchestrator) OnTranscript(sid domain.SessionID, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	sess, err := o.Registry.Get(sid)
	if err != nil {
		return
	}
	if sess.State() != domain.StateActive {
		log.Debug().Str("module", "app.orch").Str("sid", string(sid)).
			Msg("dropping transcript for inactive session")
		return
	}
	// The id is pended before the bridge sees the request: a worker may
	// complete it the moment it is queued, and OnResult only delivers
	// request ids the session already holds.
	rid := domain.NewRequestID()
	if !o.Registry.AppendPending(sid, rid) {
		// Closed between the state check and the reservation.
		return
	}
	err = o.Bridge.Submit(sid, rid, core.Prompt{
		System: sess.Persona.SystemPrompt,
		User:   line,
	})
	if err != nil {
		o.Registry.Unpend(sid, rid)
		if errors.Is(err, core.ErrQueueFull) {
			o.onQueueFull(sid)
			return
		}
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Msg("bridge submit failed")
		return
	}
	o.resetStreak(sid)
}

// onQueueFull applies the backpressure policy for one refused prompt.
func (o *Orchestrator) onQueueFull(sid domain.SessionID) {
	streak := o.bumpStreak(sid)
	action := app.NotifyClient
	if o.Policy != nil {
		action = o.Policy.OnQueueFull(sid, streak)
	}
	switch action {
	case app.NotifyClient:
		o.notifyError(sid, "queue_full", "assistant is overloaded, try again shortly", "")
	case app.KickSession:
		log.Warn().Str("module", "app.orch").Str("sid", string(sid)).
			Int("streak", streak).Msg("kicking session flooding a full queue")
		o.CloseSession(sid, domain.CloseFlood)
	case app.DropPrompt:
		log.Debug().Str("module", "app.orch").Str("sid", string(sid)).
			Int("streak", streak).Msg("dropped prompt, bridge queue full")
	}
}

// OnResult correlates one bridge result back to its session. Delivery
// happens only when the registry still holds the request id for an
// Active session; everything else is counted and dropped.
func (o *Orchestrator) OnResult(res bridge.Result) {
	delivered := o.Registry.Resolve(res.SessionID, res.ID)
	metrics.RecordResult(delivered)
	if !delivered {
		log.Info().Str("module", "app.orch").Str("sid", string(res.SessionID)).
			Str("rid", string(res.ID)).Msg("discarded stale result")
		return
	}
	if res.Err != nil {
		// A failed completion is not a session failure; the session stays
		// up and the client hears about this one request.
		o.notifyError(res.SessionID, "ai_failed", "completion failed", res.ID)
		return
	}
	o.send(res.SessionID, core.Frame{
		SessionID: res.SessionID,
		Kind:      core.KindAIResult,
		Payload:   core.Payload(core.ResultPayload{RequestID: res.ID, Text: res.Text}),
	})
}
