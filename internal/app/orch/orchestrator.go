// Package orch composes the registry, media, signaling and the AI bridge
// into session flows. The orchestrator holds no session state of its own
// beyond the per-session signaling link used to route frames back.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/app"
	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
	"github.com/covenantmedia/pulpit/internal/metrics"
)

// MediaFactory builds the media connection for a new session. Injected so
// the orchestrator stays out of transport construction.
type MediaFactory func(sid domain.SessionID) (core.MediaConnection, error)

// Submitter is the bridge surface the orchestrator needs.
type Submitter interface {
	Submit(sid domain.SessionID, rid domain.RequestID, p core.Prompt) error
}

// link is transient correlation state: the signaling connection frames go
// out on, and the consecutive queue-full streak for the session.
type link struct {
	conn   core.SignalConnection
	streak int
}

type Orchestrator struct {
	Registry *app.Registry
	Bridge   Submitter
	Recorder core.Recorder
	Policy   app.Policy
	Media    MediaFactory

	// EvictionGrace is how long a Closed session stays visible in the
	// registry before it is removed.
	EvictionGrace time.Duration

	mu    sync.Mutex
	links map[domain.SessionID]*link
}

func (o *Orchestrator) trackLink(sid domain.SessionID, conn core.SignalConnection) {
	o.mu.Lock()
	if o.links == nil {
		o.links = make(map[domain.SessionID]*link)
	}
	o.links[sid] = &link{conn: conn}
	o.mu.Unlock()
}

func (o *Orchestrator) dropLink(sid domain.SessionID) {
	o.mu.Lock()
	delete(o.links, sid)
	o.mu.Unlock()
}

func (o *Orchestrator) connOf(sid domain.SessionID) core.SignalConnection {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.links[sid]; ok {
		return l.conn
	}
	return nil
}

// bumpStreak returns the new consecutive queue-full count for sid.
func (o *Orchestrator) bumpStreak(sid domain.SessionID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.links[sid]
	if !ok {
		return 0
	}
	l.streak++
	return l.streak
}

func (o *Orchestrator) resetStreak(sid domain.SessionID) {
	o.mu.Lock()
	if l, ok := o.links[sid]; ok {
		l.streak = 0
	}
	o.mu.Unlock()
}

// send pushes one frame at the session's signaling connection. Outbound
// frames are droppable; a dead or slow channel never blocks the caller.
func (o *Orchestrator) send(sid domain.SessionID, f core.Frame) {
	conn := o.connOf(sid)
	if conn == nil {
		log.Debug().Str("module", "app.orch").Str("sid", string(sid)).
			Str("kind", string(f.Kind)).Msg("no signaling channel for frame")
		return
	}
	if err := conn.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).
			Str("kind", string(f.Kind)).Msg("dropped outbound frame")
	}
}

func (o *Orchestrator) notifyError(sid domain.SessionID, code, msg string, rid domain.RequestID) {
	o.send(sid, core.Frame{
		SessionID: sid,
		Kind:      core.KindError,
		Payload:   core.Payload(core.ErrorPayload{Code: code, Message: msg, RequestID: rid}),
	})
}

// CloseSession drives teardown through Closing into Closed. Racing close
// paths are fine: only the caller that lands Closed does the summary and
// eviction bookkeeping.
func (o *Orchestrator) CloseSession(sid domain.SessionID, reason domain.CloseReason) {
	if _, err := o.Registry.Get(sid); err != nil {
		return
	}
	o.Registry.SetReason(sid, reason)
	if err := o.Registry.Transition(sid, domain.StateClosing); err != nil {
		// A concurrent closer got past Closing first.
		return
	}
	if err := o.Registry.Transition(sid, domain.StateClosed); err != nil {
		return
	}
	o.finishClose(sid)
}

// finishClose runs exactly once per session, by whichever caller landed
// the Closed transition.
func (o *Orchestrator) finishClose(sid domain.SessionID) {
	o.dropLink(sid)
	sum, err := o.Registry.Summary(sid)
	if err != nil {
		return
	}
	metrics.SessionClosed(string(sum.Reason))
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).
		Str("reason", string(sum.Reason)).
		Int("prompts", sum.Prompts).Int("delivered", sum.Delivered).Int("discarded", sum.Discarded).
		Msg("session closed")
	if o.Recorder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.Recorder.Record(ctx, sum); err != nil {
				log.Error().Err(err).Str("module", "app.orch").
					Str("sid", string(sid)).Msg("failed to record session summary")
			}
		}()
	}
	grace := o.EvictionGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	time.AfterFunc(grace, func() {
		if o.Registry.Evict(sid) {
			metrics.SessionEvicted()
		}
	})
}

// Shutdown force-closes everything the registry still holds and records
// the summaries inline, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	// The registry flush removes closed-but-not-yet-evicted sessions too;
	// their pending eviction timers will find nothing and skip the gauge.
	metrics.SessionsFlushed(o.Registry.Len())
	for _, sum := range o.Registry.Shutdown() {
		metrics.SessionClosed(string(sum.Reason))
		if o.Recorder == nil {
			continue
		}
		if err := o.Recorder.Record(ctx, sum); err != nil {
			log.Error().Err(err).Str("module", "app.orch").
				Str("sid", string(sum.SessionID)).Msg("failed to record session summary")
		}
	}
	o.mu.Lock()
	o.links = nil
	o.mu.Unlock()
}
