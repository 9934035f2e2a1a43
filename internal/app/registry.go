package app

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

// Session is the registry's aggregate for one live interaction. The media
// handle and pending request ids live here; everything mutable is guarded
// by mu, and all mutation goes through Registry methods.
type Session struct {
	ID      domain.SessionID
	Owner   domain.Principal
	Persona domain.Persona

	mu        sync.Mutex
	state     domain.SessionState
	media     core.MediaConnection
	pending   []domain.RequestID
	reason    domain.CloseReason
	createdAt time.Time
	closedAt  time.Time

	prompts   int
	delivered int
	discarded int

	mediaFrames atomic.Int64
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CountMediaFrame runs on the RTP hot path; no locks.
func (s *Session) CountMediaFrame() {
	s.mediaFrames.Add(1)
}

func (s *Session) infoLocked() domain.SessionInfo {
	return domain.SessionInfo{
		ID:        s.ID,
		Owner:     s.Owner.Subject,
		Persona:   s.Persona.Name,
		State:     s.state.String(),
		CreatedAt: s.createdAt,
		Prompts:   s.prompts,
		Delivered: s.delivered,
		Discarded: s.discarded,
		Pending:   len(s.pending),
	}
}

func (s *Session) summaryLocked() domain.SessionSummary {
	return domain.SessionSummary{
		SessionID:   s.ID,
		Owner:       s.Owner.Subject,
		Persona:     s.Persona.Name,
		StartedAt:   s.createdAt,
		EndedAt:     s.closedAt,
		Prompts:     s.prompts,
		Delivered:   s.delivered,
		Discarded:   s.discarded,
		MediaFrames: s.mediaFrames.Load(),
		Reason:      s.reason,
	}
}

// Registry is the single authoritative session table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*Session),
	}
}

func (r *Registry) Create(owner domain.Principal, persona domain.Persona) *Session {
	s := &Session{
		ID:        domain.SessionID(uuid.NewString()),
		Owner:     owner,
		Persona:   persona,
		state:     domain.StateNegotiating,
		createdAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID)).
		Str("owner", owner.Subject).Str("persona", persona.Name).Msg("created session")
	return s
}

func (r *Registry) Get(sid domain.SessionID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[sid]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("session %s: %w", sid, core.ErrNotFound)
}

// Transition moves sid strictly forward. Reaching Closed releases the
// media handle; the handle is closed outside the session lock because
// its close callback re-enters the registry.
func (r *Registry) Transition(sid domain.SessionID, target domain.SessionState) error {
	s, err := r.Get(sid)
	if err != nil {
		return err
	}
	var toClose core.MediaConnection
	s.mu.Lock()
	from := s.state
	if !from.CanAdvanceTo(target) {
		s.mu.Unlock()
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).
			Str("from", from.String()).Str("to", target.String()).Msg("rejected transition")
		return fmt.Errorf("%s -> %s: %w", from, target, core.ErrInvalidTransition)
	}
	s.state = target
	if target == domain.StateClosed {
		s.closedAt = time.Now()
		toClose, s.media = s.media, nil
	}
	s.mu.Unlock()
	if toClose != nil {
		toClose.Close()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).
		Str("from", from.String()).Str("to", target.String()).Msg("session transition")
	return nil
}

// BindMedia attaches the negotiation-phase media handle.
func (r *Registry) BindMedia(sid domain.SessionID, media core.MediaConnection) error {
	s, err := r.Get(sid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateNegotiating {
		return fmt.Errorf("bind media on %s session: %w", s.state, core.ErrInvalidTransition)
	}
	s.media = media
	return nil
}

// Media returns the current handle, nil once released.
func (r *Registry) Media(sid domain.SessionID) (core.MediaConnection, error) {
	s, err := r.Get(sid)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media, nil
}

// SetReason records why the session is going down; the first reason wins.
func (r *Registry) SetReason(sid domain.SessionID, reason domain.CloseReason) {
	s, err := r.Get(sid)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
}

// AppendPending records one issued requestId, in issue order. Returns
// false when the session is unknown or no longer Active.
func (r *Registry) AppendPending(sid domain.SessionID, rid domain.RequestID) bool {
	s, err := r.Get(sid)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateActive {
		return false
	}
	s.pending = append(s.pending, rid)
	s.prompts++
	return true
}

// Unpend rolls back a reservation whose bridge submit was refused. The
// request never existed as far as counters go; nothing is discarded.
func (r *Registry) Unpend(sid domain.SessionID, rid domain.RequestID) {
	s, err := r.Get(sid)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == rid {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			s.prompts--
			return
		}
	}
}

// Resolve correlates one bridge result. Delivery is allowed only while
// Active and only for a requestId this session actually issued; anything
// else is counted as discarded.
func (r *Registry) Resolve(sid domain.SessionID, rid domain.RequestID) bool {
	s, err := r.Get(sid)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, p := range s.pending {
		if p == rid {
			idx = i
			break
		}
	}
	if s.state != domain.StateActive || idx < 0 {
		s.discarded++
		return false
	}
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	s.delivered++
	return true
}

func (r *Registry) Snapshot(sid domain.SessionID) (domain.SessionInfo, error) {
	s, err := r.Get(sid)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked(), nil
}

func (r *Registry) Snapshots() []domain.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.mu.Lock()
		out = append(out, s.infoLocked())
		s.mu.Unlock()
	}
	return out
}

// Summary is available once the session reached Closed.
func (r *Registry) Summary(sid domain.SessionID) (domain.SessionSummary, error) {
	s, err := r.Get(sid)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateClosed {
		return domain.SessionSummary{}, fmt.Errorf("summary of %s session: %w", s.state, core.ErrInvalidTransition)
	}
	return s.summaryLocked(), nil
}

// Evict removes a Closed session from the table. Unknown sid is a no-op;
// eviction is advisory cleanup, not a correctness requirement.
func (r *Registry) Evict(sid domain.SessionID) bool {
	r.mu.RLock()
	s, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	closed := s.state == domain.StateClosed
	s.mu.Unlock()
	if !closed {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("refused eviction of non-closed session")
		return false
	}
	r.mu.Lock()
	delete(r.sessions, sid)
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("evicted session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown force-closes every remaining session and returns summaries
// for the ones closed here, so the caller can record them.
func (r *Registry) Shutdown() []domain.SessionSummary {
	r.mu.Lock()
	entries := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		entries = append(entries, s)
	}
	r.sessions = make(map[domain.SessionID]*Session)
	r.mu.Unlock()

	out := make([]domain.SessionSummary, 0, len(entries))
	for _, s := range entries {
		var toClose core.MediaConnection
		s.mu.Lock()
		closedNow := s.state != domain.StateClosed
		if closedNow {
			s.state = domain.StateClosed
			s.closedAt = time.Now()
			if s.reason == "" {
				s.reason = domain.CloseShutdown
			}
			toClose, s.media = s.media, nil
		}
		sum := s.summaryLocked()
		s.mu.Unlock()
		if toClose != nil {
			toClose.Close()
		}
		if closedNow {
			out = append(out, sum)
		}
	}
	log.Info().Str("module", "app.registry").Int("closed", len(out)).Msg("registry shutdown")
	return out
}
