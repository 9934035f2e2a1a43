package domain

import (
	"time"

	"github.com/google/uuid"
)

type (
	SessionID string
	RequestID string
)

// NewRequestID issues a fresh correlation id for one bridge request.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// SessionState is the forward-only lifecycle of a session.
// Negotiating -> Active -> Closing -> Closed, forward skips allowed.
type SessionState int

const (
	StateNegotiating SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanAdvanceTo reports whether target is a legal move from s.
// Only strictly forward moves are legal; Closed is terminal.
func (s SessionState) CanAdvanceTo(target SessionState) bool {
	return target > s && target <= StateClosed
}

// CloseReason records why a session left Active.
type CloseReason string

const (
	CloseByClient    CloseReason = "client"
	CloseDisconnect  CloseReason = "disconnect"
	CloseNegotiation CloseReason = "negotiation_failed"
	CloseShutdown    CloseReason = "shutdown"
	CloseFlood       CloseReason = "flood"
)

// SessionInfo is a read-only view for APIs (no transport fields).
type SessionInfo struct {
	ID        SessionID `json:"id"`
	Owner     string    `json:"owner"`
	Persona   string    `json:"persona"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Prompts   int       `json:"prompts"`
	Delivered int       `json:"delivered"`
	Discarded int       `json:"discarded"`
	Pending   int       `json:"pending"`
}

// SessionSummary is the persistence record appended once per closed session.
type SessionSummary struct {
	SessionID   SessionID   `db:"session_id"`
	Owner       string      `db:"owner_subject"`
	Persona     string      `db:"persona"`
	StartedAt   time.Time   `db:"started_at"`
	EndedAt     time.Time   `db:"ended_at"`
	Prompts     int         `db:"prompts"`
	Delivered   int         `db:"delivered"`
	Discarded   int         `db:"discarded"`
	MediaFrames int64       `db:"media_frames"`
	Reason      CloseReason `db:"close_reason"`
}
