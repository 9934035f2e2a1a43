package core

import (
	"context"

	"github.com/covenantmedia/pulpit/internal/domain"
)

// Prompt is one completion request: the persona system prompt plus the
// user's transcript line.
type Prompt struct {
	System string
	User   string
}

// Completer is the external completion service boundary. Implementations
// honor ctx for the per-request timeout; classification of their errors
// into ErrRetryable/ErrFatal also lives behind this interface.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Identity verifies inbound credentials. The signaling layer calls this
// once per channel open.
type Identity interface {
	Verify(ctx context.Context, credential string) (*domain.Principal, error)
}

// Recorder appends a session summary after a session reaches Closed.
// No read path is required here.
type Recorder interface {
	Record(ctx context.Context, s domain.SessionSummary) error
}
