// Package store persists session summaries to PostgreSQL.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/covenantmedia/pulpit/internal/core"
	"github.com/covenantmedia/pulpit/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_summaries (
	session_id    TEXT PRIMARY KEY,
	owner_subject TEXT NOT NULL,
	persona       TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	prompts       INTEGER NOT NULL,
	delivered     INTEGER NOT NULL,
	discarded     INTEGER NOT NULL,
	media_frames  BIGINT NOT NULL,
	close_reason  TEXT NOT NULL
)`

// Recorder is the append-only summary sink. There is no read path here;
// reporting queries the table directly.
type Recorder struct {
	db *sqlx.DB
}

var _ core.Recorder = (*Recorder)(nil)

func Open(url string) (*Recorder, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure summary table: %w", err)
	}
	log.Info().Str("module", "adapters.store").Msg("postgres recorder ready")
	return &Recorder{db: db}, nil
}

// Record is idempotent per session id so a shutdown sweep cannot write
// a summary twice.
func (r *Recorder) Record(ctx context.Context, s domain.SessionSummary) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO session_summaries
			(session_id, owner_subject, persona, started_at, ended_at,
			 prompts, delivered, discarded, media_frames, close_reason)
		VALUES
			(:session_id, :owner_subject, :persona, :started_at, :ended_at,
			 :prompts, :delivered, :discarded, :media_frames, :close_reason)
		ON CONFLICT (session_id) DO NOTHING
	`, s)
	if err != nil {
		return fmt.Errorf("record session summary: %w", err)
	}
	return nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

// Nop discards summaries; used when persistence is not configured.
type Nop struct{}

var _ core.Recorder = Nop{}

func (Nop) Record(context.Context, domain.SessionSummary) error { return nil }
