// Package history persists the outcome of every transcode attempt so
// operators can audit failures after the fact. It is an append-only log; the
// cache directory remains the source of truth for what is servable.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/symgate/internal/artifact"
)

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeUpstreamMissing Outcome = "upstream_missing"
	OutcomeStagingFailed   Outcome = "staging_failed"
	OutcomeChildFailed     Outcome = "child_failed"
	OutcomePublishFailed   Outcome = "publish_failed"
	OutcomeCancelled       Outcome = "cancelled"
)

// Attempt is one recorded transcode attempt.
type Attempt struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	GUID       string    `json:"guid"`
	Age        uint32    `json:"age"`
	Version    string    `json:"version"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store writes and reads the transcode log.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends one attempt. Failures to record are returned but callers
// treat them as non-fatal: losing an audit row must never fail a transcode.
func (s *Store) Record(ctx context.Context, key artifact.Key, outcome Outcome, detail string, duration time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO transcode_log(id, name, guid, age, version, outcome, detail, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), key.Name, key.GUID.String(), key.Age, key.Version.String(),
		string(outcome), detail, duration.Milliseconds(), now)
	if err != nil {
		return fmt.Errorf("record transcode attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, guid, age, version, outcome, detail, duration_ms, created_at
FROM transcode_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcode log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Attempt
	for rows.Next() {
		var (
			a          Attempt
			detail     sql.NullString
			outcomeS   string
			createdAtS string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.GUID, &a.Age, &a.Version, &outcomeS, &detail, &a.DurationMS, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan transcode log row: %w", err)
		}
		a.Outcome = Outcome(outcomeS)
		if detail.Valid {
			a.Detail = detail.String
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
