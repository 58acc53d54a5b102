package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/driftwall/driftwall/internal/engine"
	"github.com/google/uuid"
)

// insertEvent appends one row to the feedback audit log. The id is assigned
// here so the engine never needs to mint identifiers.
func insertEvent(tx *sql.Tx, ev engine.FeedbackEvent) error {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}

	var duration any
	if ev.Kind == engine.FeedbackImplicit {
		duration = int64(ev.Duration.Seconds())
	}

	_, err := tx.Exec(`
		INSERT INTO feedback_events (id, candidate_id, kind, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, ev.CandidateID, string(ev.Kind), duration, ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert feedback event: %w", err)
	}
	return nil
}

// RecentFeedbackEvents returns the newest limit events.
func (db *DB) RecentFeedbackEvents(limit int) ([]engine.FeedbackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, candidate_id, kind, duration_seconds, created_at
		FROM feedback_events ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent feedback events: %w", err)
	}
	defer rows.Close()

	var out []engine.FeedbackEvent
	for rows.Next() {
		var ev engine.FeedbackEvent
		var kind string
		var seconds sql.NullInt64
		var created int64
		if err := rows.Scan(&ev.ID, &ev.CandidateID, &kind, &seconds, &created); err != nil {
			return nil, fmt.Errorf("scan feedback event: %w", err)
		}
		ev.Kind = engine.FeedbackKind(kind)
		if seconds.Valid {
			ev.Duration = time.Duration(seconds.Int64) * time.Second
		}
		ev.CreatedAt = time.UnixMilli(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
