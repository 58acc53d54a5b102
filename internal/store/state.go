package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/driftwall/driftwall/internal/engine"
)

// stateColumns is the select list shared by the load paths.
const stateColumns = `vector, momentum, original_embedding, liked_ids, disliked_ids,
	feedback_count, epsilon, mode, last_updated, version`

// LoadPreferenceState returns the single learned state row. A missing or
// corrupt row degrades to the cold-start default with a logged warning —
// losing learned state must never take the host down.
func (db *DB) LoadPreferenceState() (*engine.PreferenceState, error) {
	row := db.QueryRow(`SELECT ` + stateColumns + ` FROM preference_state WHERE id = 1`)
	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return &engine.PreferenceState{Mode: engine.ModeAuto}, nil
	}
	if err != nil {
		// Keep the persisted version so the next commit can still pass the
		// optimistic check; only the learned fields fall back to cold.
		var v int64
		db.QueryRow("SELECT version FROM preference_state WHERE id = 1").Scan(&v)
		log.Printf("[store] preference state unreadable (%v), starting cold at version %d", err, v)
		return &engine.PreferenceState{Mode: engine.ModeAuto, Version: v}, nil
	}
	return st, nil
}

// StateVersion returns the persisted version, 0 when no state exists yet.
func (db *DB) StateVersion() (int64, error) {
	var v int64
	err := db.QueryRow("SELECT version FROM preference_state WHERE id = 1").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("state version: %w", err)
	}
	return v, nil
}

// SavePreferenceState commits st guarded by the optimistic version check:
// the write succeeds only if the persisted version still equals
// expectVersion. Used for non-feedback mutations (seeding).
func (db *DB) SavePreferenceState(st *engine.PreferenceState, expectVersion int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save state: %w", err)
	}
	defer tx.Rollback()

	if err := writeState(tx, st, expectVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitFeedback writes the successor state, the tracker increments, and the
// feedback event as one transaction. The version check makes a conflicting
// writer fail cleanly with engine.ErrVersionConflict; a partial commit
// (state without trackers or vice versa) is impossible by construction.
func (db *DB) CommitFeedback(st *engine.PreferenceState, expectVersion int64, delta engine.TrackerDelta, ev engine.FeedbackEvent) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin feedback commit: %w", err)
	}
	defer tx.Rollback()

	if err := writeState(tx, st, expectVersion); err != nil {
		return err
	}
	if err := applyDelta(tx, delta); err != nil {
		return err
	}
	if err := insertEvent(tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetLearnedState replaces the preference state with st and clears every
// tracker and the queue. The feedback event log is kept as history.
func (db *DB) ResetLearnedState(st *engine.PreferenceState) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM preference_state",
		"DELETE FROM category_stats",
		"DELETE FROM color_stats",
		"DELETE FROM composition_profile",
		"DELETE FROM download_queue",
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	if err := insertState(tx, st); err != nil {
		return err
	}
	return tx.Commit()
}

// writeState upserts the single state row with the version guard.
func writeState(tx *sql.Tx, st *engine.PreferenceState, expectVersion int64) error {
	liked, err := json.Marshal(st.LikedIDs)
	if err != nil {
		return fmt.Errorf("marshal liked ids: %w", err)
	}
	disliked, err := json.Marshal(st.DislikedIDs)
	if err != nil {
		return fmt.Errorf("marshal disliked ids: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE preference_state SET
			vector = ?, momentum = ?, original_embedding = ?,
			liked_ids = ?, disliked_ids = ?, feedback_count = ?,
			epsilon = ?, mode = ?, last_updated = ?, version = ?
		WHERE id = 1 AND version = ?
	`, encodeEmbedding(st.Vector), encodeEmbedding(st.Momentum), encodeEmbedding(st.OriginalEmbedding),
		string(liked), string(disliked), st.FeedbackCount,
		st.Epsilon, string(st.Mode), st.LastUpdated.UnixMilli(), st.Version,
		expectVersion)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update state rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	// No row updated: either the row does not exist yet (first commit) or
	// the version moved underneath us.
	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM preference_state WHERE id = 1").Scan(&exists); err != nil {
		return fmt.Errorf("check state row: %w", err)
	}
	if exists > 0 {
		return engine.ErrVersionConflict
	}
	if expectVersion != 0 {
		return engine.ErrVersionConflict
	}
	return insertState(tx, st)
}

func insertState(tx *sql.Tx, st *engine.PreferenceState) error {
	liked, err := json.Marshal(st.LikedIDs)
	if err != nil {
		return fmt.Errorf("marshal liked ids: %w", err)
	}
	disliked, err := json.Marshal(st.DislikedIDs)
	if err != nil {
		return fmt.Errorf("marshal disliked ids: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO preference_state (id, `+stateColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, encodeEmbedding(st.Vector), encodeEmbedding(st.Momentum), encodeEmbedding(st.OriginalEmbedding),
		string(liked), string(disliked), st.FeedbackCount,
		st.Epsilon, string(st.Mode), st.LastUpdated.UnixMilli(), st.Version)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

func scanState(row rowScanner) (*engine.PreferenceState, error) {
	var st engine.PreferenceState
	var vector, momentum, original []byte
	var liked, disliked, mode string
	var lastUpdated int64

	err := row.Scan(&vector, &momentum, &original, &liked, &disliked,
		&st.FeedbackCount, &st.Epsilon, &mode, &lastUpdated, &st.Version)
	if err != nil {
		return nil, err
	}

	st.Vector = decodeEmbedding(vector)
	st.Momentum = decodeEmbedding(momentum)
	st.OriginalEmbedding = decodeEmbedding(original)
	st.Mode = engine.Mode(mode)
	st.LastUpdated = time.UnixMilli(lastUpdated)

	if err := json.Unmarshal([]byte(liked), &st.LikedIDs); err != nil {
		return nil, fmt.Errorf("unmarshal liked ids: %w", err)
	}
	if err := json.Unmarshal([]byte(disliked), &st.DislikedIDs); err != nil {
		return nil, fmt.Errorf("unmarshal disliked ids: %w", err)
	}
	return &st, nil
}
