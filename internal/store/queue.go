package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/driftwall/driftwall/internal/engine"
)

// LoadQueue returns the download queue in priority order.
func (db *DB) LoadQueue() ([]engine.QueueEntry, error) {
	rows, err := db.Query(`
		SELECT candidate_id, priority, downloaded, retry_count
		FROM download_queue ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()

	var out []engine.QueueEntry
	for rows.Next() {
		var e engine.QueueEntry
		var downloaded int
		if err := rows.Scan(&e.ID, &e.Priority, &downloaded, &e.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Downloaded = downloaded != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveQueue replaces the queue with entries, in order. Entries absent from
// the new list drop out; entries present keep whatever download state the
// engine carried over.
func (db *DB) SaveQueue(entries []engine.QueueEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin save queue: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM download_queue"); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}

	now := time.Now().UnixMilli()
	for i, e := range entries {
		_, err := tx.Exec(`
			INSERT INTO download_queue (candidate_id, priority, position, downloaded, retry_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID, e.Priority, i, b2i(e.Downloaded), e.RetryCount, now)
		if err != nil {
			return fmt.Errorf("insert queue entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// MarkDownloaded flags a queue entry as fetched by the download collaborator.
func (db *DB) MarkDownloaded(candidateID string) error {
	res, err := db.Exec(`
		UPDATE download_queue SET downloaded = 1, updated_at = ? WHERE candidate_id = ?
	`, time.Now().UnixMilli(), candidateID)
	if err != nil {
		return fmt.Errorf("mark downloaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue entry %s not found", candidateID)
	}
	return nil
}

// RecordRetryFailure increments an entry's retry count. Once the count
// passes maxRetries the entry is dropped: the download keeps failing and
// retrying forever helps nobody.
func (db *DB) RecordRetryFailure(candidateID string, maxRetries int) (dropped bool, err error) {
	var retries int
	err = db.QueryRow(
		"SELECT retry_count FROM download_queue WHERE candidate_id = ?", candidateID,
	).Scan(&retries)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("queue entry %s not found", candidateID)
	}
	if err != nil {
		return false, fmt.Errorf("load retry count: %w", err)
	}

	retries++
	if retries > maxRetries {
		if _, err := db.Exec("DELETE FROM download_queue WHERE candidate_id = ?", candidateID); err != nil {
			return false, fmt.Errorf("drop queue entry: %w", err)
		}
		return true, nil
	}

	_, err = db.Exec(`
		UPDATE download_queue SET retry_count = ?, updated_at = ? WHERE candidate_id = ?
	`, retries, time.Now().UnixMilli(), candidateID)
	if err != nil {
		return false, fmt.Errorf("update retry count: %w", err)
	}
	return false, nil
}
