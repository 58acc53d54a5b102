package engine

import (
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by a Store when a commit's expected version
// no longer matches the persisted state. The engine retries against the
// refreshed state.
var ErrVersionConflict = errors.New("preference state version conflict")

// ErrContention is surfaced when commits keep conflicting past the retry
// bound. It never crashes the host; callers report it as a diagnostic.
var ErrContention = errors.New("preference state contention: retries exhausted")

// ValidationError marks a malformed candidate or embedding. Ranking skips
// the candidate and continues; feedback ingestion rejects the event.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return "invalid candidate: " + e.Reason
	}
	return fmt.Sprintf("invalid candidate %s: %s", e.ID, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
