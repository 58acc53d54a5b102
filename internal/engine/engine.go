package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// Store is the persistence collaborator. The engine never touches SQL or
// files itself; it consumes and produces in-memory values and hands them to
// the store, whose version-checked commit provides the atomicity contract.
type Store interface {
	// GetCandidate returns a candidate by id, or nil if unknown.
	GetCandidate(id string) (*Candidate, error)
	// AllCandidates returns the full candidate pool.
	AllCandidates() ([]Candidate, error)

	// LoadPreferenceState returns the persisted state, substituting the
	// documented cold-start default when missing or corrupt.
	LoadPreferenceState() (*PreferenceState, error)
	// SavePreferenceState commits st if the persisted version still equals
	// expectVersion, otherwise returns ErrVersionConflict.
	SavePreferenceState(st *PreferenceState, expectVersion int64) error
	// CommitFeedback commits st, the tracker delta, and the event log entry
	// as one transaction, guarded by the same version check.
	CommitFeedback(st *PreferenceState, expectVersion int64, delta TrackerDelta, ev FeedbackEvent) error
	// StateVersion returns the current persisted version without loading
	// the full state.
	StateVersion() (int64, error)

	LoadTrackers() (*Trackers, error)
	ResetLearnedState(st *PreferenceState) error

	LoadQueue() ([]QueueEntry, error)
	SaveQueue(entries []QueueEntry) error
}

// FeedbackEvent is the audit-log record for one ingested feedback event.
// The store assigns the id on insert.
type FeedbackEvent struct {
	ID          string        `json:"id"`
	CandidateID string        `json:"candidate_id"`
	Kind        FeedbackKind  `json:"kind"`
	Duration    time.Duration `json:"duration,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Engine orchestrates feedback ingestion and queue rebuilds over the store.
// All state mutations are serialized through mu; the store's version check
// additionally guards against writers outside this process sharing the
// database file.
type Engine struct {
	store   Store
	cfg     Config
	updater Updater
	ranker  *Ranker

	mu     sync.Mutex
	stopCh chan struct{}
	nowFn  func() time.Time
}

// New creates an Engine. A nil rng gets a time-seeded source; tests inject a
// fixed seed for reproducible exploration.
func New(store Store, cfg Config, rng *rand.Rand) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	return &Engine{
		store:   store,
		cfg:     cfg,
		updater: NewUpdater(cfg),
		ranker:  NewRanker(cfg, rng),
		stopCh:  make(chan struct{}),
		nowFn:   time.Now,
	}, nil
}

// Config returns the engine's tuning.
func (e *Engine) Config() Config { return e.cfg }

// SetClock overrides the time source (tests only).
func (e *Engine) SetClock(now func() time.Time) { e.nowFn = now }

// RecordFeedback ingests one feedback event: it derives the successor state
// and tracker deltas and commits them atomically. A version conflict means
// another writer got there first; the update is re-derived against the fresh
// state rather than dropped. Returns the committed state.
func (e *Engine) RecordFeedback(ctx context.Context, fb Feedback) (*PreferenceState, error) {
	cand, err := e.store.GetCandidate(fb.CandidateID)
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}
	if cand == nil {
		return nil, &ValidationError{ID: fb.CandidateID, Reason: "unknown candidate"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for attempt := 0; attempt < e.cfg.MaxCommitRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		state, err := e.store.LoadPreferenceState()
		if err != nil {
			return nil, fmt.Errorf("load preference state: %w", err)
		}

		now := e.nowFn()
		next, delta, err := e.updater.Apply(state, cand, fb, now)
		if err != nil {
			return nil, err
		}

		ev := FeedbackEvent{
			CandidateID: fb.CandidateID,
			Kind:        fb.Kind,
			Duration:    fb.Duration,
			CreatedAt:   now,
		}

		err = e.store.CommitFeedback(next, state.Version, delta, ev)
		if errors.Is(err, ErrVersionConflict) {
			log.Printf("[engine] feedback commit conflict on version %d, retrying", state.Version)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit feedback: %w", err)
		}
		return next, nil
	}
	return nil, ErrContention
}

// Snapshot builds a consistent read of state plus trackers for ranking.
func (e *Engine) Snapshot() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() (Snapshot, error) {
	state, err := e.store.LoadPreferenceState()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load preference state: %w", err)
	}
	if state.Epsilon == 0 {
		// A state row minted outside the engine carries no exploration
		// rate; the schedule never produces exactly zero.
		state.Epsilon = e.cfg.EpsilonFor(state.FeedbackCount)
	}
	trackers, err := e.store.LoadTrackers()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load trackers: %w", err)
	}
	return Snapshot{State: state, Trackers: trackers, Now: e.nowFn()}, nil
}

// RebuildQueue runs a full ranking pass and persists the refreshed queue.
// The pass runs against a snapshot; if the preference version moves while
// the pass is in flight, the result is discarded and a fresh pass runs
// against the latest state, up to the configured bound.
func (e *Engine) RebuildQueue(ctx context.Context) ([]QueueEntry, error) {
	candidates, err := e.store.AllCandidates()
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	for pass := 0; pass < e.cfg.MaxRankPasses; pass++ {
		snap, err := e.Snapshot()
		if err != nil {
			return nil, err
		}

		ranked, err := e.ranker.RankContext(ctx, candidates, snap)
		if err != nil {
			return nil, err
		}

		entries, stale, err := e.commitQueue(ranked, snap)
		if err != nil {
			return nil, err
		}
		if stale {
			continue
		}
		return entries, nil
	}
	return nil, ErrContention
}

// commitQueue persists the queue built from a finished ranking pass. It
// holds the engine lock across the version recheck and the save so no
// feedback commit can slip between them; stale reports that the state the
// pass scored against has already moved.
func (e *Engine) commitQueue(ranked []RankedCandidate, snap Snapshot) (entries []QueueEntry, stale bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.store.StateVersion()
	if err != nil {
		return nil, false, fmt.Errorf("check state version: %w", err)
	}
	if current != snap.State.Version {
		log.Printf("[engine] preference version moved %d -> %d mid-pass, rescoring", snap.State.Version, current)
		return nil, true, nil
	}

	existing, err := e.store.LoadQueue()
	if err != nil {
		return nil, false, fmt.Errorf("load queue: %w", err)
	}

	entries = e.ranker.BuildQueue(ranked, existing, snap)
	if err := e.store.SaveQueue(entries); err != nil {
		return nil, false, fmt.Errorf("save queue: %w", err)
	}
	return entries, false, nil
}

// Rank scores the full pool against the current snapshot without touching
// the queue. Used by the CLI and API for inspection.
func (e *Engine) Rank(ctx context.Context) ([]RankedCandidate, error) {
	candidates, err := e.store.AllCandidates()
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return e.ranker.RankContext(ctx, candidates, snap)
}

// SeedPersonalized switches to Personalized mode, seeding the preference
// vector from the embedding of an image the user chose.
func (e *Engine) SeedPersonalized(seed []float64) (*PreferenceState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for attempt := 0; attempt < e.cfg.MaxCommitRetries; attempt++ {
		state, err := e.store.LoadPreferenceState()
		if err != nil {
			return nil, fmt.Errorf("load preference state: %w", err)
		}

		next, err := SeededPreferenceState(e.cfg, seed)
		if err != nil {
			return nil, err
		}
		next.Version = state.Version + 1
		next.LastUpdated = e.nowFn()

		err = e.store.SavePreferenceState(next, state.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save preference state: %w", err)
		}
		return next, nil
	}
	return nil, ErrContention
}

// Reset discards everything learned: preference state, trackers, and queue.
// The version counter keeps climbing so concurrent readers see the reset as
// one more ordinary mutation.
func (e *Engine) Reset() (*PreferenceState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.store.LoadPreferenceState()
	if err != nil {
		return nil, fmt.Errorf("load preference state: %w", err)
	}

	next := NewPreferenceState(e.cfg)
	next.Version = state.Version + 1
	next.LastUpdated = e.nowFn()

	if err := e.store.ResetLearnedState(next); err != nil {
		return nil, fmt.Errorf("reset learned state: %w", err)
	}
	return next, nil
}

// StartRefreshTimer rebuilds the queue once at startup and then on the
// given interval, until Stop.
func (e *Engine) StartRefreshTimer(interval time.Duration) {
	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if entries, err := e.RebuildQueue(ctx); err != nil {
			log.Printf("[engine] queue refresh: %v", err)
		} else {
			log.Printf("[engine] queue refreshed: %d entries", len(entries))
		}
	}

	refresh()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				refresh()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}
