package engine

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"time"
)

// Snapshot is a consistent read of the learned state taken at the start of a
// ranking pass. Ranking never observes a half-committed update: the engine
// builds the snapshot inside the same lock that serializes commits.
type Snapshot struct {
	State    *PreferenceState
	Trackers *Trackers
	Now      time.Time
}

// Ranker scores a candidate pool against a snapshot and builds the bounded
// download queue. Scoring is deterministic; all randomness (epsilon-greedy
// exploration) flows through the injected rand source so tests can fix the
// seed.
type Ranker struct {
	cfg  Config
	calc Calculator
	rng  *rand.Rand
}

// NewRanker returns a Ranker. A nil rng gets a time-seeded source.
func NewRanker(cfg Config, rng *rand.Rand) *Ranker {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Ranker{cfg: cfg, calc: NewCalculator(cfg), rng: rng}
}

// Rank scores every candidate and returns the list sorted by final score
// descending, ties broken by id ascending for a stable ordering. Candidates
// with malformed embeddings are skipped with a logged validation error; they
// never abort the batch. An empty pool yields an empty list.
func (r *Ranker) Rank(candidates []Candidate, snap Snapshot) []RankedCandidate {
	ranked, _ := r.RankContext(context.Background(), candidates, snap)
	return ranked
}

// RankContext is Rank with cancellation: the scoring loop checks ctx
// periodically so an in-flight pass over a large pool can be abandoned when
// a newer preference version lands.
func (r *Ranker) RankContext(ctx context.Context, candidates []Candidate, snap Snapshot) ([]RankedCandidate, error) {
	ranked := make([]RankedCandidate, 0, len(candidates))
	for i, cand := range candidates {
		if i%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rc, err := r.calc.Score(cand, snap.State, snap.Trackers, snap.Now)
		if err != nil {
			log.Printf("[ranker] skipping %s: %v", cand.ID, err)
			continue
		}
		ranked = append(ranked, rc)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked, nil
}

// BuildQueue turns a ranked list into the download queue:
//
//  1. diversity filter: drop candidates whose category surfaced within the
//     diversity window, unless that category is still underexplored
//  2. keep entries scoring at or above the priority floor, backfilling with
//     the next-best scores when fewer than the queue size qualify
//  3. greedy selection with a same-category cap (at most one per category in
//     any 3-item window while >=3 distinct categories remain) and
//     epsilon-greedy substitution at each pick
//  4. upsert against the existing queue: surviving ids keep their download
//     state and retry count, new ids start fresh, absent ids drop out
//
// The threshold runs before the spacing pass: trimming entries out of an
// already-spaced ordering would push same-category picks back together.
func (r *Ranker) BuildQueue(ranked []RankedCandidate, existing []QueueEntry, snap Snapshot) []QueueEntry {
	pool := r.diversityFilter(ranked, snap)
	picked := r.applyThreshold(pool)
	ordered := r.selectOrder(picked, snap.State.Epsilon)

	prior := make(map[string]QueueEntry, len(existing))
	for _, e := range existing {
		prior[e.ID] = e
	}

	entries := make([]QueueEntry, 0, len(ordered))
	for _, rc := range ordered {
		entry := QueueEntry{ID: rc.ID, Priority: rc.FinalScore}
		if old, ok := prior[rc.ID]; ok {
			entry.Downloaded = old.Downloaded
			entry.RetryCount = old.RetryCount
		}
		entries = append(entries, entry)
	}
	return entries
}

// diversityFilter removes candidates from recently-shown categories unless
// the category is underexplored. If the rule would empty the pool entirely,
// the unfiltered pool is used instead: a starving queue helps nobody.
func (r *Ranker) diversityFilter(ranked []RankedCandidate, snap Snapshot) []RankedCandidate {
	kept := make([]RankedCandidate, 0, len(ranked))
	for _, rc := range ranked {
		stat := snap.Trackers.Category(rc.Category)
		if stat != nil &&
			stat.WasShownRecently(snap.Now, r.cfg.DiversityWindow) &&
			!stat.IsUnderexplored(r.cfg.UnderexploredViews) {
			continue
		}
		kept = append(kept, rc)
	}
	if len(kept) == 0 {
		return ranked
	}
	return kept
}

// selectOrder walks the pool best-first, enforcing the same-category window
// cap and substituting a uniformly random remaining candidate with
// probability epsilon at each step.
func (r *Ranker) selectOrder(pool []RankedCandidate, epsilon float64) []RankedCandidate {
	remaining := append([]RankedCandidate(nil), pool...)
	ordered := make([]RankedCandidate, 0, len(remaining))

	for len(remaining) > 0 {
		idx := r.pickIndex(remaining, ordered)

		if epsilon > 0 && r.rng.Float64() < epsilon {
			idx = r.rng.Intn(len(remaining))
		}

		ordered = append(ordered, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return ordered
}

// pickIndex returns the best remaining index that keeps at most one
// candidate per category within any 3-item window of the ordering. The cap
// only binds while at least 3 distinct categories remain; with fewer, any
// ordering would violate it eventually, so it relaxes.
func (r *Ranker) pickIndex(remaining, ordered []RankedCandidate) int {
	if len(distinctCategories(remaining)) < 3 {
		return 0
	}

	recent := make(map[string]bool, 2)
	for i := len(ordered) - 2; i < len(ordered); i++ {
		if i >= 0 {
			recent[ordered[i].Category] = true
		}
	}

	for i, rc := range remaining {
		if !recent[rc.Category] {
			return i
		}
	}
	return 0
}

func distinctCategories(ranked []RankedCandidate) map[string]bool {
	set := make(map[string]bool)
	for _, rc := range ranked {
		set[rc.Category] = true
	}
	return set
}

// applyThreshold keeps up to MaxQueueSize entries scoring at or above the
// priority floor. When fewer qualify, the next-highest sub-threshold entries
// backfill the remaining slots rather than leaving the queue short. The
// input must be score-ordered.
func (r *Ranker) applyThreshold(pool []RankedCandidate) []RankedCandidate {
	var above, below []RankedCandidate
	for _, rc := range pool {
		if rc.FinalScore >= r.cfg.MinPriority {
			above = append(above, rc)
		} else {
			below = append(below, rc)
		}
	}

	picked := above
	if len(picked) > r.cfg.MaxQueueSize {
		picked = picked[:r.cfg.MaxQueueSize]
	} else if len(picked) < r.cfg.MaxQueueSize {
		fill := r.cfg.MaxQueueSize - len(picked)
		if fill > len(below) {
			fill = len(below)
		}
		picked = append(picked, below[:fill]...)
	}
	return picked
}
