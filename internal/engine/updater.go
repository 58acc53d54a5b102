package engine

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Updater derives a new PreferenceState plus tracker deltas from one
// feedback event. It never mutates its input: the caller decides whether the
// returned state commits (the store's version check can still reject it).
type Updater struct {
	cfg Config
}

// NewUpdater returns an Updater using the given tuning.
func NewUpdater(cfg Config) Updater {
	return Updater{cfg: cfg}
}

// Apply folds fb into state and returns the successor state and the tracker
// delta that must commit with it. The input state is left untouched.
//
// Vector movement uses a momentum-smoothed EMA: the velocity blends the
// previous velocity with a learning-rate-scaled step toward (or away from)
// the candidate embedding, and the result is re-projected to unit length so
// cosine similarity stays well-defined.
func (u Updater) Apply(state *PreferenceState, cand *Candidate, fb Feedback, now time.Time) (*PreferenceState, TrackerDelta, error) {
	if cand == nil {
		return nil, TrackerDelta{}, &ValidationError{ID: fb.CandidateID, Reason: "unknown candidate"}
	}
	if len(cand.Embedding) != u.cfg.Dim {
		return nil, TrackerDelta{}, &ValidationError{
			ID:     cand.ID,
			Reason: fmt.Sprintf("embedding has %d dimensions, want %d", len(cand.Embedding), u.cfg.Dim),
		}
	}

	sign, weight := u.direction(fb)

	next := state.Clone()
	next.Version++
	next.LastUpdated = now

	delta := TrackerDelta{
		Category: cand.Category,
		Colors:   cand.Colors,
		View:     true,
		ShownAt:  now,
	}

	// Explicit feedback drives the counters and id history; implicit events
	// only steer the vector (weakly) and record a view.
	switch fb.Kind {
	case FeedbackLike:
		next.FeedbackCount++
		next.LikedIDs = appendCapped(next.LikedIDs, cand.ID, u.cfg.IDHistoryCap)
		delta.Like = true
		delta.Composition = cand.Composition
	case FeedbackDislike:
		next.FeedbackCount++
		next.DislikedIDs = appendCapped(next.DislikedIDs, cand.ID, u.cfg.IDHistoryCap)
		delta.Dislike = true
	}

	// Learning rate decays with the feedback the old state had already seen,
	// so the first events move the vector strongly.
	lr := u.cfg.LearningRate(state.FeedbackCount)
	u.moveVector(next, cand.Embedding, sign, lr*weight)

	next.Epsilon = u.cfg.EpsilonFor(next.FeedbackCount)

	return next, delta, nil
}

// direction maps a feedback event to a movement sign and weight. Implicit
// feedback below the dislike threshold is a weak push away, above the like
// threshold a weak pull toward; the band in between moves nothing.
func (u Updater) direction(fb Feedback) (sign float64, weight float64) {
	switch fb.Kind {
	case FeedbackLike:
		return 1, 1
	case FeedbackDislike:
		return -1, 1
	case FeedbackImplicit:
		if fb.Duration < u.cfg.ImplicitDislikeUnder {
			return -1, u.cfg.ImplicitWeight
		}
		if fb.Duration > u.cfg.ImplicitLikeOver {
			return 1, u.cfg.ImplicitWeight
		}
	}
	return 0, 0
}

// moveVector applies the momentum update in place on next. A zero step
// leaves vector and momentum untouched. On a cold-start state the first
// positive step initializes the vector from the embedding; a negative step
// has nothing to move away from and is dropped.
func (u Updater) moveVector(next *PreferenceState, embedding []float64, sign, step float64) {
	if sign == 0 || step <= 0 {
		return
	}

	dir := normalized(embedding)
	if dir == nil || floats.Dot(dir, dir) == 0 {
		return
	}

	if len(next.Vector) == 0 {
		if sign > 0 {
			next.Vector = dir
			next.Momentum = make([]float64, u.cfg.Dim)
		}
		return
	}

	if len(next.Momentum) == 0 {
		next.Momentum = make([]float64, u.cfg.Dim)
	}

	// velocity' = momentum * velocity + step * sign * direction
	floats.Scale(u.cfg.MomentumCoeff, next.Momentum)
	floats.AddScaled(next.Momentum, step*sign, dir)

	floats.Add(next.Vector, next.Momentum)
	normalize(next.Vector)
}
