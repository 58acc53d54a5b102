package engine

import (
	"fmt"
	"time"
)

// Mode selects how the preference vector was born.
type Mode string

const (
	// ModeAuto starts from nothing and learns purely from feedback.
	ModeAuto Mode = "auto"
	// ModePersonalized is seeded from an image the user picked or uploaded.
	ModePersonalized Mode = "personalized"
)

// FeedbackKind is the closed set of feedback types.
type FeedbackKind string

const (
	FeedbackLike     FeedbackKind = "like"
	FeedbackDislike  FeedbackKind = "dislike"
	FeedbackImplicit FeedbackKind = "implicit"
)

// ParseFeedbackKind converts a wire string to a FeedbackKind.
func ParseFeedbackKind(s string) (FeedbackKind, error) {
	switch FeedbackKind(s) {
	case FeedbackLike, FeedbackDislike, FeedbackImplicit:
		return FeedbackKind(s), nil
	}
	return "", fmt.Errorf("unknown feedback kind %q", s)
}

// Feedback is one ingested feedback event. Duration is meaningful only for
// implicit feedback (how long the wallpaper stayed on screen); the
// constructors keep that association honest.
type Feedback struct {
	CandidateID string
	Kind        FeedbackKind
	Duration    time.Duration
}

// Like builds an explicit positive feedback event.
func Like(candidateID string) Feedback {
	return Feedback{CandidateID: candidateID, Kind: FeedbackLike}
}

// Dislike builds an explicit negative feedback event.
func Dislike(candidateID string) Feedback {
	return Feedback{CandidateID: candidateID, Kind: FeedbackDislike}
}

// Implicit builds a duration-derived feedback event.
func Implicit(candidateID string, duration time.Duration) Feedback {
	return Feedback{CandidateID: candidateID, Kind: FeedbackImplicit, Duration: duration}
}

// PreferenceState is the learned state: the preference vector, its momentum,
// and bookkeeping. Vector and Momentum are either both length Dim or both
// empty (cold start); partially-populated vectors never occur.
//
// The state is a value passed explicitly between components. Mutators return
// a new state with Version+1; Version drives optimistic concurrency at the
// store layer.
type PreferenceState struct {
	Vector            []float64 `json:"vector"`
	Momentum          []float64 `json:"momentum"`
	OriginalEmbedding []float64 `json:"original_embedding,omitempty"`
	LikedIDs          []string  `json:"liked_ids"`    // oldest first, capped
	DislikedIDs       []string  `json:"disliked_ids"` // oldest first, capped
	FeedbackCount     int       `json:"feedback_count"`
	Epsilon           float64   `json:"epsilon"`
	Mode              Mode      `json:"mode"`
	LastUpdated       time.Time `json:"last_updated"`
	Version           int64     `json:"version"`
}

// NewPreferenceState returns the cold-start state for Auto mode.
func NewPreferenceState(cfg Config) *PreferenceState {
	return &PreferenceState{
		Mode:    ModeAuto,
		Epsilon: cfg.EpsilonFor(0),
	}
}

// SeededPreferenceState returns a Personalized-mode state whose vector is the
// normalized seed embedding.
func SeededPreferenceState(cfg Config, seed []float64) (*PreferenceState, error) {
	if len(seed) != cfg.Dim {
		return nil, &ValidationError{Reason: fmt.Sprintf("seed embedding has %d dimensions, want %d", len(seed), cfg.Dim)}
	}
	return &PreferenceState{
		Vector:            normalized(seed),
		Momentum:          make([]float64, cfg.Dim),
		OriginalEmbedding: cloneVec(seed),
		Mode:              ModePersonalized,
		Epsilon:           cfg.EpsilonFor(0),
	}, nil
}

// Initialized reports whether the preference vector carries signal yet.
func (s *PreferenceState) Initialized() bool {
	return len(s.Vector) > 0 && s.FeedbackCount > 0
}

// Clone returns a deep copy.
func (s *PreferenceState) Clone() *PreferenceState {
	out := *s
	out.Vector = cloneVec(s.Vector)
	out.Momentum = cloneVec(s.Momentum)
	out.OriginalEmbedding = cloneVec(s.OriginalEmbedding)
	out.LikedIDs = append([]string(nil), s.LikedIDs...)
	out.DislikedIDs = append([]string(nil), s.DislikedIDs...)
	return &out
}

// appendCapped appends id to ids, evicting from the front past cap.
// A repeated id is moved to the back rather than duplicated.
func appendCapped(ids []string, id string, cap int) []string {
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	ids = append(ids, id)
	if cap > 0 && len(ids) > cap {
		ids = ids[len(ids)-cap:]
	}
	return ids
}
