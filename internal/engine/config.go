package engine

import (
	"fmt"
	"math"
	"time"
)

// Config holds every tunable the scoring and learning formulas use.
// The values here are the documented defaults; deployments override them
// via the config file rather than editing constants.
type Config struct {
	// Dim is the embedding dimension produced by the upstream feature
	// extractor. Candidates with any other length are rejected.
	Dim int `yaml:"dim"`

	// Score blend. The four weights must sum to 1; the category bonus is
	// additive on top of the blend rather than part of the weighted mean.
	EmbeddingWeight    float64 `yaml:"embedding_weight"`
	ColorWeight        float64 `yaml:"color_weight"`
	CompositionWeight  float64 `yaml:"composition_weight"`
	CategoryBonusScale float64 `yaml:"category_bonus_scale"` // scales [-1,1] stat score into a tie-break band

	// Learning-rate schedule: lr = max(LRMin, LRBase / (1 + count/LRDecayK)).
	LRBase   float64 `yaml:"lr_base"`
	LRMin    float64 `yaml:"lr_min"`
	LRDecayK float64 `yaml:"lr_decay_k"`

	// MomentumCoeff smooths successive vector updates (EMA velocity).
	MomentumCoeff float64 `yaml:"momentum_coeff"`

	// Epsilon schedule: eps = max(EpsilonMin, EpsilonBase / (1 + count/EpsilonDecayK)).
	EpsilonBase   float64 `yaml:"epsilon_base"`
	EpsilonMin    float64 `yaml:"epsilon_min"`
	EpsilonDecayK float64 `yaml:"epsilon_decay_k"`

	// Implicit feedback thresholds: a wallpaper replaced before
	// ImplicitDislikeUnder counts as a weak dislike, one kept longer than
	// ImplicitLikeOver as a weak like. Anything in between only records a view.
	ImplicitDislikeUnder time.Duration `yaml:"implicit_dislike_under"`
	ImplicitLikeOver     time.Duration `yaml:"implicit_like_over"`
	ImplicitWeight       float64       `yaml:"implicit_weight"` // relative to explicit feedback

	// Diversity policy.
	DiversityWindow    time.Duration `yaml:"diversity_window"`    // category shown within this window is skipped
	UnderexploredViews int           `yaml:"underexplored_views"` // below this view count a category is always eligible

	// Download queue.
	MaxQueueSize int     `yaml:"max_queue_size"`
	MinPriority  float64 `yaml:"min_priority"`
	MaxRetries   int     `yaml:"max_retries"`

	// IDHistoryCap bounds likedIds/dislikedIds; oldest entries are evicted.
	IDHistoryCap int `yaml:"id_history_cap"`

	// CompositionConfidenceAt is the sample count at which the composition
	// profile reaches full confidence.
	CompositionConfidenceAt int `yaml:"composition_confidence_at"`

	// Commit/ranking retry bounds.
	MaxCommitRetries int `yaml:"max_commit_retries"`
	MaxRankPasses    int `yaml:"max_rank_passes"`
}

// DefaultConfig returns the documented default tuning.
func DefaultConfig() Config {
	return Config{
		Dim:                     576,
		EmbeddingWeight:         0.7,
		ColorWeight:             0.1,
		CompositionWeight:       0.1,
		CategoryBonusScale:      0.1,
		LRBase:                  0.2,
		LRMin:                   0.02,
		LRDecayK:                10,
		MomentumCoeff:           0.9,
		EpsilonBase:             0.1,
		EpsilonMin:              0.01,
		EpsilonDecayK:           10,
		ImplicitDislikeUnder:    5 * time.Minute,
		ImplicitLikeOver:        24 * time.Hour,
		ImplicitWeight:          0.5,
		DiversityWindow:         24 * time.Hour,
		UnderexploredViews:      3,
		MaxQueueSize:            50,
		MinPriority:             0.3,
		MaxRetries:              3,
		IDHistoryCap:            200,
		CompositionConfidenceAt: 10,
		MaxCommitRetries:        5,
		MaxRankPasses:           3,
	}
}

// Validate checks internal consistency of the tuning values.
func (c Config) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	sum := c.EmbeddingWeight + c.ColorWeight + c.CompositionWeight + c.CategoryBonusScale
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("score weights must sum to 1, got %g", sum)
	}
	if c.EmbeddingWeight < 0 || c.ColorWeight < 0 || c.CompositionWeight < 0 || c.CategoryBonusScale < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}
	if c.LRBase < 0 || c.LRMin < 0 || c.LRMin > c.LRBase {
		return fmt.Errorf("invalid learning-rate schedule: base=%g min=%g", c.LRBase, c.LRMin)
	}
	if c.MomentumCoeff < 0 || c.MomentumCoeff >= 1 {
		return fmt.Errorf("momentum_coeff must be in [0,1), got %g", c.MomentumCoeff)
	}
	if c.EpsilonBase < 0 || c.EpsilonBase > 1 || c.EpsilonMin < 0 || c.EpsilonMin > c.EpsilonBase {
		return fmt.Errorf("invalid epsilon schedule: base=%g min=%g", c.EpsilonBase, c.EpsilonMin)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}
	if c.MinPriority < 0 || c.MinPriority > 1 {
		return fmt.Errorf("min_priority must be in [0,1], got %g", c.MinPriority)
	}
	return nil
}

// LearningRate returns the adaptive learning rate for a state that has seen
// count explicit feedback events. The +1 style denominator guard is built
// into the schedule: the divisor is always >= 1.
func (c Config) LearningRate(count int) float64 {
	k := c.LRDecayK
	if k <= 0 {
		k = 1
	}
	lr := c.LRBase / (1 + float64(count)/k)
	if lr < c.LRMin {
		return c.LRMin
	}
	return lr
}

// EpsilonFor returns the exploration rate after count explicit feedback events.
func (c Config) EpsilonFor(count int) float64 {
	k := c.EpsilonDecayK
	if k <= 0 {
		k = 1
	}
	eps := c.EpsilonBase / (1 + float64(count)/k)
	if eps < c.EpsilonMin {
		return c.EpsilonMin
	}
	return eps
}

// CompositionConfidence maps a sample count to [0,1] confidence.
func (c Config) CompositionConfidence(samples int) float64 {
	at := c.CompositionConfidenceAt
	if at <= 0 {
		at = 1
	}
	conf := float64(samples) / float64(at)
	if conf > 1 {
		return 1
	}
	return conf
}
