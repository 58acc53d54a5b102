package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CategoryStat tracks aggregate feedback for one wallpaper category.
type CategoryStat struct {
	Name      string    `json:"name"`
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`
	Views     int       `json:"views"`
	LastShown time.Time `json:"last_shown"`
}

// ColorStat tracks aggregate feedback for one dominant color.
type ColorStat struct {
	Hex       string    `json:"hex"`
	R, G, B   uint8     `json:"-"` // derived from Hex on creation
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`
	Views     int       `json:"views"`
	LastShown time.Time `json:"last_shown"`
}

// statScore maps like/dislike counts to [-1,1]. Dislikes are weighted double
// so a category the user actively rejects sinks faster than it rose. The +1
// denominator makes the zero-feedback case return exactly 0.
func statScore(likes, dislikes int) float64 {
	return float64(likes-2*dislikes) / float64(likes+dislikes+1)
}

// Score returns the [-1,1] preference score for the category.
func (c *CategoryStat) Score() float64 { return statScore(c.Likes, c.Dislikes) }

// Score returns the [-1,1] preference score for the color.
func (c *ColorStat) Score() float64 { return statScore(c.Likes, c.Dislikes) }

// IsUnderexplored reports whether the category has too few views to judge.
func (c *CategoryStat) IsUnderexplored(threshold int) bool { return c.Views < threshold }

// WasShownRecently reports whether the category surfaced within the window.
func (c *CategoryStat) WasShownRecently(now time.Time, window time.Duration) bool {
	if c.LastShown.IsZero() {
		return false
	}
	return now.Sub(c.LastShown) < window
}

// HasFeedback reports whether the color carries any explicit signal.
func (c *ColorStat) HasFeedback() bool { return c.Likes > 0 || c.Dislikes > 0 }

// ParseHexColor parses #rrggbb (leading # optional) into an RGB triple.
func ParseHexColor(hex string) (r, g, b uint8, err error) {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("color %q: want 6 hex digits", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("color %q: %w", hex, err)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}

// CompositionProfile is the running picture of which layouts the user likes,
// built from the composition features of liked wallpapers. Averages and
// tendencies stay in [0,1]; tendencies are continuous scores, not booleans
// (>0.7 reads as a strong preference, <0.3 as a strong aversion).
type CompositionProfile struct {
	AvgSymmetry     float64 `json:"avg_symmetry"`
	AvgRuleOfThirds float64 `json:"avg_rule_of_thirds"`
	AvgCenterWeight float64 `json:"avg_center_weight"`
	AvgEdgeDensity  float64 `json:"avg_edge_density"`
	AvgComplexity   float64 `json:"avg_complexity"`

	PrefersSymmetry float64 `json:"prefers_symmetry"`
	PrefersMinimal  float64 `json:"prefers_minimal"`
	PrefersCentered float64 `json:"prefers_centered"`
	PrefersDetailed float64 `json:"prefers_detailed"`

	SampleCount int `json:"sample_count"`
}

// Record folds one liked wallpaper's features into the running averages via
// an incremental mean, then re-derives the tendency scores.
func (p *CompositionProfile) Record(f CompositionFeatures) {
	p.SampleCount++
	n := float64(p.SampleCount)
	p.AvgSymmetry += (f.Symmetry - p.AvgSymmetry) / n
	p.AvgRuleOfThirds += (f.RuleOfThirds - p.AvgRuleOfThirds) / n
	p.AvgCenterWeight += (f.CenterWeight - p.AvgCenterWeight) / n
	p.AvgEdgeDensity += (f.EdgeDensity - p.AvgEdgeDensity) / n
	p.AvgComplexity += (f.Complexity - p.AvgComplexity) / n

	p.PrefersSymmetry = clamp01(p.AvgSymmetry)
	p.PrefersMinimal = clamp01(1 - p.AvgComplexity)
	p.PrefersCentered = clamp01(p.AvgCenterWeight)
	p.PrefersDetailed = clamp01(p.AvgEdgeDensity)
}

// Trackers bundles the auxiliary statistics consulted during scoring.
// Entries are created lazily on first observation and never evicted; the
// finite vocabulary of categories and colors bounds them naturally.
type Trackers struct {
	Categories  map[string]*CategoryStat
	Colors      map[string]*ColorStat
	Composition *CompositionProfile
}

// NewTrackers returns empty trackers.
func NewTrackers() *Trackers {
	return &Trackers{
		Categories:  make(map[string]*CategoryStat),
		Colors:      make(map[string]*ColorStat),
		Composition: &CompositionProfile{},
	}
}

// Category returns the stat for name, or nil if never observed.
func (t *Trackers) Category(name string) *CategoryStat {
	return t.Categories[name]
}

func (t *Trackers) categoryOrCreate(name string) *CategoryStat {
	s, ok := t.Categories[name]
	if !ok {
		s = &CategoryStat{Name: name}
		t.Categories[name] = s
	}
	return s
}

func (t *Trackers) colorOrCreate(hex string) (*ColorStat, error) {
	s, ok := t.Colors[hex]
	if !ok {
		r, g, b, err := ParseHexColor(hex)
		if err != nil {
			return nil, err
		}
		s = &ColorStat{Hex: hex, R: r, G: g, B: b}
		t.Colors[hex] = s
	}
	return s, nil
}

// Clone returns a deep copy for ranking snapshots.
func (t *Trackers) Clone() *Trackers {
	out := NewTrackers()
	for k, v := range t.Categories {
		c := *v
		out.Categories[k] = &c
	}
	for k, v := range t.Colors {
		c := *v
		out.Colors[k] = &c
	}
	comp := *t.Composition
	out.Composition = &comp
	return out
}

// TrackerDelta is the set of tracker increments produced for one feedback
// event. It commits atomically with the new PreferenceState.
type TrackerDelta struct {
	Category    string
	Colors      []string
	Like        bool
	Dislike     bool
	View        bool
	ShownAt     time.Time
	Composition *CompositionFeatures // recorded on likes only
}

// Apply folds the delta into the trackers in memory. The store layer applies
// the same delta transactionally for persistence; this keeps a live snapshot
// current without a reload. Malformed colors are skipped.
func (t *Trackers) Apply(d TrackerDelta) {
	if d.Category != "" {
		s := t.categoryOrCreate(d.Category)
		if d.View {
			s.Views++
			s.LastShown = d.ShownAt
		}
		if d.Like {
			s.Likes++
		}
		if d.Dislike {
			s.Dislikes++
		}
	}
	for _, hex := range d.Colors {
		s, err := t.colorOrCreate(hex)
		if err != nil {
			continue
		}
		if d.View {
			s.Views++
			s.LastShown = d.ShownAt
		}
		if d.Like {
			s.Likes++
		}
		if d.Dislike {
			s.Dislikes++
		}
	}
	if d.Composition != nil {
		t.Composition.Record(*d.Composition)
	}
}
