package engine

import (
	"fmt"
	"math"
	"time"
)

// maxColorDistance is the RGB-space diagonal: sqrt(3 * 255^2).
var maxColorDistance = math.Sqrt(3 * 255 * 255)

// Calculator scores candidates against a preference snapshot. It is pure:
// identical inputs always produce identical output, and exploration
// randomness lives entirely in the Ranker.
type Calculator struct {
	cfg Config
}

// NewCalculator returns a Calculator using the given tuning.
func NewCalculator(cfg Config) Calculator {
	return Calculator{cfg: cfg}
}

// Score computes the ranked score for one candidate. A dimension mismatch is
// a ValidationError; the caller skips the candidate and continues.
func (c Calculator) Score(cand Candidate, state *PreferenceState, trackers *Trackers, now time.Time) (RankedCandidate, error) {
	if len(cand.Embedding) != c.cfg.Dim {
		return RankedCandidate{}, &ValidationError{
			ID:     cand.ID,
			Reason: fmt.Sprintf("embedding has %d dimensions, want %d", len(cand.Embedding), c.cfg.Dim),
		}
	}

	embScore := c.embeddingScore(cand, state)
	colorScore := c.colorScore(cand, trackers)
	compScore := c.compositionScore(cand, trackers)
	bonus := c.categoryBonus(cand, trackers)

	final := clamp01(c.cfg.EmbeddingWeight*embScore +
		c.cfg.ColorWeight*colorScore +
		c.cfg.CompositionWeight*compScore +
		bonus)

	return RankedCandidate{
		ID:               cand.ID,
		Category:         cand.Category,
		FinalScore:       final,
		EmbeddingScore:   embScore,
		ColorScore:       colorScore,
		CompositionScore: compScore,
		CategoryBonus:    bonus,
	}, nil
}

// embeddingScore maps cosine similarity from [-1,1] to [0,1]. Before any
// feedback exists every candidate gets the neutral 0.5 so ranking degrades
// to category and universal ordering.
func (c Calculator) embeddingScore(cand Candidate, state *PreferenceState) float64 {
	if !state.Initialized() {
		return 0.5
	}
	cos := CosineSimilarity(cand.Embedding, state.Vector)
	return (cos + 1) / 2
}

// colorScore averages, over the candidate's dominant colors, the similarity
// to the nearest color that carries positive feedback weight, scaled by that
// color's stat score. The match is chosen by distance alone; a farther color
// with a stronger score never substitutes for the nearest one. With no color
// signal at all the score is the neutral 0.5.
func (c Calculator) colorScore(cand Candidate, trackers *Trackers) float64 {
	var scored []*ColorStat
	for _, s := range trackers.Colors {
		if s.HasFeedback() && s.Score() > 0 {
			scored = append(scored, s)
		}
	}
	if len(scored) == 0 || len(cand.Colors) == 0 {
		return 0.5
	}

	var sum float64
	var counted int
	for _, hex := range cand.Colors {
		r, g, b, err := ParseHexColor(hex)
		if err != nil {
			continue
		}
		nearest := scored[0]
		bestDist := rgbDistance(r, g, b, nearest.R, nearest.G, nearest.B)
		for _, s := range scored[1:] {
			d := rgbDistance(r, g, b, s.R, s.G, s.B)
			if d < bestDist {
				bestDist = d
				nearest = s
			}
		}
		sum += (1 - bestDist/maxColorDistance) * nearest.Score()
		counted++
	}
	if counted == 0 {
		return 0.5
	}
	return clamp01(sum / float64(counted))
}

// compositionScore measures agreement between the candidate's layout and the
// learned profile, blended toward neutral by the profile's confidence.
func (c Calculator) compositionScore(cand Candidate, trackers *Trackers) float64 {
	p := trackers.Composition
	conf := c.cfg.CompositionConfidence(p.SampleCount)
	if conf == 0 || cand.Composition == nil {
		return 0.5
	}

	f := cand.Composition
	agreement := (agree(f.Symmetry, p.AvgSymmetry) +
		agree(f.RuleOfThirds, p.AvgRuleOfThirds) +
		agree(f.CenterWeight, p.AvgCenterWeight) +
		agree(f.EdgeDensity, p.AvgEdgeDensity) +
		agree(f.Complexity, p.AvgComplexity)) / 5

	return clamp01(0.5 + conf*(agreement-0.5))
}

// categoryBonus scales the [-1,1] category stat score into the additive
// tie-break band. No feedback means exactly zero.
func (c Calculator) categoryBonus(cand Candidate, trackers *Trackers) float64 {
	s := trackers.Category(cand.Category)
	if s == nil {
		return 0
	}
	return s.Score() * c.cfg.CategoryBonusScale
}

// agree maps the distance between a feature and its learned average to [0,1].
func agree(feature, learned float64) float64 {
	return 1 - math.Abs(clamp01(feature)-clamp01(learned))
}

func rgbDistance(r1, g1, b1, r2, g2, b2 uint8) float64 {
	dr := float64(r1) - float64(r2)
	dg := float64(g1) - float64(g2)
	db := float64(b1) - float64(b2)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
