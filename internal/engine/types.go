package engine

// Candidate is one wallpaper eligible for ranking. Embeddings, colors and
// composition features are produced by the upstream feature extractor; the
// engine treats them as opaque numbers.
type Candidate struct {
	ID          string               `json:"id"`
	Embedding   []float64            `json:"embedding"`
	Colors      []string             `json:"colors"` // dominant colors as #rrggbb hex
	Category    string               `json:"category"`
	Brightness  int                  `json:"brightness"` // 0-100
	Contrast    int                  `json:"contrast"`   // 0-100
	Composition *CompositionFeatures `json:"composition,omitempty"`
}

// CompositionFeatures are layout measurements in [0,1], extracted upstream.
type CompositionFeatures struct {
	Symmetry     float64 `json:"symmetry"`
	RuleOfThirds float64 `json:"rule_of_thirds"`
	CenterWeight float64 `json:"center_weight"`
	EdgeDensity  float64 `json:"edge_density"`
	Complexity   float64 `json:"complexity"`
}

// RankedCandidate is the scored output for one candidate.
// EmbeddingScore is the cosine similarity already remapped from [-1,1]
// to [0,1]; CategoryBonus sits in the tie-break band around zero.
type RankedCandidate struct {
	ID               string  `json:"id"`
	Category         string  `json:"category"`
	FinalScore       float64 `json:"final_score"`
	EmbeddingScore   float64 `json:"embedding_score"`
	ColorScore       float64 `json:"color_score"`
	CompositionScore float64 `json:"composition_score"`
	CategoryBonus    float64 `json:"category_bonus"`
}

// QueueEntry is one slot in the bounded download queue. Download state and
// retry counts survive queue rebuilds; the ranking only refreshes priority
// and membership.
type QueueEntry struct {
	ID         string  `json:"id"`
	Priority   float64 `json:"priority"`
	Downloaded bool    `json:"downloaded"`
	RetryCount int     `json:"retry_count"`
}
