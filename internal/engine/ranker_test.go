package engine

import (
	"math/rand"
	"testing"
	"time"
)

func coldSnapshot(cfg Config) Snapshot {
	return Snapshot{
		State:    NewPreferenceState(cfg),
		Trackers: NewTrackers(),
		Now:      time.Now(),
	}
}

func noExploration(snap Snapshot) Snapshot {
	snap.State.Epsilon = 0
	return snap
}

func TestRankEmptyPool(t *testing.T) {
	r := NewRanker(testConfig(), rand.New(rand.NewSource(1)))
	if got := r.Rank(nil, coldSnapshot(testConfig())); len(got) != 0 {
		t.Errorf("ranking an empty pool returned %d entries", len(got))
	}
}

func TestRankSortsByScoreThenID(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))

	// Cold start scores every candidate identically, so order falls back
	// to id ascending.
	pool := []Candidate{
		testCandidate("zebra", "nature", unitVec(0)),
		testCandidate("alpha", "nature", unitVec(1)),
		testCandidate("mango", "nature", unitVec(2)),
	}
	ranked := r.Rank(pool, coldSnapshot(cfg))
	if len(ranked) != 3 {
		t.Fatalf("ranked %d, want 3", len(ranked))
	}
	want := []string{"alpha", "mango", "zebra"}
	for i, id := range want {
		if ranked[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, ranked[i].ID, id)
		}
	}
}

func TestRankSkipsMalformedCandidates(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))
	pool := []Candidate{
		testCandidate("good", "nature", unitVec(0)),
		testCandidate("bad", "nature", []float64{1, 2}), // wrong dimension
	}
	ranked := r.Rank(pool, coldSnapshot(cfg))
	if len(ranked) != 1 || ranked[0].ID != "good" {
		t.Fatalf("ranked = %+v, want only the well-formed candidate", ranked)
	}
}

func TestRankDeterministicForFixedState(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))

	state := &PreferenceState{Vector: normalized([]float64{1, 1, 0, 0, 0, 0, 0, 0}), FeedbackCount: 5}
	snap := Snapshot{State: state, Trackers: NewTrackers(), Now: time.Now()}

	pool := []Candidate{
		testCandidate("a", "nature", []float64{1, 1, 0, 0, 0, 0, 0, 0}),
		testCandidate("b", "abstract", unitVec(3)),
		testCandidate("c", "space", []float64{1, 0.5, 0, 0, 0, 0, 0, 0}),
	}

	first := r.Rank(pool, snap)
	second := r.Rank(pool, snap)
	for i := range first {
		if first[i].ID != second[i].ID || first[i].FinalScore != second[i].FinalScore {
			t.Fatalf("ranking not reproducible at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].ID != "a" {
		t.Errorf("best match = %s, want a", first[0].ID)
	}
}

func TestDiversityFilterExcludesRecentCategory(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))

	snap := noExploration(coldSnapshot(cfg))
	// "nature" was shown recently and has plenty of views.
	snap.Trackers.Categories["nature"] = &CategoryStat{
		Name: "nature", Views: 10, LastShown: snap.Now.Add(-time.Hour),
	}

	ranked := r.Rank([]Candidate{
		testCandidate("n1", "nature", unitVec(0)),
		testCandidate("s1", "space", unitVec(1)),
	}, snap)
	queue := r.BuildQueue(ranked, nil, snap)

	for _, e := range queue {
		if e.ID == "n1" {
			t.Fatal("recently shown, well-explored category survived the diversity filter")
		}
	}
}

func TestDiversityFilterKeepsUnderexplored(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))

	snap := noExploration(coldSnapshot(cfg))
	// Recently shown but only 1 view: still underexplored, stays in.
	snap.Trackers.Categories["nature"] = &CategoryStat{
		Name: "nature", Views: 1, LastShown: snap.Now.Add(-time.Hour),
	}

	ranked := r.Rank([]Candidate{testCandidate("n1", "nature", unitVec(0))}, snap)
	queue := r.BuildQueue(ranked, nil, snap)
	if len(queue) != 1 || queue[0].ID != "n1" {
		t.Fatalf("queue = %+v, want the underexplored candidate kept", queue)
	}
}

func TestDiversityFilterNeverEmptiesQueue(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))

	snap := noExploration(coldSnapshot(cfg))
	snap.Trackers.Categories["nature"] = &CategoryStat{
		Name: "nature", Views: 20, LastShown: snap.Now.Add(-time.Minute),
	}

	// Every candidate is from the filtered category.
	ranked := r.Rank([]Candidate{
		testCandidate("n1", "nature", unitVec(0)),
		testCandidate("n2", "nature", unitVec(1)),
	}, snap)
	queue := r.BuildQueue(ranked, nil, snap)
	if len(queue) == 0 {
		t.Fatal("diversity filter starved the queue")
	}
}

func TestQueueCategorySpacing(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))
	snap := noExploration(coldSnapshot(cfg))

	// 9 candidates over 3 categories; cold start makes scores equal so the
	// spacing rule fully determines the interleave.
	var pool []Candidate
	for i, cat := range []string{"nature", "space", "abstract"} {
		for j := 0; j < 3; j++ {
			id := string(rune('a'+i)) + string(rune('0'+j))
			pool = append(pool, testCandidate(id, cat, unitVec(i*3+j)))
		}
	}

	ranked := r.Rank(pool, snap)
	queue := r.BuildQueue(ranked, nil, snap)
	if len(queue) != 9 {
		t.Fatalf("queue length = %d, want 9", len(queue))
	}

	byID := make(map[string]string, len(pool))
	for _, c := range pool {
		byID[c.ID] = c.Category
	}
	for i := 2; i < len(queue); i++ {
		window := map[string]int{}
		for _, e := range queue[i-2 : i+1] {
			window[byID[e.ID]]++
		}
		for cat, n := range window {
			if n > 1 {
				t.Fatalf("category %s appears %d times in window ending at %d", cat, n, i)
			}
		}
	}
}

func TestQueueThresholdBackfill(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 3
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))
	snap := noExploration(coldSnapshot(cfg))

	ranked := []RankedCandidate{
		{ID: "hi", Category: "a", FinalScore: 0.9},
		{ID: "lo1", Category: "b", FinalScore: 0.2},
		{ID: "lo2", Category: "c", FinalScore: 0.1},
		{ID: "lo3", Category: "d", FinalScore: 0.05},
	}
	queue := r.BuildQueue(ranked, nil, snap)
	if len(queue) != 3 {
		t.Fatalf("queue length = %d, want 3 (one above floor plus backfill)", len(queue))
	}
	if queue[0].ID != "hi" {
		t.Errorf("head = %s, want the above-floor candidate first", queue[0].ID)
	}
}

func TestQueueSpacingSurvivesThresholdBackfill(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))
	snap := noExploration(coldSnapshot(cfg))

	// Two strong same-category picks plus below-floor backfill. The spacing
	// pass must still separate them after the threshold trims and backfills.
	ranked := []RankedCandidate{
		{ID: "a1", Category: "a", FinalScore: 0.9},
		{ID: "a2", Category: "a", FinalScore: 0.8},
		{ID: "b1", Category: "b", FinalScore: 0.2},
		{ID: "c1", Category: "c", FinalScore: 0.2},
	}
	queue := r.BuildQueue(ranked, nil, snap)
	if len(queue) != 4 {
		t.Fatalf("queue length = %d, want 4", len(queue))
	}
	want := []string{"a1", "b1", "c1", "a2"}
	for i, id := range want {
		if queue[i].ID != id {
			t.Fatalf("queue order = %v, want %v", queueIDs(queue), want)
		}
	}
}

func queueIDs(queue []QueueEntry) []string {
	ids := make([]string, len(queue))
	for i, e := range queue {
		ids[i] = e.ID
	}
	return ids
}

func TestQueueCapAtMaxSize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 5
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))
	snap := noExploration(coldSnapshot(cfg))

	ranked := make([]RankedCandidate, 0, 20)
	for i := 0; i < 20; i++ {
		ranked = append(ranked, RankedCandidate{
			ID:         string(rune('a' + i)),
			Category:   string(rune('a' + i)), // all distinct, no spacing pressure
			FinalScore: 0.9 - float64(i)*0.01,
		})
	}
	queue := r.BuildQueue(ranked, nil, snap)
	if len(queue) != 5 {
		t.Fatalf("queue length = %d, want cap 5", len(queue))
	}
}

func TestQueueUpsertPreservesDownloadState(t *testing.T) {
	cfg := testConfig()
	r := NewRanker(cfg, rand.New(rand.NewSource(1)))
	snap := noExploration(coldSnapshot(cfg))

	ranked := []RankedCandidate{
		{ID: "keep", Category: "a", FinalScore: 0.8},
		{ID: "new", Category: "b", FinalScore: 0.7},
	}
	existing := []QueueEntry{
		{ID: "keep", Priority: 0.5, Downloaded: true, RetryCount: 2},
		{ID: "gone", Priority: 0.9, Downloaded: true},
	}

	queue := r.BuildQueue(ranked, existing, snap)
	got := make(map[string]QueueEntry, len(queue))
	for _, e := range queue {
		got[e.ID] = e
	}

	keep, ok := got["keep"]
	if !ok || !keep.Downloaded || keep.RetryCount != 2 {
		t.Errorf("surviving entry = %+v, want download state carried over", keep)
	}
	if keep.Priority != 0.8 {
		t.Errorf("surviving priority = %v, want refreshed 0.8", keep.Priority)
	}
	if n, ok := got["new"]; !ok || n.Downloaded || n.RetryCount != 0 {
		t.Errorf("new entry = %+v, want fresh state", got["new"])
	}
	if _, ok := got["gone"]; ok {
		t.Error("entry absent from the ranking survived the rebuild")
	}
}

func TestExplorationIsSeedDeterministic(t *testing.T) {
	cfg := testConfig()
	snap := coldSnapshot(cfg)
	snap.State.Epsilon = 0.5

	pool := make([]RankedCandidate, 0, 10)
	for i := 0; i < 10; i++ {
		pool = append(pool, RankedCandidate{
			ID:         string(rune('a' + i)),
			Category:   string(rune('a' + i)),
			FinalScore: 0.9 - float64(i)*0.01,
		})
	}

	a := NewRanker(cfg, rand.New(rand.NewSource(42))).BuildQueue(pool, nil, snap)
	b := NewRanker(cfg, rand.New(rand.NewSource(42))).BuildQueue(pool, nil, snap)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("same seed diverged at %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
}
