package store

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/driftwall/driftwall/internal/engine"
)

func testState(version int64) *engine.PreferenceState {
	return &engine.PreferenceState{
		Vector:        []float64{0.6, 0.8},
		Momentum:      []float64{0.01, -0.02},
		LikedIDs:      []string{"w1", "w2"},
		DislikedIDs:   []string{"w3"},
		FeedbackCount: 3,
		Epsilon:       0.08,
		Mode:          engine.ModeAuto,
		LastUpdated:   time.UnixMilli(1700000000000),
		Version:       version,
	}
}

func TestLoadPreferenceStateDefaultsWhenMissing(t *testing.T) {
	db := testDB(t)

	st, err := db.LoadPreferenceState()
	if err != nil {
		t.Fatalf("LoadPreferenceState: %v", err)
	}
	if st.Mode != engine.ModeAuto || st.Version != 0 || st.FeedbackCount != 0 {
		t.Errorf("cold default = %+v", st)
	}
	if len(st.Vector) != 0 {
		t.Errorf("cold default has a vector: %v", st.Vector)
	}

	v, err := db.StateVersion()
	if err != nil {
		t.Fatalf("StateVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("version = %d with no state row, want 0", v)
	}
}

func TestPreferenceStateRoundTrip(t *testing.T) {
	db := testDB(t)

	in := testState(1)
	if err := db.SavePreferenceState(in, 0); err != nil {
		t.Fatalf("SavePreferenceState: %v", err)
	}

	out, err := db.LoadPreferenceState()
	if err != nil {
		t.Fatalf("LoadPreferenceState: %v", err)
	}
	if out.Version != 1 || out.FeedbackCount != 3 || out.Epsilon != 0.08 {
		t.Errorf("scalars = %+v", out)
	}
	for i := range in.Vector {
		if out.Vector[i] != in.Vector[i] {
			t.Errorf("vector[%d] = %v, want exact %v", i, out.Vector[i], in.Vector[i])
		}
		if out.Momentum[i] != in.Momentum[i] {
			t.Errorf("momentum[%d] = %v, want exact %v", i, out.Momentum[i], in.Momentum[i])
		}
	}
	if len(out.LikedIDs) != 2 || out.LikedIDs[0] != "w1" || len(out.DislikedIDs) != 1 {
		t.Errorf("id history = %v / %v", out.LikedIDs, out.DislikedIDs)
	}
	if !out.LastUpdated.Equal(in.LastUpdated) {
		t.Errorf("last updated = %v, want %v", out.LastUpdated, in.LastUpdated)
	}
}

func TestSavePreferenceStateVersionConflict(t *testing.T) {
	db := testDB(t)
	if err := db.SavePreferenceState(testState(1), 0); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	// Stale writer expects version 0, but the row is at 1.
	err := db.SavePreferenceState(testState(2), 0)
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// The matching expectation succeeds.
	if err := db.SavePreferenceState(testState(2), 1); err != nil {
		t.Fatalf("save with correct expectation: %v", err)
	}
	v, _ := db.StateVersion()
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestFirstCommitRequiresZeroExpectation(t *testing.T) {
	db := testDB(t)
	err := db.SavePreferenceState(testState(5), 4)
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict for a nonzero expectation on an empty table", err)
	}
}

func TestCorruptStateKeepsVersionForWrites(t *testing.T) {
	db := testDB(t)
	if err := db.SavePreferenceState(testState(7), 0); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	if _, err := db.Exec("UPDATE preference_state SET liked_ids = 'not-json' WHERE id = 1"); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	// Learned fields fall back to cold, but the version must survive so the
	// next commit can still pass the optimistic check.
	st, err := db.LoadPreferenceState()
	if err != nil {
		t.Fatalf("LoadPreferenceState: %v", err)
	}
	if st.Version != 7 {
		t.Fatalf("version after corrupt load = %d, want 7", st.Version)
	}
	if st.FeedbackCount != 0 || len(st.Vector) != 0 || len(st.LikedIDs) != 0 {
		t.Errorf("corrupt load kept learned fields: %+v", st)
	}

	next := testState(8)
	delta := engine.TrackerDelta{Category: "nature", Like: true, View: true, ShownAt: time.Now()}
	ev := engine.FeedbackEvent{CandidateID: "w1", Kind: engine.FeedbackLike, CreatedAt: time.Now()}
	if err := db.CommitFeedback(next, st.Version, delta, ev); err != nil {
		t.Fatalf("CommitFeedback after corrupt load: %v", err)
	}

	// The overwrite also repairs the row.
	out, err := db.LoadPreferenceState()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if out.Version != 8 || len(out.LikedIDs) != 2 {
		t.Errorf("repaired state = %+v", out)
	}
}

func TestCommitFeedbackIsAtomic(t *testing.T) {
	db := testDB(t)

	st := testState(1)
	delta := engine.TrackerDelta{
		Category: "nature",
		Colors:   []string{"#228b22"},
		Like:     true,
		View:     true,
		ShownAt:  time.Now(),
		Composition: &engine.CompositionFeatures{
			Symmetry: 0.9, RuleOfThirds: 0.5, CenterWeight: 0.4, EdgeDensity: 0.3, Complexity: 0.1,
		},
	}
	ev := engine.FeedbackEvent{CandidateID: "w1", Kind: engine.FeedbackLike, CreatedAt: time.Now()}

	if err := db.CommitFeedback(st, 0, delta, ev); err != nil {
		t.Fatalf("CommitFeedback: %v", err)
	}

	trackers, err := db.LoadTrackers()
	if err != nil {
		t.Fatalf("LoadTrackers: %v", err)
	}
	cat := trackers.Category("nature")
	if cat == nil || cat.Likes != 1 || cat.Views != 1 {
		t.Errorf("category stat = %+v", cat)
	}
	if trackers.Colors["#228b22"] == nil || trackers.Colors["#228b22"].Likes != 1 {
		t.Errorf("color stat = %+v", trackers.Colors["#228b22"])
	}
	if trackers.Composition.SampleCount != 1 || trackers.Composition.AvgSymmetry != 0.9 {
		t.Errorf("composition = %+v", trackers.Composition)
	}

	events, err := db.RecentFeedbackEvents(10)
	if err != nil {
		t.Fatalf("RecentFeedbackEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != engine.FeedbackLike || events[0].ID == "" {
		t.Errorf("events = %+v", events)
	}
}

func TestCommitFeedbackConflictLeavesNothingBehind(t *testing.T) {
	db := testDB(t)
	if err := db.SavePreferenceState(testState(1), 0); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	delta := engine.TrackerDelta{Category: "space", Like: true, View: true, ShownAt: time.Now()}
	ev := engine.FeedbackEvent{CandidateID: "w9", Kind: engine.FeedbackLike, CreatedAt: time.Now()}

	err := db.CommitFeedback(testState(2), 0, delta, ev)
	if !errors.Is(err, engine.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// The rejected transaction must not have written trackers or events.
	trackers, _ := db.LoadTrackers()
	if trackers.Category("space") != nil {
		t.Error("tracker delta leaked from a rejected commit")
	}
	events, _ := db.RecentFeedbackEvents(10)
	if len(events) != 0 {
		t.Errorf("event log = %+v after rejected commit, want empty", events)
	}
}

func TestResetLearnedStateKeepsEventLog(t *testing.T) {
	db := testDB(t)

	delta := engine.TrackerDelta{Category: "nature", Like: true, View: true, ShownAt: time.Now()}
	ev := engine.FeedbackEvent{CandidateID: "w1", Kind: engine.FeedbackLike, CreatedAt: time.Now()}
	if err := db.CommitFeedback(testState(1), 0, delta, ev); err != nil {
		t.Fatalf("CommitFeedback: %v", err)
	}
	if err := db.SaveQueue([]engine.QueueEntry{{ID: "w1", Priority: 0.9}}); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	fresh := &engine.PreferenceState{Mode: engine.ModeAuto, Version: 2, LastUpdated: time.Now()}
	if err := db.ResetLearnedState(fresh); err != nil {
		t.Fatalf("ResetLearnedState: %v", err)
	}

	st, _ := db.LoadPreferenceState()
	if st.Version != 2 || st.FeedbackCount != 0 || len(st.Vector) != 0 {
		t.Errorf("state after reset = %+v", st)
	}
	trackers, _ := db.LoadTrackers()
	if len(trackers.Categories) != 0 || len(trackers.Colors) != 0 || trackers.Composition.SampleCount != 0 {
		t.Error("trackers survived reset")
	}
	queue, _ := db.LoadQueue()
	if len(queue) != 0 {
		t.Error("queue survived reset")
	}
	events, _ := db.RecentFeedbackEvents(10)
	if len(events) != 1 {
		t.Errorf("event log = %d entries after reset, want 1 kept", len(events))
	}
}

// A persisted state must rank a pool identically to the in-memory state it
// was saved from: the float64 round trip through the BLOB encoding is exact.
func TestPersistedStateRanksIdentically(t *testing.T) {
	db := testDB(t)
	cfg := engine.DefaultConfig()
	cfg.Dim = 4

	rng := rand.New(rand.NewSource(7))
	vec := make([]float64, cfg.Dim)
	for i := range vec {
		vec[i] = rng.NormFloat64()
	}
	in := &engine.PreferenceState{
		Vector:        vec,
		Momentum:      make([]float64, cfg.Dim),
		FeedbackCount: 12,
		Epsilon:       0.05,
		Mode:          engine.ModeAuto,
		LastUpdated:   time.Now(),
		Version:       1,
	}
	if err := db.SavePreferenceState(in, 0); err != nil {
		t.Fatalf("SavePreferenceState: %v", err)
	}
	out, err := db.LoadPreferenceState()
	if err != nil {
		t.Fatalf("LoadPreferenceState: %v", err)
	}

	pool := make([]engine.Candidate, 0, 30)
	for i := 0; i < 30; i++ {
		emb := make([]float64, cfg.Dim)
		for j := range emb {
			emb[j] = rng.NormFloat64()
		}
		pool = append(pool, engine.Candidate{
			ID:        string(rune('a' + i%26)) + string(rune('0' + i/26)),
			Embedding: emb,
			Colors:    []string{"#aabbcc"},
			Category:  "cat" + string(rune('0'+i%5)),
		})
	}

	snapA := engine.Snapshot{State: in, Trackers: engine.NewTrackers(), Now: time.Now()}
	snapB := engine.Snapshot{State: out, Trackers: snapA.Trackers, Now: snapA.Now}

	a := engine.NewRanker(cfg, rand.New(rand.NewSource(1))).Rank(pool, snapA)
	b := engine.NewRanker(cfg, rand.New(rand.NewSource(1))).Rank(pool, snapB)

	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].FinalScore != b[i].FinalScore {
			t.Fatalf("rankings diverged at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}
