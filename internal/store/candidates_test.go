package store

import (
	"testing"

	"github.com/driftwall/driftwall/internal/engine"
)

func TestCandidateRoundTrip(t *testing.T) {
	db := testDB(t)

	in := engine.Candidate{
		ID:         "w1",
		Embedding:  []float64{0.1, -0.2, 0.3},
		Colors:     []string{"#112233", "#445566"},
		Category:   "nature",
		Brightness: 70,
		Contrast:   40,
		Composition: &engine.CompositionFeatures{
			Symmetry: 0.8, RuleOfThirds: 0.6, CenterWeight: 0.5, EdgeDensity: 0.3, Complexity: 0.2,
		},
	}
	if err := db.UpsertCandidate(in); err != nil {
		t.Fatalf("UpsertCandidate: %v", err)
	}

	out, err := db.GetCandidate("w1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if out == nil {
		t.Fatal("candidate not found after upsert")
	}
	if out.Category != "nature" || out.Brightness != 70 || out.Contrast != 40 {
		t.Errorf("scalars = %+v", out)
	}
	if len(out.Embedding) != 3 || out.Embedding[1] != -0.2 {
		t.Errorf("embedding = %v", out.Embedding)
	}
	if len(out.Colors) != 2 || out.Colors[0] != "#112233" {
		t.Errorf("colors = %v", out.Colors)
	}
	if out.Composition == nil || out.Composition.Symmetry != 0.8 {
		t.Errorf("composition = %+v", out.Composition)
	}
}

func TestCandidateNilComposition(t *testing.T) {
	db := testDB(t)
	seedCandidate(t, db, "plain", "abstract", []float64{1, 2})

	out, err := db.GetCandidate("plain")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if out.Composition != nil {
		t.Errorf("composition = %+v, want nil for a candidate without features", out.Composition)
	}
}

func TestGetCandidateMissing(t *testing.T) {
	db := testDB(t)
	out, err := db.GetCandidate("nope")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if out != nil {
		t.Errorf("got %+v for a missing id, want nil", out)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	db := testDB(t)
	seedCandidate(t, db, "w1", "nature", []float64{1, 0})
	seedCandidate(t, db, "w1", "space", []float64{0, 1})

	n, err := db.CountCandidates()
	if err != nil {
		t.Fatalf("CountCandidates: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1 after double upsert", n)
	}

	out, err := db.GetCandidate("w1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if out.Category != "space" || out.Embedding[0] != 0 {
		t.Errorf("candidate not replaced: %+v", out)
	}
}

func TestAllCandidatesOrdered(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		seedCandidate(t, db, id, "nature", []float64{1})
	}

	all, err := db.AllCandidates()
	if err != nil {
		t.Fatalf("AllCandidates: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(all) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, all[i].ID, id)
		}
	}
}

func TestDeleteCandidateClearsQueueEntry(t *testing.T) {
	db := testDB(t)
	seedCandidate(t, db, "w1", "nature", []float64{1})
	if err := db.SaveQueue([]engine.QueueEntry{{ID: "w1", Priority: 0.9}}); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	if err := db.DeleteCandidate("w1"); err != nil {
		t.Fatalf("DeleteCandidate: %v", err)
	}

	if c, _ := db.GetCandidate("w1"); c != nil {
		t.Error("candidate survived delete")
	}
	queue, err := db.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue: %v", err)
	}
	if len(queue) != 0 {
		t.Errorf("queue = %+v, want orphaned entry removed", queue)
	}
}
