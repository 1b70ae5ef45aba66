package store

import (
	"math"
	"testing"
)

func TestVectorRoundtrip(t *testing.T) {
	db := testDB(t)

	m := testMemory("vector carrier")
	if err := db.InsertMemory(m); err != nil {
		t.Fatal(err)
	}

	want := []float64{0.25, -1.5, math.Pi, 0}
	if err := db.SaveVector(m.ID, want, "tfidf"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	rec, err := db.GetVector(m.ID)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if rec.Model != "tfidf" {
		t.Errorf("model = %s", rec.Model)
	}
	if len(rec.Embedding) != len(want) {
		t.Fatalf("dims = %d, want %d", len(rec.Embedding), len(want))
	}
	for i := range want {
		if rec.Embedding[i] != want[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, rec.Embedding[i], want[i])
		}
	}
}

func TestSaveVectorUpsert(t *testing.T) {
	db := testDB(t)

	m := testMemory("upsert target")
	if err := db.InsertMemory(m); err != nil {
		t.Fatal(err)
	}

	if err := db.SaveVector(m.ID, []float64{1, 2}, "tfidf"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveVector(m.ID, []float64{3, 4, 5}, "ollama:nomic-embed-text"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := db.GetVector(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Embedding) != 3 || rec.Embedding[0] != 3 {
		t.Errorf("embedding = %v, want replacement", rec.Embedding)
	}

	all, err := db.AllVectors()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("AllVectors = %d rows, want 1", len(all))
	}
}
