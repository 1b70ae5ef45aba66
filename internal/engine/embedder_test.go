package engine

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pmorton/custodian/internal/model"
	"github.com/pmorton/custodian/internal/store"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello World", []string{"hello", "world"}},
		{"foo-bar_baz 42x", []string{"foo-bar_baz", "42x"}},
		{"系统架构", []string{"系", "统", "架", "构"}},
		{"mix 架构 test", []string{"mix", "架", "构", "test"}},
		{"a b", nil}, // single-char latin tokens are dropped
	}
	for _, c := range cases {
		got := tokenize(c.in)
		if len(got) != len(c.want) {
			t.Errorf("tokenize(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("tokenize(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %f, want 1", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors = %f, want 0", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 0, 1}); got != 0 {
		t.Errorf("mismatched dims = %f, want 0", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors = %f, want 0", got)
	}
}

func TestTFIDFEmbedderFromCorpus(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	docs := []string{
		"storage layer refactor planned for next milestone cycle",
		"storage migration tooling needs a rollback path first",
		"frontend styling cleanup scheduled after the release",
	}
	for _, content := range docs {
		m := &model.Memory{
			ID:        model.NewID(),
			Content:   content,
			Timestamp: time.Now(),
			Status:    model.StatusActive,
		}
		if err := db.InsertMemory(m); err != nil {
			t.Fatal(err)
		}
	}

	emb, err := NewTFIDFEmbedder(db, 64)
	if err != nil {
		t.Fatalf("NewTFIDFEmbedder: %v", err)
	}
	if emb.Model() != "tfidf" {
		t.Errorf("model = %s", emb.Model())
	}

	a, err := emb.Embed(context.Background(), "storage refactor milestone")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := emb.Embed(context.Background(), "storage migration rollback")
	c, _ := emb.Embed(context.Background(), "frontend styling release")

	if CosineSimilarity(a, b) <= CosineSimilarity(a, c) {
		t.Error("related storage texts should score closer than unrelated ones")
	}

	// Normalized vectors have unit length (or zero for no matches).
	var norm float64
	for _, v := range a {
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Errorf("norm = %f, want 1", norm)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 768)
	vec, err := emb.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("vec = %v", vec)
	}
	if emb.Dimensions() != 3 {
		t.Errorf("dims = %d, want updated 3", emb.Dimensions())
	}

	if !ProbeOllama(srv.URL, "nomic-embed-text") {
		t.Error("probe should succeed against the stub")
	}
	if ProbeOllama("http://127.0.0.1:1", "nomic-embed-text") {
		t.Error("probe should fail against a closed port")
	}
}
