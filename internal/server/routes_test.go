package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pmorton/custodian/internal/config"
	"github.com/pmorton/custodian/internal/engine"
	"github.com/pmorton/custodian/internal/graph"
	"github.com/pmorton/custodian/internal/model"
	"github.com/pmorton/custodian/internal/store"
)

func testComponents(t *testing.T, c engine.ConsistencyScorer) (*store.DB, *engine.Runner) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	index := graph.NewIndex(db)
	verdicts := engine.NewVerdictEngine(config.Default().Scoring, c, nil, nil)
	recon := engine.NewBatchReconstructor(verdicts, 10, 0.35)
	applier := engine.NewLifecycleApplier(db, index)
	runner := engine.NewRunner(db, recon, applier, index, nil)
	return db, runner
}

func testServer(t *testing.T) (*Server, *store.DB) {
	db, runner := testComponents(t, nil)
	return New(db, runner, nil, nil, "test"), db
}

func seedMemory(t *testing.T, db *store.DB, content string) *model.Memory {
	t.Helper()
	m := &model.Memory{
		ID:         model.NewID(),
		Content:    content,
		Topic:      "testing",
		SourceType: "conversation",
		Timestamp:  time.Now(),
		Importance: 0.5,
		Confidence: 0.8,
		Status:     model.StatusActive,
	}
	if err := db.InsertMemory(m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" || resp["db"] != true {
		t.Errorf("health = %v", resp)
	}
}

func TestTriggerRunsPass(t *testing.T) {
	srv, db := testServer(t)
	seedMemory(t, db, "早上我们讨论了系统架构优化方案，决定采用分层设计来提升模块解耦程度。")
	seedMemory(t, db, "提示词文件未找到: base_prompt.txt")

	req := httptest.NewRequest("POST", "/api/maintenance/trigger", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["trigger_kind"] != "manual" {
		t.Errorf("trigger_kind = %v", resp["trigger_kind"])
	}
	if resp["total"] != float64(2) || resp["deleted"] != float64(1) {
		t.Errorf("counts = total %v, deleted %v", resp["total"], resp["deleted"])
	}
}

// blockingScorer parks the pass until released, keeping the run in flight.
type blockingScorer struct {
	entered  chan struct{}
	released chan struct{}
}

func (b *blockingScorer) ScoreConsistency(string) (float64, string, error) {
	close(b.entered)
	<-b.released
	return 0.9, "ok", nil
}

func TestTriggerConflictWhileInFlight(t *testing.T) {
	block := &blockingScorer{
		entered:  make(chan struct{}),
		released: make(chan struct{}),
	}
	db, runner := testComponents(t, block)
	seedMemory(t, db, "一条会被阻塞住评估流程的普通记录内容。")
	srv := New(db, runner, nil, nil, "test")

	go runner.RunOnce(context.Background(), "scheduled")
	<-block.entered

	req := httptest.NewRequest("POST", "/api/maintenance/trigger", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	close(block.released)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409; body: %s", w.Code, w.Body.String())
	}
}

func TestMaintenanceStatus(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/maintenance/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["run_in_flight"] != false {
		t.Errorf("run_in_flight = %v", resp["run_in_flight"])
	}
}

func TestListMemoriesFilters(t *testing.T) {
	srv, db := testServer(t)
	seedMemory(t, db, "active record number one for the listing")
	m := seedMemory(t, db, "record that moves to the archive shortly")
	if err := db.UpdateStatus(m.ID, model.StatusArchived, ""); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/api/memories?status=archived", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count    int            `json:"count"`
		Memories []model.Memory `json:"memories"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || resp.Memories[0].ID != m.ID {
		t.Errorf("filtered list = %+v", resp)
	}

	req = httptest.NewRequest("GET", "/api/memories?status=bogus", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus status = %d, want 400", w.Code)
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/memories/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	srv, db := testServer(t)
	seedMemory(t, db, "提示词文件未找到: base_prompt.txt")

	// Run a pass so the report has content.
	req := httptest.NewRequest("POST", "/api/maintenance/trigger", nil)
	srv.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/api/maintenance/report", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Error("report body empty")
	}

	req = httptest.NewRequest("GET", "/api/maintenance/report?date=not-a-date", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", w.Code)
	}
}
