package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmorton/custodian/internal/engine"
	"github.com/pmorton/custodian/internal/model"
	"github.com/pmorton/custodian/internal/report"
	"github.com/pmorton/custodian/internal/sched"
)

// handleTrigger starts a manual maintenance pass and waits for it. A pass
// already in flight gets 409, retrying is the caller's call.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.RunOnce(r.Context(), "manual")
	if err != nil {
		if errors.Is(err, engine.ErrRunInFlight) {
			http.Error(w, `{"error":"maintenance run already in flight"}`, http.StatusConflict)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var load sched.LoadSnapshot
	if s.prober != nil {
		load = s.prober.Sample()
	}

	resp := map[string]any{
		"run_in_flight": s.runner.InFlight(),
		"last_run":      s.runner.LastResult(),
	}
	if s.scheduler != nil {
		resp["scheduler"] = s.scheduler.Status(time.Now(), load)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleReport renders the markdown report for today, or for ?date=YYYY-MM-DD.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, time.Local)
		if err != nil {
			http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
			return
		}
		day = parsed
	}

	md, err := report.Daily(s.db, day)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(md))
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	var (
		memories []model.Memory
		err      error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		if !model.ValidStatuses[model.Status(status)] {
			http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
			return
		}
		memories, err = s.db.ListByStatus(model.Status(status))
	} else {
		memories, err = s.db.ListAll()
	}
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":    len(memories),
		"memories": memories,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")

	m, err := s.db.GetMemory(id)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if m == nil {
		http.Error(w, `{"error":"memory not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}
