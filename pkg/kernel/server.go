// Package kernel exposes the scheduler's state and run history over HTTP.
package kernel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"specsched/internal/core/domain"
	"specsched/internal/core/ports"
	"specsched/internal/core/services"
)

type Server struct {
	logger  *slog.Logger
	store   ports.StateStore
	history ports.HistoryRepository // optional
	bus     *services.EventBus      // optional; SSE endpoints 404 without it
}

func NewServer(logger *slog.Logger, store ports.StateStore, history ports.HistoryRepository, bus *services.EventBus) *Server {
	return &Server{
		logger:  logger,
		store:   store,
		history: history,
		bus:     bus,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/specs/{name}", s.handleSpec)
	mux.HandleFunc("GET /v1/runs", s.handleRuns)
	mux.HandleFunc("GET /v1/runs/{id}/tasks", s.handleRunTasks)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleRunSSE)
	mux.HandleFunc("GET /v1/events", s.handleGlobalSSE)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	spec, err := s.store.GetSpec(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "specification not found: "+name)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"spec":             spec,
		"progress_percent": spec.ProgressPercentage(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunTasks(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	runID := r.PathValue("id")
	events, err := s.history.ListTaskEvents(r.Context(), runID)
	if err != nil {
		s.logger.Error("failed to list task events", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list task events")
		return
	}
	if events == nil {
		events = []domain.TaskEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "tasks": events})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
