package kernel

import (
	"fmt"
	"net/http"

	"specsched/internal/core/services"
)

// handleRunSSE streams one run's scheduler events as server-sent events.
func (s *Server) handleRunSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		s.writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	if s.bus == nil {
		s.writeError(w, http.StatusNotFound, "event streaming is not enabled")
		return
	}
	ch, unsub := s.bus.Subscribe(runID)
	defer unsub()
	s.streamSSE(w, r, ch)
}

// handleGlobalSSE streams every scheduler event across all runs.
func (s *Server) handleGlobalSSE(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusNotFound, "event streaming is not enabled")
		return
	}
	ch, unsub := s.bus.SubscribeGlobal()
	defer unsub()
	s.streamSSE(w, r, ch)
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, ch <-chan services.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
