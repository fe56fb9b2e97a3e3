package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/task"
)

// taskCreateHandler creates a progress task and returns its id. The client
// passes the id along with the OCR upload and follows the progress stream.
func (s *Server) taskCreateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, TaskCreateResponse{TaskID: s.registry.Create()})
}

// progressHandler streams task progress as server-sent events. Each update is
// written as a data frame; completion additionally arrives as a named
// "complete" event so EventSource clients can close cleanly.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	taskID := r.PathValue("taskId")
	if taskID == "" {
		s.writeErrorResponse(w, "missing task id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorResponse(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := s.registry.Subscribe(taskID)
	defer cancel()

	progressSubscribers.Inc()
	defer progressSubscribers.Dec()

	idle := time.NewTimer(s.progressIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-idle.C:
			writeSSE(w, "timeout", task.State{
				Stage:   task.StageError,
				Message: "progress stream timed out",
			})
			flusher.Flush()
			return

		case state, open := <-updates:
			if !open {
				return
			}
			idle.Reset(s.progressIdleTimeout)

			writeSSE(w, "", state)
			if state.Stage == task.StageComplete {
				writeSSE(w, "complete", state)
			}
			flusher.Flush()

			if state.Stage.Terminal() {
				return
			}
		}
	}
}

// writeSSE writes one server-sent event frame. An empty event name emits a
// plain data frame.
func writeSSE(w http.ResponseWriter, event string, state task.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		slog.Error("Failed to marshal progress state", "error", err)
		return
	}
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
