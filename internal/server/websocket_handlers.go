package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/ocrstudio/internal/task"
	"github.com/gorilla/websocket"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin in development
		return true
	},
}

// ProgressMessage is the frame sent over the progress WebSocket.
type ProgressMessage struct {
	Type  string     `json:"type"` // "progress", "complete", "timeout"
	State task.State `json:"state"`
}

// progressWebSocketHandler streams task progress over a WebSocket as an
// alternative to the SSE endpoint for clients behind SSE-hostile proxies.
func (s *Server) progressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if taskID == "" {
		s.writeErrorResponse(w, "missing task id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("Progress WebSocket established", "task_id", taskID, "remote_addr", r.RemoteAddr)

	// Drain client frames so close and pong handling keep working.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("received").Inc()
		}
	}()

	// Ping to keep the connection alive through idle stretches.
	pings := time.NewTicker(30 * time.Second)
	defer pings.Stop()

	updates, cancel := s.registry.Subscribe(taskID)
	defer cancel()

	idle := time.NewTimer(s.progressIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}

		case <-idle.C:
			s.sendProgressMessage(conn, ProgressMessage{
				Type:  "timeout",
				State: task.State{Stage: task.StageError, Message: "progress stream timed out"},
			})
			return

		case state, open := <-updates:
			if !open {
				return
			}
			idle.Reset(s.progressIdleTimeout)

			msgType := "progress"
			if state.Stage == task.StageComplete {
				msgType = "complete"
			}
			if !s.sendProgressMessage(conn, ProgressMessage{Type: msgType, State: state}) {
				return
			}
			if state.Stage.Terminal() {
				return
			}
		}
	}
}

// sendProgressMessage writes one frame; false means the connection is gone.
func (s *Server) sendProgressMessage(conn *websocket.Conn, msg ProgressMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal progress message", "error", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return true
}
