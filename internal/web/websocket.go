package web

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams a job's progress until it finishes or the client
// goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if _, err := s.jobMgr.GetJob(jobID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Subscribe before taking the snapshot so no later update is lost.
	updates := s.jobMgr.Subscribe(jobID)
	defer s.jobMgr.Unsubscribe(jobID, updates)
	job, err := s.jobMgr.GetJob(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", err, "job_id", jobID)
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !s.send(conn, job) || job.Status.Finished() {
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return
			}
			if !s.send(conn, job) || job.Status.Finished() {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, job Job) bool {
	data, err := json.Marshal(jobToResponse(job))
	if err != nil {
		s.logger.Error("Failed to marshal job", err, "job_id", job.ID)
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("WebSocket write failed", "job_id", job.ID, "error", err.Error())
		return false
	}
	return true
}
