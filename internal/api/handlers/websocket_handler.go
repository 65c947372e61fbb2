package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/pkg/logger"
)

type WebSocketHandler struct {
	tracker *JobTracker
}

func NewWebSocketHandler(tracker *JobTracker) *WebSocketHandler {
	return &WebSocketHandler{tracker: tracker}
}

// HandleIndexProgress streams progress events for an indexing job until
// the job reaches a terminal state or the client disconnects.
func (h *WebSocketHandler) HandleIndexProgress(c *websocket.Conn) {
	jobID := c.Params("jobID")

	defer func() {
		c.Close()
		logger.Debug("Progress stream closed", zap.String("job_id", jobID))
	}()

	last, events, ok := h.tracker.Subscribe(jobID)
	if !ok {
		c.WriteJSON(map[string]string{"error": "unknown job"})
		return
	}

	if err := c.WriteJSON(last); err != nil {
		return
	}
	if events == nil {
		return
	}
	defer h.tracker.Unsubscribe(jobID, events)

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			logger.Debug("Progress subscriber gone", zap.String("job_id", jobID), zap.Error(err))
			return
		}
	}

	// Channel closed on completion; send the terminal event.
	final, _, ok := h.tracker.Subscribe(jobID)
	if ok {
		c.WriteJSON(final)
	}
}
