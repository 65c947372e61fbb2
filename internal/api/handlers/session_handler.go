package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/metrics"
	"github.com/scribeworks/backend/internal/session"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

type SessionHandler struct {
	manager *session.Manager
}

func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req struct {
		Name          string   `json:"name"`
		TranscriptIDs []string `json:"transcript_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	s, err := h.manager.CreateSession(req.Name, req.TranscriptIDs)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(sessionJSON(s))
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.manager.ListSessions()
	if err != nil {
		return errorResponse(c, err)
	}

	out := make([]fiber.Map, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessionJSON(&sessions[i]))
	}

	return c.JSON(fiber.Map{"sessions": out})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	s, err := h.manager.GetSession(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sessionJSON(s))
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	if err := h.manager.DeleteSession(c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleSessionAsk answers within a session: the session's transcripts
// scope retrieval and prior turns feed the prompt.
func (h *SessionHandler) HandleSessionAsk(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()

	msg, err := h.manager.Ask(c.Context(), session.AskRequest{
		SessionID:   c.Params("id"),
		Question:    req.Question,
		Options:     toRetrieverOptions(req.Options),
		Advanced:    req.Options.AdvancedGrading,
		Model:       req.Model,
		Temperature: req.Temperature,
	})

	metricsForAsk("session", msg, err, start)

	if err != nil {
		logger.Error("Failed to answer session question",
			zap.String("session_id", c.Params("id")),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(messageJSON(msg))
}

func (h *SessionHandler) ListMessages(c *fiber.Ctx) error {
	messages, err := h.manager.ListMessages(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}

	out := make([]fiber.Map, 0, len(messages))
	for i := range messages {
		out = append(out, messageJSON(&messages[i]))
	}

	return c.JSON(fiber.Map{"messages": out})
}

func (h *SessionHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		Type    string `json:"type"`
		Comment string `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	fb, sessionID, err := h.manager.SubmitFeedback(c.Context(), c.Params("id"), req.Type, req.Comment)
	if err != nil {
		return errorResponse(c, err)
	}

	metrics.FeedbackTotal.WithLabelValues(fb.Type).Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message_id": fb.MessageID,
		"session_id": sessionID,
		"type":       fb.Type,
		"comment":    fb.Comment,
	})
}

func sessionJSON(s *models.Session) fiber.Map {
	return fiber.Map{
		"id":             s.ID,
		"name":           s.Name,
		"transcript_ids": s.TranscriptIDs,
		"created_at":     s.CreatedAt.Unix(),
	}
}
