package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/rag/composer"
	"github.com/scribeworks/backend/internal/rag/grader"
	"github.com/scribeworks/backend/internal/rag/retriever"
	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

type Store interface {
	CreateSession(session *models.Session) error
	GetSession(id string) (*models.Session, error)
	ListSessions() ([]models.Session, error)
	DeleteSession(id string) error
	InsertMessage(msg *models.Message) error
	FinalizeMessage(msg *models.Message) error
	GetMessage(id string) (*models.Message, error)
	ListMessages(sessionID string) ([]models.Message, error)
	AttachMessageToSession(messageID, sessionID string) error
	InsertFeedback(fb *models.Feedback) error
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, transcriptIDs []string, opts retriever.Options) ([]models.RetrievedChunk, error)
}

type Composer interface {
	Compose(ctx context.Context, req composer.Request) (*composer.Answer, error)
}

type Grader interface {
	Grade(ctx context.Context, req grader.Request) *models.QualityMetrics
}

// Manager owns the question-answer lifecycle: sessions, the append-only
// message log, grading and feedback. Messages reach exactly one terminal
// state and are never edited afterwards.
type Manager struct {
	store     Store
	retriever Retriever
	composer  Composer
	grader    Grader
}

type AskRequest struct {
	SessionID     string
	Question      string
	TranscriptIDs []string
	Options       retriever.Options
	Advanced      bool
	Model         string
	Temperature   float32
}

func NewManager(store Store, r Retriever, c Composer, g Grader) *Manager {
	return &Manager{store: store, retriever: r, composer: c, grader: g}
}

// CreateSession opens a question thread. An empty transcript list is a
// valid scope meaning every indexed transcript.
func (m *Manager) CreateSession(name string, transcriptIDs []string) (*models.Session, error) {
	session := &models.Session{
		ID:            uuid.New().String(),
		Name:          name,
		TranscriptIDs: transcriptIDs,
		CreatedAt:     time.Now(),
	}

	if err := m.store.CreateSession(session); err != nil {
		return nil, err
	}

	logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.Int("transcripts", len(transcriptIDs)),
	)

	return session, nil
}

func (m *Manager) GetSession(id string) (*models.Session, error) {
	return m.store.GetSession(id)
}

func (m *Manager) ListSessions() ([]models.Session, error) {
	return m.store.ListSessions()
}

func (m *Manager) DeleteSession(id string) error {
	return m.store.DeleteSession(id)
}

func (m *Manager) ListMessages(sessionID string) ([]models.Message, error) {
	if _, err := m.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(sessionID)
}

// Ask answers a question. With a session ID the session's transcripts
// and prior turns feed the pipeline; without one the question runs
// ephemerally against the request's transcripts. Either way the message
// is persisted, so feedback can reference it later.
func (m *Manager) Ask(ctx context.Context, req AskRequest) (*models.Message, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question must not be empty", ragerr.ErrConfiguration)
	}

	transcriptIDs := req.TranscriptIDs
	var history []models.Message

	if req.SessionID != "" {
		session, err := m.store.GetSession(req.SessionID)
		if err != nil {
			return nil, err
		}
		transcriptIDs = session.TranscriptIDs

		history, err = m.store.ListMessages(req.SessionID)
		if err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Question:  question,
		Status:    models.MessagePending,
		CreatedAt: time.Now(),
	}
	if err := m.store.InsertMessage(msg); err != nil {
		return nil, err
	}

	opts := req.Options
	opts.Model = req.Model

	chunks, err := m.retriever.Retrieve(ctx, question, transcriptIDs, opts)
	if err != nil {
		m.fail(msg)
		return msg, err
	}

	answer, err := m.composer.Compose(ctx, composer.Request{
		Question:    question,
		Chunks:      chunks,
		History:     history,
		Model:       req.Model,
		Temperature: req.Temperature,
	})
	if err != nil {
		m.fail(msg)
		return msg, err
	}

	metrics := m.grader.Grade(ctx, grader.Request{
		Question: question,
		Answer:   answer.Text,
		Chunks:   chunks,
		Grounded: answer.Grounded,
		Advanced: req.Advanced,
		Model:    req.Model,
	})

	msg.Answer = answer.Text
	msg.Status = models.MessageAnswered
	msg.QualityMetrics = metrics
	msg.QualityScore = metrics.Overall * grader.DisplayScale
	msg.RetrievedChunks = chunks

	if err := m.store.FinalizeMessage(msg); err != nil {
		return nil, err
	}

	logger.Info("Question answered",
		zap.String("message_id", msg.ID),
		zap.String("session_id", req.SessionID),
		zap.Int("context_chunks", len(chunks)),
		zap.Float64("quality_score", msg.QualityScore),
	)

	return msg, nil
}

func (m *Manager) fail(msg *models.Message) {
	msg.Status = models.MessageFailed
	if err := m.store.FinalizeMessage(msg); err != nil {
		logger.Error("Failed to mark message failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// SubmitFeedback records feedback on a message. Feedback on a
// session-less message materializes a session around it first, so the
// feedback always lands in a durable thread.
func (m *Manager) SubmitFeedback(ctx context.Context, messageID, feedbackType, comment string) (*models.Feedback, string, error) {
	if feedbackType != models.FeedbackPositive && feedbackType != models.FeedbackNegative {
		return nil, "", fmt.Errorf("%w: feedback type must be %q or %q",
			ragerr.ErrConfiguration, models.FeedbackPositive, models.FeedbackNegative)
	}

	msg, err := m.store.GetMessage(messageID)
	if err != nil {
		return nil, "", err
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		session := &models.Session{
			ID:        uuid.New().String(),
			Name:      sessionNameFor(msg.Question),
			CreatedAt: time.Now(),
		}
		if err := m.store.CreateSession(session); err != nil {
			return nil, "", err
		}
		if err := m.store.AttachMessageToSession(messageID, session.ID); err != nil {
			return nil, "", err
		}
		sessionID = session.ID

		logger.Info("Session materialized from feedback",
			zap.String("session_id", sessionID),
			zap.String("message_id", messageID),
		)
	}

	fb := &models.Feedback{
		MessageID: messageID,
		Type:      feedbackType,
		Comment:   comment,
		CreatedAt: time.Now(),
	}
	if err := m.store.InsertFeedback(fb); err != nil {
		return nil, "", err
	}

	return fb, sessionID, nil
}

func sessionNameFor(question string) string {
	const maxName = 60
	name := strings.TrimSpace(question)
	if len(name) > maxName {
		name = strings.TrimSpace(name[:maxName]) + "..."
	}
	return name
}
