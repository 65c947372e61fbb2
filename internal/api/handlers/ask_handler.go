package handlers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/cache/redis"
	"github.com/scribeworks/backend/internal/metrics"
	"github.com/scribeworks/backend/internal/rag/retriever"
	"github.com/scribeworks/backend/internal/session"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
	"github.com/scribeworks/backend/pkg/utils"
)

const answerCacheTTL = time.Hour

type AskHandler struct {
	manager *session.Manager
	cache   *redis.Client
}

type askOptions struct {
	TopK            int  `json:"top_k"`
	HybridSearch    bool `json:"hybrid_search"`
	Reranking       bool `json:"reranking"`
	QueryExpansion  bool `json:"query_expansion"`
	MultiHop        bool `json:"multi_hop"`
	AdvancedGrading bool `json:"advanced_grading"`
}

type askRequest struct {
	Question      string     `json:"question"`
	TranscriptIDs []string   `json:"transcript_ids"`
	Options       askOptions `json:"options"`
	Model         string     `json:"model"`
	Temperature   float32    `json:"temperature"`
}

func NewAskHandler(manager *session.Manager, cache *redis.Client) *AskHandler {
	return &AskHandler{manager: manager, cache: cache}
}

// HandleAsk answers a question without a session. The message is still
// persisted, so later feedback can anchor it to a session.
func (h *AskHandler) HandleAsk(c *fiber.Ctx) error {
	var req askRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()

	// Session-less answers have no history, so identical requests can be
	// served from cache.
	cacheKey := h.cacheKey(req)
	if h.cache != nil {
		cached, hit, err := h.cache.GetAnswer(c.Context(), cacheKey)
		if err != nil {
			logger.Warn("Answer cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			return c.JSON(fiber.Map{
				"question":      req.Question,
				"answer":        cached.Answer,
				"quality_score": cached.QualityScore,
				"cached":        true,
			})
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	msg, err := h.manager.Ask(c.Context(), session.AskRequest{
		Question:      req.Question,
		TranscriptIDs: req.TranscriptIDs,
		Options:       toRetrieverOptions(req.Options),
		Advanced:      req.Options.AdvancedGrading,
		Model:         req.Model,
		Temperature:   req.Temperature,
	})

	metricsForAsk("ephemeral", msg, err, start)

	if err != nil {
		logger.Error("Failed to answer question", zap.Error(err))
		return errorResponse(c, err)
	}

	if h.cache != nil && msg.Status == models.MessageAnswered {
		cerr := h.cache.SetAnswer(c.Context(), cacheKey, req.TranscriptIDs, &redis.CachedAnswer{
			Answer:       msg.Answer,
			QualityScore: msg.QualityScore,
		}, answerCacheTTL)
		if cerr != nil {
			logger.Warn("Failed to cache answer", zap.Error(cerr))
		}
	}

	return c.JSON(messageJSON(msg))
}

func (h *AskHandler) cacheKey(req askRequest) string {
	ids := append([]string(nil), req.TranscriptIDs...)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("|")
	b.WriteString(strings.Join(ids, ","))
	b.WriteString("|")
	b.WriteString(req.Model)
	fmt.Fprintf(&b, "|k=%d|t=%g", req.Options.TopK, req.Temperature)
	if req.Options.HybridSearch {
		b.WriteString("|h")
	}
	if req.Options.Reranking {
		b.WriteString("|r")
	}
	if req.Options.QueryExpansion {
		b.WriteString("|e")
	}
	if req.Options.MultiHop {
		b.WriteString("|m")
	}
	if req.Options.AdvancedGrading {
		b.WriteString("|g")
	}

	return utils.HashString(b.String())
}

func toRetrieverOptions(opts askOptions) retriever.Options {
	return retriever.Options{
		TopK:           opts.TopK,
		HybridSearch:   opts.HybridSearch,
		Reranking:      opts.Reranking,
		QueryExpansion: opts.QueryExpansion,
		MultiHop:       opts.MultiHop,
	}
}

func metricsForAsk(scope string, msg *models.Message, err error, start time.Time) {
	metrics.AskDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AskTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.AskTotal.WithLabelValues("answered").Inc()
	metrics.QualityScore.Observe(msg.QualityScore)

	counts := make(map[string]int)
	for _, chunk := range msg.RetrievedChunks {
		counts[chunk.Source]++
	}
	for source, count := range counts {
		metrics.RetrievedChunksCount.WithLabelValues(source).Observe(float64(count))
	}
}

func messageJSON(msg *models.Message) fiber.Map {
	chunks := make([]fiber.Map, 0, len(msg.RetrievedChunks))
	for _, chunk := range msg.RetrievedChunks {
		chunks = append(chunks, fiber.Map{
			"chunk_id":      chunk.Chunk.ID,
			"transcript_id": chunk.Chunk.TranscriptID,
			"text":          chunk.Chunk.Text,
			"score":         chunk.Score,
			"source":        chunk.Source,
		})
	}

	out := fiber.Map{
		"id":               msg.ID,
		"question":         msg.Question,
		"answer":           msg.Answer,
		"status":           msg.Status,
		"quality_score":    msg.QualityScore,
		"retrieved_chunks": chunks,
		"created_at":       msg.CreatedAt.Unix(),
	}
	if msg.SessionID != "" {
		out["session_id"] = msg.SessionID
	}
	if msg.QualityMetrics != nil {
		out["quality_metrics"] = fiber.Map{
			"groundedness": msg.QualityMetrics.Groundedness,
			"completeness": msg.QualityMetrics.Completeness,
			"relevance":    msg.QualityMetrics.Relevance,
			"overall":      msg.QualityMetrics.Overall,
		}
	}

	return out
}
