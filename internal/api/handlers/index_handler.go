package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/metrics"
	"github.com/scribeworks/backend/internal/rag/indexer"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

type IndexHandler struct {
	indexer *indexer.Indexer
	tracker *JobTracker
}

func NewIndexHandler(ix *indexer.Indexer, tracker *JobTracker) *IndexHandler {
	return &IndexHandler{indexer: ix, tracker: tracker}
}

// IndexTranscript (re)indexes one transcript synchronously.
func (h *IndexHandler) IndexTranscript(c *fiber.Ctx) error {
	transcriptID := c.Params("id")

	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	start := time.Now()
	record, err := h.indexer.IndexTranscript(c.Context(), transcriptID, req.Text, nil)
	metrics.IndexingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.IndexedTranscripts.WithLabelValues("failed").Inc()
		logger.Error("Indexing failed", zap.String("transcript_id", transcriptID), zap.Error(err))
		return errorResponse(c, err)
	}

	status := "indexed"
	if !record.Indexed {
		status = "skipped"
	}
	metrics.IndexedTranscripts.WithLabelValues(status).Inc()

	return c.JSON(indexRecordJSON(record))
}

// IndexBatch starts asynchronous indexing for several transcripts and
// returns a job ID for progress tracking over the websocket.
func (h *IndexHandler) IndexBatch(c *fiber.Ctx) error {
	var req struct {
		Transcripts []struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"transcripts"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(req.Transcripts) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one transcript is required",
		})
	}

	inputs := make([]indexer.TranscriptInput, len(req.Transcripts))
	for i, t := range req.Transcripts {
		inputs[i] = indexer.TranscriptInput{TranscriptID: t.ID, Text: t.Text}
	}

	jobID := h.tracker.Start(len(inputs))

	go func() {
		ctx := context.Background()

		result := h.indexer.IndexBatch(ctx, inputs, func(processed, total int) {
			h.tracker.Publish(ProgressEvent{
				JobID:     jobID,
				Status:    JobRunning,
				Processed: processed,
				Total:     total,
			})
		})

		status := JobCompleted
		if len(result.Errors) == len(inputs) {
			status = JobFailed
		}
		h.tracker.Publish(ProgressEvent{
			JobID:     jobID,
			Status:    status,
			Processed: len(inputs),
			Total:     len(inputs),
			Failed:    len(result.Errors),
		})

		for _, record := range result.Records {
			label := "indexed"
			if !record.Indexed {
				label = "skipped"
			}
			metrics.IndexedTranscripts.WithLabelValues(label).Inc()
		}
		for range result.Errors {
			metrics.IndexedTranscripts.WithLabelValues("failed").Inc()
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id": jobID,
		"total":  len(inputs),
	})
}

func (h *IndexHandler) DeleteTranscript(c *fiber.Ctx) error {
	transcriptID := c.Params("id")

	if err := h.indexer.DeleteTranscript(c.Context(), transcriptID); err != nil {
		return errorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *IndexHandler) GetIndexStatus(c *fiber.Ctx) error {
	record, err := h.indexer.Status(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(indexRecordJSON(record))
}

func (h *IndexHandler) GetStatus(c *fiber.Ctx) error {
	records, err := h.indexer.StatusAll()
	if err != nil {
		return errorResponse(c, err)
	}

	out := make([]fiber.Map, 0, len(records))
	for i := range records {
		out = append(out, indexRecordJSON(&records[i]))
	}

	return c.JSON(fiber.Map{"transcripts": out})
}

func indexRecordJSON(record *models.IndexRecord) fiber.Map {
	out := fiber.Map{
		"transcript_id":   record.TranscriptID,
		"indexed":         record.Indexed,
		"chunk_count":     record.ChunkCount,
		"last_indexed_at": record.LastIndexedAt.Unix(),
	}
	if record.EmbeddingModel != "" {
		out["embedding_model"] = record.EmbeddingModel
	}
	if record.Reason != "" {
		out["reason"] = record.Reason
	}
	return out
}
