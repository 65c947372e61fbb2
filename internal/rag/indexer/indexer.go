package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/ingestion"
	"github.com/scribeworks/backend/internal/rag/embedding"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/internal/vector/milvus"
	"github.com/scribeworks/backend/pkg/logger"
)

const embedBatchSize = 64

type Chunker interface {
	Chunk(transcriptID, text string) ([]models.Chunk, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) (*embedding.Result, error)
	ActiveModel() (modelID string, dimension int)
}

type VectorStore interface {
	Available() bool
	ReplaceTranscript(ctx context.Context, dimension int, transcriptID string, points []milvus.Point) error
	DeleteTranscript(ctx context.Context, transcriptID string) error
}

type LexicalIndex interface {
	ReplaceTranscript(transcriptID string, chunks []models.Chunk)
	DeleteTranscript(transcriptID string)
}

type RecordStore interface {
	UpsertIndexRecord(record *models.IndexRecord) error
	GetIndexRecord(transcriptID string) (*models.IndexRecord, error)
	ListIndexRecords() ([]models.IndexRecord, error)
	DeleteIndexRecord(transcriptID string) error
	ReplaceTranscriptChunks(transcriptID string, chunks []models.Chunk) error
	DeleteTranscriptChunks(transcriptID string) error
	ListChunksByTranscript() (map[string][]models.Chunk, error)
}

// Invalidator drops cached answers that may reference a transcript's old
// content.
type Invalidator interface {
	InvalidateTranscript(ctx context.Context, transcriptID string) error
}

// ProgressFunc reports chunks processed so far out of the total for one
// transcript.
type ProgressFunc func(processed, total int)

// Indexer runs the chunk, embed, store pipeline and keeps the index
// records in SQLite as the authority on what is searchable.
type Indexer struct {
	chunker  Chunker
	provider EmbeddingProvider
	vectors  VectorStore
	lexical  LexicalIndex
	records  RecordStore
	cache    Invalidator
	workers  int
}

type TranscriptInput struct {
	TranscriptID string
	Text         string
}

type BatchResult struct {
	Records map[string]*models.IndexRecord
	Errors  map[string]error
}

func New(chunker Chunker, provider EmbeddingProvider, vectors VectorStore, lexical LexicalIndex, records RecordStore, cache Invalidator, workers int) *Indexer {
	if workers < 3 {
		workers = 3
	}
	if workers > 5 {
		workers = 5
	}

	return &Indexer{
		chunker:  chunker,
		provider: provider,
		vectors:  vectors,
		lexical:  lexical,
		records:  records,
		cache:    cache,
		workers:  workers,
	}
}

// IndexTranscript replaces all indexed content for the transcript. The
// vector write is generation-fenced, so concurrent searches see either
// the old or the new content, never neither.
func (ix *Indexer) IndexTranscript(ctx context.Context, transcriptID, text string, progress ProgressFunc) (*models.IndexRecord, error) {
	start := time.Now()

	text = ingestion.Normalize(text)

	chunks, err := ix.chunker.Chunk(transcriptID, text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk transcript %s: %w", transcriptID, err)
	}

	if len(chunks) == 0 {
		record := &models.IndexRecord{
			TranscriptID:  transcriptID,
			Indexed:       false,
			Reason:        models.ReasonEmptyTranscript,
			LastIndexedAt: time.Now(),
		}
		ix.clearTranscript(ctx, transcriptID)
		if err := ix.records.UpsertIndexRecord(record); err != nil {
			return nil, err
		}

		logger.Info("Transcript empty, nothing to index", zap.String("transcript_id", transcriptID))
		return record, nil
	}

	if progress != nil {
		progress(0, len(chunks))
	}

	if !ix.vectors.Available() {
		record := &models.IndexRecord{
			TranscriptID:  transcriptID,
			Indexed:       false,
			ChunkCount:    len(chunks),
			Reason:        models.ReasonVectorStoreUnavailable,
			LastIndexedAt: time.Now(),
		}
		// Lexical search keeps working while the vector store is down.
		ix.lexical.ReplaceTranscript(transcriptID, chunks)
		ix.records.ReplaceTranscriptChunks(transcriptID, chunks)
		if err := ix.records.UpsertIndexRecord(record); err != nil {
			return nil, err
		}
		// Cached answers may cite the old content even in degraded mode.
		if ix.cache != nil {
			if err := ix.cache.InvalidateTranscript(ctx, transcriptID); err != nil {
				logger.Warn("Cache invalidation failed", zap.String("transcript_id", transcriptID), zap.Error(err))
			}
		}

		logger.Warn("Vector store unavailable, transcript indexed for lexical search only",
			zap.String("transcript_id", transcriptID),
		)
		return record, nil
	}

	vectors, modelID, dimension, err := ix.embedChunks(ctx, chunks, progress)
	if err != nil {
		record := &models.IndexRecord{
			TranscriptID:  transcriptID,
			Indexed:       false,
			ChunkCount:    len(chunks),
			Reason:        models.ReasonEmbeddingFailed,
			LastIndexedAt: time.Now(),
		}
		ix.records.UpsertIndexRecord(record)
		return nil, fmt.Errorf("failed to embed transcript %s: %w", transcriptID, err)
	}

	generation := time.Now().UnixNano()
	points := make([]milvus.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = milvus.Point{
			Chunk:      chunk,
			Vector:     vectors[i],
			Generation: generation,
		}
	}

	err = ix.vectors.ReplaceTranscript(ctx, dimension, transcriptID, points)
	if err != nil {
		record := &models.IndexRecord{
			TranscriptID:  transcriptID,
			Indexed:       false,
			ChunkCount:    len(chunks),
			Reason:        models.ReasonVectorStoreUnavailable,
			LastIndexedAt: time.Now(),
		}
		ix.records.UpsertIndexRecord(record)
		return nil, fmt.Errorf("failed to store vectors for transcript %s: %w", transcriptID, err)
	}

	ix.lexical.ReplaceTranscript(transcriptID, chunks)
	if err := ix.records.ReplaceTranscriptChunks(transcriptID, chunks); err != nil {
		logger.Warn("Failed to persist chunks", zap.String("transcript_id", transcriptID), zap.Error(err))
	}

	if ix.cache != nil {
		if err := ix.cache.InvalidateTranscript(ctx, transcriptID); err != nil {
			logger.Warn("Cache invalidation failed", zap.String("transcript_id", transcriptID), zap.Error(err))
		}
	}

	record := &models.IndexRecord{
		TranscriptID:   transcriptID,
		Indexed:        true,
		ChunkCount:     len(chunks),
		EmbeddingModel: modelID,
		Generation:     generation,
		LastIndexedAt:  time.Now(),
	}
	if err := ix.records.UpsertIndexRecord(record); err != nil {
		return nil, err
	}

	if progress != nil {
		progress(len(chunks), len(chunks))
	}

	logger.Info("Transcript indexed",
		zap.String("transcript_id", transcriptID),
		zap.Int("chunks", len(chunks)),
		zap.String("embedding_model", modelID),
		zap.Duration("elapsed", time.Since(start)),
	)

	return record, nil
}

func (ix *Indexer) embedChunks(ctx context.Context, chunks []models.Chunk, progress ProgressFunc) ([][]float32, string, int, error) {
	var vectors [][]float32
	var modelID string
	var dimension int

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}

		result, err := ix.provider.Embed(ctx, texts)
		if err != nil {
			return nil, "", 0, err
		}

		// The provider's sticky fallback guarantees one model per run;
		// anything else indicates a bug upstream.
		if modelID == "" {
			modelID = result.ModelID
			dimension = result.Dimension
		} else if result.ModelID != modelID {
			return nil, "", 0, fmt.Errorf("embedding model changed mid-run: %s -> %s", modelID, result.ModelID)
		}

		vectors = append(vectors, result.Vectors...)

		if progress != nil {
			progress(end, len(chunks))
		}
	}

	return vectors, modelID, dimension, nil
}

// IndexBatch indexes transcripts concurrently through a bounded worker
// pool. Per-transcript failures are collected, not fatal.
func (ix *Indexer) IndexBatch(ctx context.Context, inputs []TranscriptInput, progress ProgressFunc) *BatchResult {
	result := &BatchResult{
		Records: make(map[string]*models.IndexRecord),
		Errors:  make(map[string]error),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, ix.workers)

	total := len(inputs)
	completed := 0

	for _, input := range inputs {
		wg.Add(1)
		sem <- struct{}{}

		go func(input TranscriptInput) {
			defer wg.Done()
			defer func() { <-sem }()

			record, err := ix.IndexTranscript(ctx, input.TranscriptID, input.Text, nil)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				result.Errors[input.TranscriptID] = err
			} else {
				result.Records[input.TranscriptID] = record
			}

			completed++
			if progress != nil {
				progress(completed, total)
			}
		}(input)
	}

	wg.Wait()

	logger.Info("Batch indexing finished",
		zap.Int("total", total),
		zap.Int("succeeded", len(result.Records)),
		zap.Int("failed", len(result.Errors)),
	)

	return result
}

// DeleteTranscript removes the transcript from every index and clears
// its record.
func (ix *Indexer) DeleteTranscript(ctx context.Context, transcriptID string) error {
	if ix.vectors.Available() {
		if err := ix.vectors.DeleteTranscript(ctx, transcriptID); err != nil {
			return err
		}
	}

	ix.clearTranscript(ctx, transcriptID)

	if err := ix.records.DeleteIndexRecord(transcriptID); err != nil {
		return err
	}

	logger.Info("Transcript removed from index", zap.String("transcript_id", transcriptID))
	return nil
}

func (ix *Indexer) clearTranscript(ctx context.Context, transcriptID string) {
	ix.lexical.DeleteTranscript(transcriptID)
	ix.records.DeleteTranscriptChunks(transcriptID)
	if ix.cache != nil {
		ix.cache.InvalidateTranscript(ctx, transcriptID)
	}
}

func (ix *Indexer) Status(transcriptID string) (*models.IndexRecord, error) {
	return ix.records.GetIndexRecord(transcriptID)
}

func (ix *Indexer) StatusAll() ([]models.IndexRecord, error) {
	return ix.records.ListIndexRecords()
}

// RebuildLexical reloads the in-memory BM25 index from persisted chunks,
// typically at startup.
func (ix *Indexer) RebuildLexical() error {
	grouped, err := ix.records.ListChunksByTranscript()
	if err != nil {
		return fmt.Errorf("failed to load persisted chunks: %w", err)
	}

	for transcriptID, chunks := range grouped {
		ix.lexical.ReplaceTranscript(transcriptID, chunks)
	}

	logger.Info("Lexical index rebuilt", zap.Int("transcripts", len(grouped)))
	return nil
}
