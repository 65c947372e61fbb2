package retriever

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/rag/embedding"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

// VectorSearcher is the vector store surface the retriever needs.
type VectorSearcher interface {
	Available() bool
	Search(ctx context.Context, queryVector []float32, topK int, transcriptIDs []string) ([]models.RetrievedChunk, error)
}

// LexicalSearcher is the BM25 surface the retriever needs.
type LexicalSearcher interface {
	Search(query string, topK int, transcriptIDs []string) []models.RetrievedChunk
}

// Embedder turns query text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*embedding.Result, error)
}

// Completer is the LLM surface used for expansion, decomposition and
// reranking.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Options control a single retrieval run. Zero values fall back to the
// retriever's configured defaults.
type Options struct {
	TopK           int
	HybridSearch   bool
	Reranking      bool
	QueryExpansion bool
	MultiHop       bool
	Model          string
}

type Config struct {
	TopK             int
	VectorWeight     float64
	BM25Weight       float64
	FusionMultiplier int
}

// Retriever runs hybrid retrieval: vector and lexical search in
// parallel, weighted score fusion, and optional LLM-backed expansion,
// decomposition and reranking. Every LLM-dependent stage degrades to a
// no-op on failure; only losing both search branches is fatal.
type Retriever struct {
	vector   VectorSearcher
	lexical  LexicalSearcher
	embedder Embedder
	llm      Completer
	cfg      Config
}

func New(vector VectorSearcher, lexical LexicalSearcher, embedder Embedder, completer Completer, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = 0.7
	}
	if cfg.BM25Weight <= 0 {
		cfg.BM25Weight = 0.3
	}
	if cfg.FusionMultiplier <= 0 {
		cfg.FusionMultiplier = 2
	}

	return &Retriever{
		vector:   vector,
		lexical:  lexical,
		embedder: embedder,
		llm:      completer,
		cfg:      cfg,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, transcriptIDs []string, opts Options) ([]models.RetrievedChunk, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	queries := []string{query}
	if opts.QueryExpansion {
		queries = append(queries, r.expandQuery(ctx, query, opts.Model)...)
	}
	if opts.MultiHop {
		queries = append(queries, r.decomposeQuery(ctx, query, opts.Model)...)
	}

	candidates := r.search(ctx, queries, transcriptIDs, topK, opts)

	if opts.Reranking && len(candidates) > 0 {
		candidates = r.rerank(ctx, query, candidates, opts.Model)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		// Ties inside one transcript resolve to the earlier passage.
		if a.Chunk.TranscriptID == b.Chunk.TranscriptID {
			return a.Chunk.SequenceIndex < b.Chunk.SequenceIndex
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	logger.Info("Retrieval completed",
		zap.Int("queries", len(queries)),
		zap.Int("results", len(candidates)),
		zap.Bool("hybrid", opts.HybridSearch),
		zap.Bool("reranked", opts.Reranking),
	)

	return candidates, nil
}

// search runs the vector and lexical branches concurrently for every
// query variant and fuses the merged per-branch rankings.
func (r *Retriever) search(ctx context.Context, queries []string, transcriptIDs []string, topK int, opts Options) []models.RetrievedChunk {
	fetchK := topK * r.cfg.FusionMultiplier

	var wg sync.WaitGroup
	var vectorResults, lexicalResults map[string]models.RetrievedChunk

	useVector := r.vector != nil && r.vector.Available()
	if !useVector {
		logger.Warn("Vector store unavailable, falling back to lexical search only")
	}

	if useVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vectorResults = r.searchVector(ctx, queries, transcriptIDs, fetchK)
		}()
	}

	if opts.HybridSearch || !useVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexicalResults = r.searchLexical(queries, transcriptIDs, fetchK)
		}()
	}

	wg.Wait()

	return r.fuse(vectorResults, lexicalResults)
}

func (r *Retriever) searchVector(ctx context.Context, queries []string, transcriptIDs []string, fetchK int) map[string]models.RetrievedChunk {
	result, err := r.embedder.Embed(ctx, queries)
	if err != nil {
		logger.Warn("Query embedding failed, skipping vector branch", zap.Error(err))
		return nil
	}

	merged := make(map[string]models.RetrievedChunk)
	for _, vector := range result.Vectors {
		chunks, err := r.vector.Search(ctx, vector, fetchK, transcriptIDs)
		if err != nil {
			logger.Warn("Vector search failed", zap.Error(err))
			continue
		}

		// A chunk found by several query variants keeps its best score.
		for _, chunk := range chunks {
			if existing, ok := merged[chunk.Chunk.ID]; !ok || chunk.Score > existing.Score {
				merged[chunk.Chunk.ID] = chunk
			}
		}
	}

	return merged
}

func (r *Retriever) searchLexical(queries []string, transcriptIDs []string, fetchK int) map[string]models.RetrievedChunk {
	merged := make(map[string]models.RetrievedChunk)
	for _, q := range queries {
		for _, chunk := range r.lexical.Search(q, fetchK, transcriptIDs) {
			if existing, ok := merged[chunk.Chunk.ID]; !ok || chunk.Score > existing.Score {
				merged[chunk.Chunk.ID] = chunk
			}
		}
	}
	return merged
}

// fuse min-max normalizes each branch to [0, 1] and combines them with
// the configured weights. A chunk missing from a branch contributes zero
// from that branch, so chunks found by both rank above single-source
// chunks with comparable raw scores.
func (r *Retriever) fuse(vectorResults, lexicalResults map[string]models.RetrievedChunk) []models.RetrievedChunk {
	if len(vectorResults) == 0 && len(lexicalResults) == 0 {
		return nil
	}

	vectorNorm := normalizeScores(vectorResults)
	lexicalNorm := normalizeScores(lexicalResults)

	ids := make(map[string]bool)
	for id := range vectorResults {
		ids[id] = true
	}
	for id := range lexicalResults {
		ids[id] = true
	}

	fused := make([]models.RetrievedChunk, 0, len(ids))
	for id := range ids {
		var chunk models.RetrievedChunk
		inVector := false
		inLexical := false

		if c, ok := vectorResults[id]; ok {
			chunk = c
			inVector = true
		}
		if c, ok := lexicalResults[id]; ok {
			chunk = c
			inLexical = true
		}

		chunk.Score = r.cfg.VectorWeight*vectorNorm[id] + r.cfg.BM25Weight*lexicalNorm[id]
		switch {
		case inVector && inLexical:
			chunk.Source = models.SourceHybrid
		case inVector:
			chunk.Source = models.SourceVector
		default:
			chunk.Source = models.SourceBM25
		}

		fused = append(fused, chunk)
	}

	return fused
}

func normalizeScores(results map[string]models.RetrievedChunk) map[string]float64 {
	norm := make(map[string]float64, len(results))
	if len(results) == 0 {
		return norm
	}

	first := true
	var minScore, maxScore float64
	for _, c := range results {
		if first {
			minScore, maxScore = c.Score, c.Score
			first = false
			continue
		}
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	spread := maxScore - minScore
	for id, c := range results {
		if spread == 0 {
			norm[id] = 1.0
			continue
		}
		norm[id] = (c.Score - minScore) / spread
	}

	return norm
}
