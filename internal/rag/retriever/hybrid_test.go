package retriever

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/rag/embedding"
	"github.com/scribeworks/backend/internal/storage/models"
)

type stubVector struct {
	mu        sync.Mutex
	available bool
	results   []models.RetrievedChunk
	err       error
	calls     int
}

func (s *stubVector) Available() bool { return s.available }

func (s *stubVector) Search(ctx context.Context, queryVector []float32, topK int, transcriptIDs []string) ([]models.RetrievedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubLexical struct {
	mu      sync.Mutex
	results []models.RetrievedChunk
	queries []string
}

func (s *stubLexical) Search(query string, topK int, transcriptIDs []string) []models.RetrievedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.results
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) (*embedding.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return &embedding.Result{ModelID: "stub", Dimension: 3, Vectors: vectors}, nil
}

type stubCompleter struct {
	response string
	err      error
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.response}, nil
}

func rc(id string, score float64, source string) models.RetrievedChunk {
	return models.RetrievedChunk{
		Chunk:  models.Chunk{ID: id, TranscriptID: "t1", Text: "text for " + id},
		Score:  score,
		Source: source,
	}
}

func TestRetrieve_HybridBoostsChunksFoundByBothBranches(t *testing.T) {
	vector := &stubVector{
		available: true,
		results: []models.RetrievedChunk{
			rc("shared", 0.80, models.SourceVector),
			rc("vec_only", 0.95, models.SourceVector),
			rc("vec_low", 0.10, models.SourceVector),
		},
	}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{
			rc("shared", 5.0, models.SourceBM25),
			rc("lex_only", 6.0, models.SourceBM25),
			rc("lex_low", 0.5, models.SourceBM25),
		},
	}

	r := New(vector, lexical, &stubEmbedder{}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "what was decided", nil, Options{
		TopK:         5,
		HybridSearch: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	byID := make(map[string]models.RetrievedChunk)
	for _, res := range results {
		byID[res.Chunk.ID] = res
	}

	shared, ok := byID["shared"]
	require.True(t, ok)
	assert.Equal(t, models.SourceHybrid, shared.Source)

	// The shared chunk draws from both branches; single-source chunks with
	// middling raw scores must not outrank it.
	assert.Greater(t, shared.Score, byID["vec_low"].Score)
	assert.Greater(t, shared.Score, byID["lex_low"].Score)
}

func TestRetrieve_FusedScoresWithinUnitInterval(t *testing.T) {
	vector := &stubVector{
		available: true,
		results: []models.RetrievedChunk{
			rc("a", 0.9, models.SourceVector),
			rc("b", 0.5, models.SourceVector),
		},
	}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{
			rc("a", 12.0, models.SourceBM25),
			rc("c", 3.0, models.SourceBM25),
		},
	}

	r := New(vector, lexical, &stubEmbedder{}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{TopK: 10, HybridSearch: true})
	require.NoError(t, err)

	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}

func TestRetrieve_EqualScoresOrderDeterministically(t *testing.T) {
	tied := func(id, transcript string, seq int) models.RetrievedChunk {
		return models.RetrievedChunk{
			Chunk: models.Chunk{
				ID:            id,
				TranscriptID:  transcript,
				SequenceIndex: seq,
				Text:          "text for " + id,
			},
			Score:  2.0,
			Source: models.SourceBM25,
		}
	}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{
			tied("t2_chunk_0", "t2", 0),
			tied("t1_chunk_1", "t1", 1),
			tied("t1_chunk_0", "t1", 0),
		},
	}

	r := New(&stubVector{available: false}, lexical, &stubEmbedder{}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Same transcript orders by position; across transcripts the chunk ID
	// breaks the tie.
	assert.Equal(t, "t1_chunk_0", results[0].Chunk.ID)
	assert.Equal(t, "t1_chunk_1", results[1].Chunk.ID)
	assert.Equal(t, "t2_chunk_0", results[2].Chunk.ID)
}

func TestRetrieve_VectorStoreUnavailableFallsBackToLexical(t *testing.T) {
	vector := &stubVector{available: false}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{
			rc("l1", 4.0, models.SourceBM25),
			rc("l2", 2.0, models.SourceBM25),
		},
	}

	r := New(vector, lexical, &stubEmbedder{}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 0, vector.calls)
	assert.Equal(t, "l1", results[0].Chunk.ID)
}

func TestRetrieve_EmbeddingFailureSkipsVectorBranch(t *testing.T) {
	vector := &stubVector{available: true}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{rc("l1", 4.0, models.SourceBM25)},
	}

	r := New(vector, lexical, &stubEmbedder{err: errors.New("embedder down")}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{TopK: 5, HybridSearch: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, vector.calls)
}

func TestRetrieve_TopKTruncation(t *testing.T) {
	var vecResults []models.RetrievedChunk
	for i := 0; i < 10; i++ {
		vecResults = append(vecResults, rc(string(rune('a'+i)), float64(10-i)/10, models.SourceVector))
	}
	vector := &stubVector{available: true, results: vecResults}
	lexical := &stubLexical{}

	r := New(vector, lexical, &stubEmbedder{}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{TopK: 3, HybridSearch: true})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieve_QueryExpansionFansOutLexicalQueries(t *testing.T) {
	vector := &stubVector{available: false}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{rc("l1", 1.0, models.SourceBM25)},
	}
	completer := &stubCompleter{
		response: `{"paraphrases": ["what was the decision", "final call on the launch"], "hypothetical_answer": "We agreed to launch in March."}`,
	}

	r := New(vector, lexical, &stubEmbedder{}, completer, Config{})
	_, err := r.Retrieve(context.Background(), "what did we decide", nil, Options{
		TopK:           5,
		QueryExpansion: true,
	})
	require.NoError(t, err)

	// Original plus two paraphrases plus the hypothetical answer.
	assert.Len(t, lexical.queries, 4)
}

func TestRetrieve_ExpansionFailureIsNonFatal(t *testing.T) {
	vector := &stubVector{available: false}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{rc("l1", 1.0, models.SourceBM25)},
	}
	completer := &stubCompleter{err: errors.New("llm down")}

	r := New(vector, lexical, &stubEmbedder{}, completer, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{
		TopK:           5,
		QueryExpansion: true,
		MultiHop:       true,
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, lexical.queries, 1)
}

func TestRetrieve_MultiHopAddsSubQueries(t *testing.T) {
	vector := &stubVector{available: false}
	lexical := &stubLexical{
		results: []models.RetrievedChunk{rc("l1", 1.0, models.SourceBM25)},
	}
	completer := &stubCompleter{
		response: `{"sub_queries": ["who owns the migration", "when is the deadline"]}`,
	}

	r := New(vector, lexical, &stubEmbedder{}, completer, Config{})
	_, err := r.Retrieve(context.Background(), "who owns the migration and when is it due", nil, Options{
		TopK:     5,
		MultiHop: true,
	})
	require.NoError(t, err)
	assert.Len(t, lexical.queries, 3)
}

func TestRetrieve_RerankBlendsJudgedScores(t *testing.T) {
	vector := &stubVector{
		available: true,
		results: []models.RetrievedChunk{
			rc("first", 0.9, models.SourceVector),
			rc("second", 0.5, models.SourceVector),
		},
	}
	completer := &stubCompleter{
		response: `{"scores": [{"index": 0, "score": 1}, {"index": 1, "score": 10}]}`,
	}

	r := New(vector, &stubLexical{}, &stubEmbedder{}, completer, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{
		TopK:         5,
		HybridSearch: true,
		Reranking:    true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The judge strongly preferred the second chunk; blended scores should
	// flip the fused order.
	assert.Equal(t, "second", results[0].Chunk.ID)
}

func TestRetrieve_RerankFailureKeepsFusedOrder(t *testing.T) {
	vector := &stubVector{
		available: true,
		results: []models.RetrievedChunk{
			rc("first", 0.9, models.SourceVector),
			rc("second", 0.5, models.SourceVector),
		},
	}
	completer := &stubCompleter{err: errors.New("llm down")}

	r := New(vector, &stubLexical{}, &stubEmbedder{}, completer, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{
		TopK:         5,
		HybridSearch: true,
		Reranking:    true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Chunk.ID)
}

func TestRetrieve_BothBranchesEmpty(t *testing.T) {
	r := New(&stubVector{available: true}, &stubLexical{}, &stubEmbedder{}, &stubCompleter{}, Config{})
	results, err := r.Retrieve(context.Background(), "q", nil, Options{TopK: 5, HybridSearch: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}
