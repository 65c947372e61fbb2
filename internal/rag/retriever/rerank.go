package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

const (
	rerankWeight = 0.7
	fusedWeight  = 0.3
	maxExcerpt   = 400
)

// rerank asks the LLM to judge each candidate's relevance on a 0-10
// scale and blends the judged score with the fused score. Failure keeps
// the fused ordering.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []models.RetrievedChunk, model string) []models.RetrievedChunk {
	var b strings.Builder
	for i, c := range candidates {
		excerpt := c.Chunk.Text
		if len(excerpt) > maxExcerpt {
			excerpt = excerpt[:maxExcerpt]
		}
		b.WriteString(fmt.Sprintf("[%d] %s\n\n", i, excerpt))
	}

	systemPrompt := `You rate how relevant transcript excerpts are to a question.

Score each excerpt from 0 (irrelevant) to 10 (directly answers the question).
Return JSON only: {"scores": [{"index": 0, "score": 7}, ...]}
Include every index exactly once.`

	userPrompt := fmt.Sprintf("Question: %s\n\nExcerpts:\n%s", query, b.String())

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    500,
	})
	if err != nil {
		logger.Warn("Reranking failed, keeping fused order", zap.Error(err))
		return candidates
	}

	var parsed struct {
		Scores []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		logger.Warn("Reranking returned unparseable output", zap.Error(err))
		return candidates
	}

	judged := make(map[int]float64, len(parsed.Scores))
	for _, s := range parsed.Scores {
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		score := s.Score / 10
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		judged[s.Index] = score
	}

	if len(judged) == 0 {
		logger.Warn("Reranking produced no usable scores, keeping fused order")
		return candidates
	}

	reranked := make([]models.RetrievedChunk, len(candidates))
	for i, c := range candidates {
		if score, ok := judged[i]; ok {
			c.Score = rerankWeight*score + fusedWeight*c.Score
		}
		reranked[i] = c
	}

	logger.Debug("Candidates reranked", zap.Int("judged", len(judged)))
	return reranked
}
