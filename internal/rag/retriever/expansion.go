package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/pkg/logger"
)

const maxSubQueries = 4

// expandQuery asks the LLM for paraphrases plus a hypothetical answer
// passage. The hypothetical answer is embedded like any other query
// variant; its vocabulary tends to sit closer to answer-bearing chunks
// than the question itself. Failure drops the stage.
func (r *Retriever) expandQuery(ctx context.Context, query, model string) []string {
	systemPrompt := `You rewrite search queries for a transcript retrieval system.

Given a question, return JSON with exactly this shape:
{"paraphrases": ["...", "..."], "hypothetical_answer": "..."}

Rules:
- paraphrases: 2 alternative phrasings using different vocabulary
- hypothetical_answer: a short plausible passage (2-3 sentences) that would answer the question, as if quoted from a meeting transcript

Return JSON only.`

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		logger.Warn("Query expansion failed, continuing without it", zap.Error(err))
		return nil
	}

	var parsed struct {
		Paraphrases        []string `json:"paraphrases"`
		HypotheticalAnswer string   `json:"hypothetical_answer"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		logger.Warn("Query expansion returned unparseable output", zap.Error(err))
		return nil
	}

	var variants []string
	for _, p := range parsed.Paraphrases {
		if p = strings.TrimSpace(p); p != "" {
			variants = append(variants, p)
		}
		if len(variants) == 2 {
			break
		}
	}
	if answer := strings.TrimSpace(parsed.HypotheticalAnswer); answer != "" {
		variants = append(variants, answer)
	}

	logger.Debug("Query expanded", zap.Int("variants", len(variants)))
	return variants
}

// decomposeQuery splits a multi-part question into sub-queries that are
// retrieved alongside the original in the same pass.
func (r *Retriever) decomposeQuery(ctx context.Context, query, model string) []string {
	systemPrompt := fmt.Sprintf(`You decompose complex questions about meeting transcripts.

If the question asks about several distinct things, split it into at most %d
self-contained sub-questions. If it asks one thing, return an empty list.

Return JSON only: {"sub_queries": ["...", "..."]}`, maxSubQueries)

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0.2,
		MaxTokens:    300,
	})
	if err != nil {
		logger.Warn("Query decomposition failed, continuing without it", zap.Error(err))
		return nil
	}

	var parsed struct {
		SubQueries []string `json:"sub_queries"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		logger.Warn("Query decomposition returned unparseable output", zap.Error(err))
		return nil
	}

	var subs []string
	for _, q := range parsed.SubQueries {
		if q = strings.TrimSpace(q); q != "" {
			subs = append(subs, q)
		}
		if len(subs) == maxSubQueries {
			break
		}
	}

	logger.Debug("Query decomposed", zap.Int("sub_queries", len(subs)))
	return subs
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
