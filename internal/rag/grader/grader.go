package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

const (
	groundednessWeight = 0.4
	completenessWeight = 0.3
	relevanceWeight    = 0.3

	// DisplayScale converts the [0, 1] overall score to the 0-5 score
	// surfaced to clients.
	DisplayScale = 5.0
)

type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Grader scores answers on groundedness, completeness and relevance.
// The default path is a deterministic heuristic; the advanced path asks
// the LLM to judge and falls back to the heuristic when the judge is
// unavailable.
type Grader struct {
	llm Completer
}

type Request struct {
	Question string
	Answer   string
	Chunks   []models.RetrievedChunk
	Grounded bool
	Advanced bool
	Model    string
}

func New(completer Completer) *Grader {
	return &Grader{llm: completer}
}

func (g *Grader) Grade(ctx context.Context, req Request) *models.QualityMetrics {
	// An answer produced without any retrieved context is ungrounded by
	// definition.
	if !req.Grounded || len(req.Chunks) == 0 {
		m := &models.QualityMetrics{
			Groundedness: 0,
			Completeness: 0,
			Relevance:    relevance(req.Question, req.Answer),
		}
		m.Overall = overall(m)
		return m
	}

	if req.Advanced {
		if m := g.judge(ctx, req); m != nil {
			return m
		}
		logger.Warn("LLM judge unavailable, using heuristic grading")
	}

	m := &models.QualityMetrics{
		Groundedness: groundedness(req.Answer, req.Chunks),
		Completeness: completeness(req.Question, req.Answer),
		Relevance:    relevance(req.Question, req.Answer),
	}
	m.Overall = overall(m)

	logger.Debug("Answer graded",
		zap.Float64("groundedness", m.Groundedness),
		zap.Float64("completeness", m.Completeness),
		zap.Float64("relevance", m.Relevance),
		zap.Float64("overall", m.Overall),
	)

	return m
}

func overall(m *models.QualityMetrics) float64 {
	return clamp(groundednessWeight*m.Groundedness +
		completenessWeight*m.Completeness +
		relevanceWeight*m.Relevance)
}

func (g *Grader) judge(ctx context.Context, req Request) *models.QualityMetrics {
	var b strings.Builder
	for i, c := range req.Chunks {
		b.WriteString(fmt.Sprintf("[%d] %s\n", i+1, c.Chunk.Text))
	}

	systemPrompt := `You evaluate answers produced from transcript excerpts.

Score three dimensions, each between 0.0 and 1.0:
- groundedness: is every claim supported by the excerpts?
- completeness: does the answer cover all parts of the question?
- relevance: does the answer address the question asked?

Return JSON only: {"groundedness": 0.9, "completeness": 0.8, "relevance": 1.0}`

	userPrompt := fmt.Sprintf("Question: %s\n\nExcerpts:\n%s\nAnswer: %s",
		req.Question, b.String(), req.Answer)

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Model:        req.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return nil
	}

	content := strings.TrimSpace(resp.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	var parsed struct {
		Groundedness float64 `json:"groundedness"`
		Completeness float64 `json:"completeness"`
		Relevance    float64 `json:"relevance"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil
	}

	m := &models.QualityMetrics{
		Groundedness: clamp(parsed.Groundedness),
		Completeness: clamp(parsed.Completeness),
		Relevance:    clamp(parsed.Relevance),
	}
	m.Overall = overall(m)
	return m
}

// groundedness combines citation coverage with lexical overlap between
// the answer and the retrieved context.
func groundedness(answer string, chunks []models.RetrievedChunk) float64 {
	sentences := splitSentences(answer)
	if len(sentences) == 0 {
		return 0
	}

	cited := 0
	for _, s := range sentences {
		if strings.ContainsRune(s, '[') && strings.ContainsRune(s, ']') {
			cited++
		}
	}
	citationCoverage := float64(cited) / float64(len(sentences))

	contextTerms := make(map[string]bool)
	for _, c := range chunks {
		for _, t := range contentTokens(c.Chunk.Text) {
			contextTerms[t] = true
		}
	}

	answerTerms := contentTokens(answer)
	if len(answerTerms) == 0 {
		return 0
	}
	supported := 0
	for _, t := range answerTerms {
		if contextTerms[t] {
			supported++
		}
	}
	overlap := float64(supported) / float64(len(answerTerms))

	return clamp(0.5*citationCoverage + 0.5*overlap)
}

// completeness measures how many of the question's content nouns make it
// into the answer.
func completeness(question, answer string) float64 {
	nouns := questionNouns(question)
	if len(nouns) == 0 {
		return relevance(question, answer)
	}

	answerTerms := make(map[string]bool)
	for _, t := range contentTokens(answer) {
		answerTerms[t] = true
	}

	covered := 0
	for _, n := range nouns {
		if answerTerms[n] {
			covered++
		}
	}

	return clamp(float64(covered) / float64(len(nouns)))
}

func relevance(question, answer string) float64 {
	qTerms := contentTokens(question)
	if len(qTerms) == 0 {
		return 0
	}

	answerTerms := make(map[string]bool)
	for _, t := range contentTokens(answer) {
		answerTerms[t] = true
	}

	shared := 0
	for _, t := range qTerms {
		if answerTerms[t] {
			shared++
		}
	}

	return clamp(float64(shared) / float64(len(qTerms)))
}

func questionNouns(question string) []string {
	doc, err := prose.NewDocument(question)
	if err != nil {
		return contentTokens(question)
	}

	var nouns []string
	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NN") {
			nouns = append(nouns, strings.ToLower(tok.Text))
		}
	}
	return nouns
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "about": true, "what": true, "when": true, "who": true,
	"how": true, "why": true, "which": true, "did": true, "do": true, "does": true,
	"it": true, "this": true, "that": true, "we": true, "they": true, "i": true,
}

func contentTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var tokens []string
	for _, f := range fields {
		if !stopwords[f] && len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func splitSentences(text string) []string {
	var sentences []string
	for _, s := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if strings.TrimSpace(s) != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
