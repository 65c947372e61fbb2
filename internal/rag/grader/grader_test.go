package grader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/storage/models"
)

type stubCompleter struct {
	response string
	err      error
	calls    int
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.response}, nil
}

func contextChunks(texts ...string) []models.RetrievedChunk {
	var out []models.RetrievedChunk
	for _, text := range texts {
		out = append(out, models.RetrievedChunk{
			Chunk: models.Chunk{ID: "c", TranscriptID: "t1", Text: text},
		})
	}
	return out
}

func TestGrade_UngroundedAnswerScoresZeroGroundedness(t *testing.T) {
	g := New(&stubCompleter{})

	m := g.Grade(context.Background(), Request{
		Question: "what was decided",
		Answer:   "I don't have enough information to answer that.",
		Grounded: false,
	})

	assert.Equal(t, 0.0, m.Groundedness)
	assert.Equal(t, 0.0, m.Completeness)
	assert.LessOrEqual(t, m.Overall, relevanceWeight)
}

func TestGrade_CitedGroundedAnswerScoresWell(t *testing.T) {
	g := New(&stubCompleter{})

	m := g.Grade(context.Background(), Request{
		Question: "when is the product launch happening",
		Answer:   "The product launch happens in March [1].",
		Chunks:   contextChunks("The team agreed the product launch happens in March after the budget review."),
		Grounded: true,
	})

	assert.Greater(t, m.Groundedness, 0.5)
	assert.Greater(t, m.Relevance, 0.5)
	assert.Greater(t, m.Overall, 0.4)
	assert.LessOrEqual(t, m.Overall, 1.0)
}

func TestGrade_OffTopicAnswerScoresLowRelevance(t *testing.T) {
	g := New(&stubCompleter{})

	onTopic := g.Grade(context.Background(), Request{
		Question: "when is the product launch happening",
		Answer:   "The product launch happens in March [1].",
		Chunks:   contextChunks("The product launch happens in March."),
		Grounded: true,
	})

	offTopic := g.Grade(context.Background(), Request{
		Question: "when is the product launch happening",
		Answer:   "Zebras sleep standing up [1].",
		Chunks:   contextChunks("The product launch happens in March."),
		Grounded: true,
	})

	assert.Greater(t, onTopic.Relevance, offTopic.Relevance)
	assert.Greater(t, onTopic.Overall, offTopic.Overall)
}

func TestGrade_OverallIsWeightedBlend(t *testing.T) {
	m := &models.QualityMetrics{Groundedness: 1.0, Completeness: 0.5, Relevance: 0.0}
	got := overall(m)
	assert.InDelta(t, 0.4*1.0+0.3*0.5, got, 1e-9)
}

func TestGrade_AdvancedUsesJudge(t *testing.T) {
	stub := &stubCompleter{response: `{"groundedness": 0.9, "completeness": 0.8, "relevance": 1.0}`}
	g := New(stub)

	m := g.Grade(context.Background(), Request{
		Question: "q",
		Answer:   "a [1]",
		Chunks:   contextChunks("ctx"),
		Grounded: true,
		Advanced: true,
	})

	assert.Equal(t, 1, stub.calls)
	assert.InDelta(t, 0.9, m.Groundedness, 1e-9)
	assert.InDelta(t, 0.8, m.Completeness, 1e-9)
	assert.InDelta(t, 1.0, m.Relevance, 1e-9)
	assert.InDelta(t, 0.4*0.9+0.3*0.8+0.3*1.0, m.Overall, 1e-9)
}

func TestGrade_AdvancedFallsBackToHeuristicOnJudgeFailure(t *testing.T) {
	stub := &stubCompleter{err: errors.New("judge down")}
	g := New(stub)

	m := g.Grade(context.Background(), Request{
		Question: "when is the launch",
		Answer:   "The launch is in March [1].",
		Chunks:   contextChunks("The launch is in March."),
		Grounded: true,
		Advanced: true,
	})

	require.NotNil(t, m)
	assert.Greater(t, m.Overall, 0.0)
}

func TestGrade_AdvancedFallsBackOnGarbageJudgeOutput(t *testing.T) {
	stub := &stubCompleter{response: "not json at all"}
	g := New(stub)

	m := g.Grade(context.Background(), Request{
		Question: "when is the launch",
		Answer:   "The launch is in March [1].",
		Chunks:   contextChunks("The launch is in March."),
		Grounded: true,
		Advanced: true,
	})

	require.NotNil(t, m)
	assert.Greater(t, m.Overall, 0.0)
}

func TestGrade_JudgeScoresClamped(t *testing.T) {
	stub := &stubCompleter{response: `{"groundedness": 1.7, "completeness": -0.2, "relevance": 0.5}`}
	g := New(stub)

	m := g.Grade(context.Background(), Request{
		Question: "q",
		Answer:   "a",
		Chunks:   contextChunks("ctx"),
		Grounded: true,
		Advanced: true,
	})

	assert.Equal(t, 1.0, m.Groundedness)
	assert.Equal(t, 0.0, m.Completeness)
}

func TestGrade_DeterministicForSameInput(t *testing.T) {
	g := New(&stubCompleter{})

	req := Request{
		Question: "who approved the budget for the migration",
		Answer:   "Finance approved the migration budget in April [1].",
		Chunks:   contextChunks("Finance approved the migration budget in April."),
		Grounded: true,
	}

	m1 := g.Grade(context.Background(), req)
	m2 := g.Grade(context.Background(), req)
	assert.Equal(t, m1, m2)
}

func TestDisplayScale(t *testing.T) {
	m := &models.QualityMetrics{Groundedness: 1, Completeness: 1, Relevance: 1}
	assert.InDelta(t, 5.0, overall(m)*DisplayScale, 1e-9)
}
