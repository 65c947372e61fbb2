package composer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/backend/internal/llm"
	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/internal/storage/models"
)

type stubCompleter struct {
	response   string
	err        error
	lastPrompt string
	calls      int
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls++
	s.lastPrompt = req.UserPrompt
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.response}, nil
}

func chunks(texts ...string) []models.RetrievedChunk {
	var out []models.RetrievedChunk
	for i, text := range texts {
		out = append(out, models.RetrievedChunk{
			Chunk: models.Chunk{ID: "t1_chunk_" + string(rune('0'+i)), TranscriptID: "t1", Text: text},
			Score: 1.0 - float64(i)*0.1,
		})
	}
	return out
}

func TestCompose_EmptyRetrievalSkipsLLM(t *testing.T) {
	stub := &stubCompleter{}
	c := New(stub, 0)

	answer, err := c.Compose(context.Background(), Request{Question: "what happened"})
	require.NoError(t, err)

	assert.Equal(t, InsufficientInformation, answer.Text)
	assert.False(t, answer.Grounded)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 0, stub.calls)
}

func TestCompose_NumbersExcerptsInPrompt(t *testing.T) {
	stub := &stubCompleter{response: "The launch moved to March [1]."}
	c := New(stub, 0)

	answer, err := c.Compose(context.Background(), Request{
		Question: "when is the launch",
		Chunks:   chunks("We moved the launch to March.", "Budget was also discussed."),
	})
	require.NoError(t, err)
	assert.True(t, answer.Grounded)

	assert.Contains(t, stub.lastPrompt, "[1] We moved the launch to March.")
	assert.Contains(t, stub.lastPrompt, "[2] Budget was also discussed.")
	assert.Contains(t, stub.lastPrompt, "Question: when is the launch")
}

func TestCompose_ExtractsCitations(t *testing.T) {
	stub := &stubCompleter{response: "March launch [1], confirmed by finance [2]. See [2] again."}
	c := New(stub, 0)

	answer, err := c.Compose(context.Background(), Request{
		Question: "q",
		Chunks:   chunks("chunk one", "chunk two"),
	})
	require.NoError(t, err)

	require.Len(t, answer.Citations, 2)
	assert.Equal(t, 1, answer.Citations[0].Number)
	assert.Equal(t, "t1_chunk_0", answer.Citations[0].ChunkID)
	assert.Equal(t, 2, answer.Citations[1].Number)
	assert.Equal(t, "t1_chunk_1", answer.Citations[1].ChunkID)
}

func TestCompose_IgnoresOutOfRangeCitations(t *testing.T) {
	stub := &stubCompleter{response: "Claim [1] and bogus [7] and [0]."}
	c := New(stub, 0)

	answer, err := c.Compose(context.Background(), Request{
		Question: "q",
		Chunks:   chunks("only chunk"),
	})
	require.NoError(t, err)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, 1, answer.Citations[0].Number)
}

func TestCompose_GenerationFailure(t *testing.T) {
	stub := &stubCompleter{err: errors.New("model overloaded")}
	c := New(stub, 0)

	_, err := c.Compose(context.Background(), Request{
		Question: "q",
		Chunks:   chunks("some context"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrGenerationFailure)
}

func TestCompose_HistoryIncludedNewestPreserved(t *testing.T) {
	stub := &stubCompleter{response: "ok [1]"}
	c := New(stub, 60)

	history := []models.Message{
		{Question: "old question about planning", Answer: "old answer about planning", Status: models.MessageAnswered},
		{Question: "recent q", Answer: "recent a", Status: models.MessageAnswered},
	}

	_, err := c.Compose(context.Background(), Request{
		Question: "q",
		Chunks:   chunks("ctx"),
		History:  history,
	})
	require.NoError(t, err)

	// The budget only fits the newest turn; the oldest is dropped.
	assert.Contains(t, stub.lastPrompt, "recent q")
	assert.NotContains(t, stub.lastPrompt, "old question about planning")
}

func TestCompose_FailedTurnsExcludedFromHistory(t *testing.T) {
	stub := &stubCompleter{response: "ok [1]"}
	c := New(stub, 0)

	history := []models.Message{
		{Question: "broken turn", Answer: "", Status: models.MessageFailed},
		{Question: "good turn", Answer: "good answer", Status: models.MessageAnswered},
	}

	_, err := c.Compose(context.Background(), Request{
		Question: "q",
		Chunks:   chunks("ctx"),
		History:  history,
	})
	require.NoError(t, err)

	assert.Contains(t, stub.lastPrompt, "good turn")
	assert.NotContains(t, stub.lastPrompt, "broken turn")
}

func TestTruncateHistory_OldestDroppedFirst(t *testing.T) {
	history := []models.Message{
		{Question: strings.Repeat("a", 50), Answer: strings.Repeat("b", 50), Status: models.MessageAnswered},
		{Question: strings.Repeat("c", 50), Answer: strings.Repeat("d", 50), Status: models.MessageAnswered},
		{Question: strings.Repeat("e", 50), Answer: strings.Repeat("f", 50), Status: models.MessageAnswered},
	}

	kept := truncateHistory(history, 250)
	require.Len(t, kept, 2)
	assert.Equal(t, history[1].Question, kept[0].Question)
	assert.Equal(t, history[2].Question, kept[1].Question)

	kept = truncateHistory(history, 1000)
	assert.Len(t, kept, 3)

	kept = truncateHistory(history, 10)
	assert.Empty(t, kept)
}
