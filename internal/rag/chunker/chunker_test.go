package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)

	_, err = New(100, 100)
	assert.Error(t, err)

	_, err = New(100, -1)
	assert.Error(t, err)

	c, err := New(1000, 200)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestChunk_EmptyTranscript(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	chunks, err := c.Chunk("t1", "")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk("t1", "   \n\t  ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_ShortTranscriptSingleChunk(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	text := "The meeting started at nine. We discussed the quarterly budget."
	chunks, err := c.Chunk("t1", text)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "t1_chunk_0", chunks[0].ID)
	assert.Equal(t, "t1", chunks[0].TranscriptID)
	assert.Equal(t, 0, chunks[0].SequenceIndex)
	assert.Contains(t, chunks[0].Text, "quarterly budget")
}

func TestChunk_OffsetsMapBackToSource(t *testing.T) {
	c, err := New(120, 40)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Speaker one raised a concern about the rollout timeline. ")
	}
	text := b.String()

	chunks, err := c.Chunk("t2", text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		require.True(t, ch.StartOffset >= 0)
		require.True(t, ch.EndOffset <= len(text))
		require.Less(t, ch.StartOffset, ch.EndOffset)
		assert.Equal(t, text[ch.StartOffset:ch.EndOffset], ch.Text)
	}
}

func TestChunk_SequentialIDs(t *testing.T) {
	c, err := New(120, 40)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 15; i++ {
		b.WriteString("Another point came up during the standup about deployments. ")
	}

	chunks, err := c.Chunk("t3", b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.SequenceIndex)
		assert.Contains(t, ch.ID, "t3_chunk_")
	}
}

func TestChunk_OverlapCarriesTrailingSentence(t *testing.T) {
	c, err := New(130, 70)
	require.NoError(t, err)

	text := "First the team reviewed open incidents. Then the group walked through the deploy plan. " +
		"Next the release window was confirmed by operations. Finally everyone agreed on the rollback criteria."

	chunks, err := c.Chunk("t4", text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks should share text so context survives the cut.
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartOffset, chunks[i-1].EndOffset,
			"chunk %d should overlap its predecessor", i)
	}
}

func TestChunk_NoOverlapWhenZero(t *testing.T) {
	c, err := New(130, 0)
	require.NoError(t, err)

	text := "First the team reviewed open incidents. Then the group walked through the deploy plan. " +
		"Next the release window was confirmed by operations. Finally everyone agreed on the rollback criteria."

	chunks, err := c.Chunk("t5", text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].StartOffset, chunks[i-1].EndOffset)
	}
}

func TestChunk_OversizedSentenceHardCut(t *testing.T) {
	c, err := New(100, 20)
	require.NoError(t, err)

	// One run-on sentence well past the chunk size with no terminal period
	// until the end.
	text := strings.Repeat("budget headcount roadmap forecast ", 12) + "end."

	chunks, err := c.Chunk("t6", text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 100)
	}
}

func TestChunk_ChunksWithinSizeBound(t *testing.T) {
	c, err := New(200, 50)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("The customer asked about invoice history and refunds. ")
	}

	chunks, err := c.Chunk("t7", b.String())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 200)
	}
}
