package bm25

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/backend/internal/storage/models"
)

func chunk(transcriptID string, i int, text string) models.Chunk {
	return models.Chunk{
		ID:            fmt.Sprintf("%s_chunk_%d", transcriptID, i),
		TranscriptID:  transcriptID,
		Text:          text,
		SequenceIndex: i,
	}
}

func TestSearch_RanksExactTermMatchesFirst(t *testing.T) {
	idx := NewIndex()
	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "the invoice was sent to accounting for approval"),
		chunk("t1", 1, "lunch plans were discussed at length"),
		chunk("t1", 2, "the invoice approval process takes two days for every invoice"),
	})

	results := idx.Search("invoice approval", 10, nil)
	require.NotEmpty(t, results)

	assert.Equal(t, "t1_chunk_2", results[0].Chunk.ID)
	for _, r := range results {
		assert.Equal(t, models.SourceBM25, r.Source)
		assert.Greater(t, r.Score, 0.0)
		assert.NotEqual(t, "t1_chunk_1", r.Chunk.ID)
	}
}

func TestSearch_TranscriptFilter(t *testing.T) {
	idx := NewIndex()
	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "deployment rollback was triggered at noon"),
	})
	idx.ReplaceTranscript("t2", []models.Chunk{
		chunk("t2", 0, "deployment went smoothly with no rollback"),
	})

	results := idx.Search("deployment rollback", 10, []string{"t2"})
	require.Len(t, results, 1)
	assert.Equal(t, "t2", results[0].Chunk.TranscriptID)

	results = idx.Search("deployment rollback", 10, nil)
	assert.Len(t, results, 2)
}

func TestSearch_TopKLimit(t *testing.T) {
	idx := NewIndex()
	var chunks []models.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, chunk("t1", i, fmt.Sprintf("billing question number %d about billing", i)))
	}
	idx.ReplaceTranscript("t1", chunks)

	results := idx.Search("billing", 3, nil)
	assert.Len(t, results, 3)
}

func TestSearch_NoMatches(t *testing.T) {
	idx := NewIndex()
	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "the roadmap covers the next two quarters"),
	})

	assert.Empty(t, idx.Search("zebra habitat", 10, nil))
	assert.Empty(t, idx.Search("", 10, nil))
	assert.Empty(t, idx.Search("roadmap", 0, nil))
}

func TestReplaceTranscript_SwapsAtomically(t *testing.T) {
	idx := NewIndex()
	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "old content about migrations"),
		chunk("t1", 1, "more old content about migrations"),
	})
	require.Equal(t, 2, idx.DocCount())

	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "fresh notes about the incident review"),
	})
	assert.Equal(t, 1, idx.DocCount())

	assert.Empty(t, idx.Search("migrations", 10, nil))
	assert.NotEmpty(t, idx.Search("incident review", 10, nil))
}

func TestDeleteTranscript_RemovesFromResults(t *testing.T) {
	idx := NewIndex()
	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "pricing tiers were compared against competitors"),
	})
	idx.ReplaceTranscript("t2", []models.Chunk{
		chunk("t2", 0, "pricing feedback from the pilot customers"),
	})

	idx.DeleteTranscript("t1")

	results := idx.Search("pricing", 10, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "t2", results[0].Chunk.TranscriptID)
	assert.Equal(t, 1, idx.DocCount())

	// Deleting an unknown transcript is a no-op.
	idx.DeleteTranscript("missing")
	assert.Equal(t, 1, idx.DocCount())
}

func TestSearch_RareTermsOutweighCommonOnes(t *testing.T) {
	idx := NewIndex()
	idx.ReplaceTranscript("t1", []models.Chunk{
		chunk("t1", 0, "the meeting covered the kubernetes upgrade"),
		chunk("t1", 1, "the meeting covered the office party"),
		chunk("t1", 2, "the meeting covered the parking situation"),
	})

	results := idx.Search("meeting kubernetes", 10, nil)
	require.NotEmpty(t, results)
	assert.Equal(t, "t1_chunk_0", results[0].Chunk.ID)
}
