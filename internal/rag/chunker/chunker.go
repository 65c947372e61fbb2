package chunker

import (
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

// Chunker splits transcript text into overlapping chunks on sentence
// boundaries. Sentences are never split unless a single sentence exceeds
// the chunk size, in which case it is hard-cut at word boundaries.
type Chunker struct {
	chunkSize int
	overlap   int
}

func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ragerr.ErrConfiguration, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size), got %d", ragerr.ErrConfiguration, overlap)
	}

	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

type sentence struct {
	text  string
	start int
	end   int
}

// Chunk segments text for the given transcript. Whitespace-only input
// yields no chunks and no error.
func (c *Chunker) Chunk(transcriptID, text string) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	sentences, err := c.segment(text)
	if err != nil {
		return nil, fmt.Errorf("failed to segment transcript %s: %w", transcriptID, err)
	}

	var chunks []models.Chunk
	var current []sentence
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}

		first := current[0]
		last := current[len(current)-1]

		chunks = append(chunks, models.Chunk{
			ID:            fmt.Sprintf("%s_chunk_%d", transcriptID, len(chunks)),
			TranscriptID:  transcriptID,
			Text:          text[first.start:last.end],
			StartOffset:   first.start,
			EndOffset:     last.end,
			SequenceIndex: len(chunks),
		})

		// Carry trailing sentences into the next chunk up to the overlap
		// budget so context spans chunk boundaries.
		var carried []sentence
		carriedLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			s := current[i]
			if carriedLen+len(s.text) > c.overlap {
				break
			}
			carried = append([]sentence{s}, carried...)
			carriedLen += len(s.text)
		}

		current = carried
		currentLen = carriedLen
	}

	for _, s := range sentences {
		if len(s.text) > c.chunkSize {
			flush()
			current = nil
			currentLen = 0

			for _, piece := range c.hardCut(s) {
				current = []sentence{piece}
				currentLen = len(piece.text)
				flush()
			}
			continue
		}

		if currentLen+len(s.text) > c.chunkSize && currentLen > 0 {
			flush()

			// The carried overlap alone may already crowd out the next
			// sentence; drop it rather than emit an oversized chunk.
			if currentLen+len(s.text) > c.chunkSize {
				current = nil
				currentLen = 0
			}
		}

		current = append(current, s)
		currentLen += len(s.text)
	}

	// Emit the tail only if it holds something beyond carried overlap.
	if len(chunks) == 0 || (len(current) > 0 && current[len(current)-1].end > chunks[len(chunks)-1].EndOffset) {
		flush()
	}

	logger.Debug("Transcript chunked",
		zap.String("transcript_id", transcriptID),
		zap.Int("chunks", len(chunks)),
	)

	return chunks, nil
}

func (c *Chunker) segment(text string) ([]sentence, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("sentence segmentation failed: %w", err)
	}

	var sentences []sentence
	cursor := 0
	for _, s := range doc.Sentences() {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed == "" {
			continue
		}

		start := strings.Index(text[cursor:], trimmed)
		if start < 0 {
			start = 0
		}
		start += cursor
		end := start + len(trimmed)
		cursor = end

		sentences = append(sentences, sentence{text: trimmed, start: start, end: end})
	}

	return sentences, nil
}

// hardCut splits an oversized sentence at word boundaries, falling back
// to a raw cut for unbroken runs longer than the chunk size.
func (c *Chunker) hardCut(s sentence) []sentence {
	var pieces []sentence

	start := 0
	for start < len(s.text) {
		end := start + c.chunkSize
		if end >= len(s.text) {
			end = len(s.text)
		} else {
			if cut := strings.LastIndex(s.text[start:end], " "); cut > 0 {
				end = start + cut
			}
		}

		piece := strings.TrimSpace(s.text[start:end])
		if piece != "" {
			offset := strings.Index(s.text[start:], piece) + start
			pieces = append(pieces, sentence{
				text:  piece,
				start: s.start + offset,
				end:   s.start + offset + len(piece),
			})
		}

		start = end
		for start < len(s.text) && s.text[start] == ' ' {
			start++
		}
	}

	return pieces
}
