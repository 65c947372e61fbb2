package bm25

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/storage/models"
	"github.com/scribeworks/backend/pkg/logger"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

type document struct {
	chunk  models.Chunk
	tf     map[string]int
	length int
}

// Index is an in-process BM25 Okapi index over transcript chunks. All
// state lives in memory and is rebuilt from the vector store's source of
// truth on startup, so the index never needs its own persistence.
type Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	docs         map[string]*document
	byTranscript map[string][]string
	df           map[string]int
	totalLength  int
}

func NewIndex() *Index {
	return &Index{
		k1:           defaultK1,
		b:            defaultB,
		docs:         make(map[string]*document),
		byTranscript: make(map[string][]string),
		df:           make(map[string]int),
	}
}

// ReplaceTranscript swaps all chunks for a transcript in one critical
// section so searches never observe a half-replaced transcript.
func (idx *Index) ReplaceTranscript(transcriptID string, chunks []models.Chunk) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(transcriptID)

	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		terms := tokenize(chunk.Text)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}

		for term := range tf {
			idx.df[term]++
		}

		idx.docs[chunk.ID] = &document{chunk: chunk, tf: tf, length: len(terms)}
		idx.totalLength += len(terms)
		ids = append(ids, chunk.ID)
	}

	if len(ids) > 0 {
		idx.byTranscript[transcriptID] = ids
	}

	logger.Debug("BM25 transcript replaced",
		zap.String("transcript_id", transcriptID),
		zap.Int("chunks", len(chunks)),
	)
}

func (idx *Index) DeleteTranscript(transcriptID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(transcriptID)
}

func (idx *Index) removeLocked(transcriptID string) {
	for _, id := range idx.byTranscript[transcriptID] {
		doc, ok := idx.docs[id]
		if !ok {
			continue
		}
		for term := range doc.tf {
			idx.df[term]--
			if idx.df[term] <= 0 {
				delete(idx.df, term)
			}
		}
		idx.totalLength -= doc.length
		delete(idx.docs, id)
	}
	delete(idx.byTranscript, transcriptID)
}

func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores the query against indexed chunks, optionally restricted
// to a set of transcripts. Results are ordered by descending score with
// chunk ID as the tiebreak; only positive scores are returned.
func (idx *Index) Search(query string, topK int, transcriptIDs []string) []models.RetrievedChunk {
	if topK <= 0 {
		return nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgLength := float64(idx.totalLength) / float64(n)

	var scope map[string]bool
	if len(transcriptIDs) > 0 {
		scope = make(map[string]bool, len(transcriptIDs))
		for _, id := range transcriptIDs {
			scope[id] = true
		}
	}

	var results []models.RetrievedChunk
	for _, doc := range idx.docs {
		if scope != nil && !scope[doc.chunk.TranscriptID] {
			continue
		}

		score := idx.scoreLocked(doc, terms, avgLength)
		if score <= 0 {
			continue
		}

		results = append(results, models.RetrievedChunk{
			Chunk:  doc.chunk,
			Score:  score,
			Source: models.SourceBM25,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results
}

func (idx *Index) scoreLocked(doc *document, terms []string, avgLength float64) float64 {
	n := float64(len(idx.docs))
	var score float64

	for _, term := range terms {
		tf := doc.tf[term]
		if tf == 0 {
			continue
		}

		df := float64(idx.df[term])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		norm := idx.k1 * (1 - idx.b + idx.b*float64(doc.length)/avgLength)
		score += idf * float64(tf) * (idx.k1 + 1) / (float64(tf) + norm)
	}

	return score
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
