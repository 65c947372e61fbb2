package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbedder is a deterministic feature-hashing embedder used when the
// remote provider is unreachable. Tokens are hashed into a fixed number of
// buckets and the resulting term-frequency vector is L2-normalized. The
// vectors are weaker than learned embeddings but keep hybrid retrieval
// functional offline.
type LocalEmbedder struct {
	modelID   string
	dimension int
}

func NewLocalEmbedder(modelID string, dimension int) *LocalEmbedder {
	return &LocalEmbedder{modelID: modelID, dimension: dimension}
}

func (e *LocalEmbedder) ModelID() string {
	return e.modelID
}

func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) (*Result, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vectors[i] = e.vectorize(text)
	}

	return &Result{
		ModelID:   e.modelID,
		Dimension: e.dimension,
		Vectors:   vectors,
	}, nil
}

func (e *LocalEmbedder) vectorize(text string) []float32 {
	vec := make([]float32, e.dimension)

	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		bucket := int(h.Sum32()) % e.dimension
		if bucket < 0 {
			bucket += e.dimension
		}
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}

	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
