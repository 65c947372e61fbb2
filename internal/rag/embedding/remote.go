package embedding

import (
	"context"
	"fmt"

	"github.com/scribeworks/backend/internal/ragerr"
)

type embeddingsClient interface {
	GenerateBatchEmbeddings(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// RemoteEmbedder calls a hosted embedding API through the shared LLM
// client.
type RemoteEmbedder struct {
	client    embeddingsClient
	modelID   string
	dimension int
}

func NewRemoteEmbedder(client embeddingsClient, modelID string, dimension int) *RemoteEmbedder {
	return &RemoteEmbedder{
		client:    client,
		modelID:   modelID,
		dimension: dimension,
	}
}

func (e *RemoteEmbedder) ModelID() string {
	return e.modelID
}

func (e *RemoteEmbedder) Dimension() int {
	return e.dimension
}

func (e *RemoteEmbedder) Embed(ctx context.Context, texts []string) (*Result, error) {
	vectors, err := e.client.GenerateBatchEmbeddings(ctx, e.modelID, texts)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(texts))
	}

	for _, v := range vectors {
		if len(v) != e.dimension {
			return nil, ragerr.DimensionMismatch(len(v), e.dimension)
		}
	}

	return &Result{
		ModelID:   e.modelID,
		Dimension: e.dimension,
		Vectors:   vectors,
	}, nil
}
