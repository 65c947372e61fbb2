package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	entries map[string][]float32
	gets    int
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]float32)}
}

func (f *fakeCache) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	f.gets++
	vec, ok := f.entries[textHash]
	return vec, ok, nil
}

func (f *fakeCache) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	f.sets++
	f.entries[textHash] = embedding
	return nil
}

func TestCachedEmbedderBackfillsAndServesFromCache(t *testing.T) {
	primary := &stubEmbedder{modelID: "remote", dimension: 3}
	provider := NewProvider(primary, NewLocalEmbedder("local", 3))
	cache := newFakeCache()
	cached := NewCachedEmbedder(provider, cache, time.Minute)

	first, err := cached.Embed(context.Background(), []string{"what was decided"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, cache.sets)

	second, err := cached.Embed(context.Background(), []string{"what was decided"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "second embed should not reach the provider")
	assert.Equal(t, first.Vectors, second.Vectors)
	assert.Equal(t, "remote", second.ModelID)
}

func TestCachedEmbedderKeysByModel(t *testing.T) {
	primary := &stubEmbedder{modelID: "remote", dimension: 3}
	provider := NewProvider(primary, NewLocalEmbedder("local", 3))
	cache := newFakeCache()
	cached := NewCachedEmbedder(provider, cache, time.Minute)

	_, err := cached.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)

	// After the provider pins the fallback, cached remote vectors must
	// not be served for the local model.
	primary.err = assert.AnError
	_, err = provider.Embed(context.Background(), []string{"warm up fallback"})
	require.NoError(t, err)
	require.True(t, provider.Degraded())

	result, err := cached.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Equal(t, "local", result.ModelID)
	assert.Equal(t, 3, result.Dimension)
}

func TestCachedEmbedderPartialMissEmbedsWholeBatch(t *testing.T) {
	primary := &stubEmbedder{modelID: "remote", dimension: 3}
	provider := NewProvider(primary, NewLocalEmbedder("local", 3))
	cache := newFakeCache()
	cached := NewCachedEmbedder(provider, cache, time.Minute)

	_, err := cached.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 2, cache.sets)
}
