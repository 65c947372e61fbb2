package embedding

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scribeworks/backend/internal/ragerr"
	"github.com/scribeworks/backend/pkg/logger"
)

// Result carries vectors together with the model that produced them, so
// downstream stores can route by dimension.
type Result struct {
	ModelID   string
	Dimension int
	Vectors   [][]float32
}

// Embedder produces fixed-dimension vectors for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*Result, error)
	ModelID() string
	Dimension() int
}

// Provider fronts a primary embedder with a local fallback. Once the
// primary fails, the provider stays on the fallback until Reset, so a
// single indexing run never mixes models.
type Provider struct {
	primary  Embedder
	fallback Embedder

	mu             sync.RWMutex
	fallbackActive bool
}

func NewProvider(primary, fallback Embedder) *Provider {
	return &Provider{primary: primary, fallback: fallback}
}

func (p *Provider) Embed(ctx context.Context, texts []string) (*Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	p.mu.RLock()
	degraded := p.fallbackActive
	p.mu.RUnlock()

	if !degraded {
		result, err := p.primary.Embed(ctx, texts)
		if err == nil {
			return result, nil
		}

		logger.Warn("Primary embedder failed, switching to fallback",
			zap.String("primary_model", p.primary.ModelID()),
			zap.String("fallback_model", p.fallback.ModelID()),
			zap.Error(err),
		)

		p.mu.Lock()
		p.fallbackActive = true
		p.mu.Unlock()
	}

	result, err := p.fallback.Embed(ctx, texts)
	if err != nil {
		return nil, ragerr.Unavailable("embedding provider", err)
	}

	return result, nil
}

// ActiveModel reports the embedder currently serving requests.
func (p *Provider) ActiveModel() (modelID string, dimension int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fallbackActive {
		return p.fallback.ModelID(), p.fallback.Dimension()
	}
	return p.primary.ModelID(), p.primary.Dimension()
}

func (p *Provider) Degraded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fallbackActive
}

// Reset re-arms the primary embedder, typically after its upstream
// recovers.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fallbackActive {
		logger.Info("Embedding provider reset to primary",
			zap.String("primary_model", p.primary.ModelID()),
		)
	}
	p.fallbackActive = false
}
