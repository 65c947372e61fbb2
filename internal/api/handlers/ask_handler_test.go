package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKeyCoversEveryOption(t *testing.T) {
	base := askRequest{
		Question:      "What was decided about pricing?",
		TranscriptIDs: []string{"t1", "t2"},
		Model:         "gpt-4o-mini",
		Temperature:   0.2,
		Options: askOptions{
			TopK:         5,
			HybridSearch: true,
		},
	}

	h := &AskHandler{}
	baseKey := h.cacheKey(base)

	variants := map[string]askRequest{}

	v := base
	v.Options.TopK = 10
	variants["top_k"] = v

	v = base
	v.Temperature = 0.9
	variants["temperature"] = v

	v = base
	v.Options.AdvancedGrading = true
	variants["advanced_grading"] = v

	v = base
	v.Options.Reranking = true
	variants["reranking"] = v

	v = base
	v.Options.QueryExpansion = true
	variants["query_expansion"] = v

	v = base
	v.Options.MultiHop = true
	variants["multi_hop"] = v

	v = base
	v.Model = "gpt-4o"
	variants["model"] = v

	for name, req := range variants {
		assert.NotEqual(t, baseKey, h.cacheKey(req), "changing %s must change the key", name)
	}
}

func TestCacheKeyIgnoresScopeOrder(t *testing.T) {
	h := &AskHandler{}
	a := askRequest{Question: "q", TranscriptIDs: []string{"t1", "t2"}}
	b := askRequest{Question: "q", TranscriptIDs: []string{"t2", "t1"}}
	assert.Equal(t, h.cacheKey(a), h.cacheKey(b))
}
