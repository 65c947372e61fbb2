package ragerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the RAG pipeline. Callers check them with errors.Is
// and decide whether to degrade, retry, or surface the failure.
var (
	// ErrConfiguration is fatal at startup: missing or invalid provider credentials.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUpstreamUnavailable marks a reachable-in-principle service that is
	// currently down (embedding API, vector store, generation model). Recoverable:
	// retrieval degrades to BM25-only, indexing marks the transcript not-indexed.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrDimensionMismatch means an embedding was produced by a model whose
	// dimension does not match the target collection. Recoverable by routing to
	// the dimension-specific collection; never silently truncate or pad.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrGenerationFailure means the answer model itself errored. Surfaced to the
	// caller as a failed message, never retried automatically above the adapter.
	ErrGenerationFailure = errors.New("generation unavailable")

	// ErrNotFound covers missing sessions, messages, and index records.
	ErrNotFound = errors.New("not found")
)

func Unavailable(service string, err error) error {
	return fmt.Errorf("%s: %w: %w", service, ErrUpstreamUnavailable, err)
}

func DimensionMismatch(got, want int) error {
	return fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, got, want)
}
