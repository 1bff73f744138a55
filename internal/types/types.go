// Package types holds the contracts shared between the query pipeline and
// its external collaborators.
package types

import (
	"context"
	"time"
)

// SearchHit is one candidate returned by a vector search engine
type SearchHit struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Score     float64           `json:"score"` // expected in [0,1]
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float64         `json:"embedding,omitempty"`
	Timestamp int64             `json:"timestamp_ms,omitempty"` // Unix ms, 0 when unknown
}

// HasTimestamp reports whether the hit carries a creation time
func (h SearchHit) HasTimestamp() bool {
	return h.Timestamp > 0
}

// Time returns the hit timestamp, or the zero time when unknown
func (h SearchHit) Time() time.Time {
	if h.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(h.Timestamp)
}

// Embedder turns text into a fixed-length vector. A deployment must always
// return the same dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher returns the topK nearest candidates for an embedding
type Searcher interface {
	Search(ctx context.Context, embedding []float64, topK int) ([]SearchHit, error)
}

// EmbedderFunc adapts a function to the Embedder interface
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

// Embed calls f
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

// SearcherFunc adapts a function to the Searcher interface
type SearcherFunc func(ctx context.Context, embedding []float64, topK int) ([]SearchHit, error)

// Search calls f
func (f SearcherFunc) Search(ctx context.Context, embedding []float64, topK int) ([]SearchHit, error) {
	return f(ctx, embedding, topK)
}
