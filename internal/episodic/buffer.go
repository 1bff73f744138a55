// Package episodic implements the per-session conversational memory: a
// bounded FIFO of episodes searchable by embedding similarity weighted with
// temporal decay.
package episodic

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vthunder/cogmem/internal/vecmath"
)

const (
	// DefaultCapacity is the number of episodes kept per session
	DefaultCapacity = 128
	// DefaultHalfLife is the age at which an episode's retrieval score halves
	DefaultHalfLife = 5 * time.Minute
)

var (
	// ErrInvalidCapacity is returned for a capacity below 1
	ErrInvalidCapacity = errors.New("episodic: capacity must be at least 1")
	// ErrEmptyEmbedding is returned when an episode or query has no embedding
	ErrEmptyEmbedding = errors.New("episodic: empty embedding")
)

// Option configures a Buffer
type Option func(*Buffer)

// WithHalfLife sets the decay constant from a half-life
func WithHalfLife(d time.Duration) Option {
	return func(b *Buffer) {
		b.lambda = vecmath.LambdaForHalfLife(d)
	}
}

// WithDecay sets the per-millisecond decay constant directly
func WithDecay(lambda float64) Option {
	return func(b *Buffer) {
		if lambda >= 0 {
			b.lambda = lambda
		}
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// Buffer is a bounded, recency-ordered store of episodes for one session.
// All methods are safe for concurrent use.
type Buffer struct {
	mu        sync.Mutex
	capacity  int
	dimension int // 0 until the first episode fixes it
	episodes  []Episode
	lambda    float64
	now       func() time.Time
}

// New creates an empty buffer holding at most capacity episodes
func New(capacity int, opts ...Option) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	b := &Buffer{
		capacity: capacity,
		episodes: make([]Episode, 0, capacity),
		lambda:   vecmath.LambdaForHalfLife(DefaultHalfLife),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Add records a new episode, evicting the oldest one when the buffer is full
func (b *Buffer) Add(query, response string, embedding []float64, metadata map[string]string) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dimension != 0 {
		if err := vecmath.CheckDimension(b.dimension, len(embedding)); err != nil {
			return fmt.Errorf("add episode: %w", err)
		}
	}

	ep := Episode{
		Query:     query,
		Response:  response,
		Embedding: embedding,
		Timestamp: b.now().UnixMilli(),
		Metadata:  metadata,
	}.clone()

	if len(b.episodes) >= b.capacity {
		// FIFO eviction keeps insertion order intact
		copy(b.episodes, b.episodes[1:])
		b.episodes[len(b.episodes)-1] = ep
	} else {
		b.episodes = append(b.episodes, ep)
	}
	b.dimension = len(embedding)
	return nil
}

// RetrieveSimilar returns up to topK episodes whose decay-weighted similarity
// to queryEmbedding is at least minScore, best first. Ties go to the more
// recent episode.
func (b *Buffer) RetrieveSimilar(queryEmbedding []float64, topK int, minScore float64) ([]Scored, error) {
	if len(queryEmbedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.episodes) == 0 || topK <= 0 {
		return []Scored{}, nil
	}
	if err := vecmath.CheckDimension(b.dimension, len(queryEmbedding)); err != nil {
		return nil, fmt.Errorf("retrieve similar: %w", err)
	}

	now := b.now().UnixMilli()

	type candidate struct {
		idx   int
		sim   float64
		score float64
	}
	candidates := make([]candidate, 0, len(b.episodes))
	for i, ep := range b.episodes {
		sim, err := vecmath.Cosine(queryEmbedding, ep.Embedding)
		if err != nil {
			return nil, fmt.Errorf("retrieve similar: %w", err)
		}
		score := sim * vecmath.Decay(b.lambda, now-ep.Timestamp)
		if score >= minScore {
			candidates = append(candidates, candidate{idx: i, sim: sim, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		ti, tj := b.episodes[candidates[i].idx].Timestamp, b.episodes[candidates[j].idx].Timestamp
		if ti != tj {
			return ti > tj
		}
		return candidates[i].idx > candidates[j].idx
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	result := make([]Scored, len(candidates))
	for i, c := range candidates {
		result[i] = Scored{
			Episode:    b.episodes[c.idx].clone(),
			Similarity: c.sim,
			Score:      c.score,
		}
	}
	return result, nil
}

// Recent returns the last count episodes, oldest of the window first
func (b *Buffer) Recent(count int) []Episode {
	b.mu.Lock()
	defer b.mu.Unlock()

	if count <= 0 {
		return []Episode{}
	}
	start := 0
	if len(b.episodes) > count {
		start = len(b.episodes) - count
	}

	result := make([]Episode, 0, len(b.episodes)-start)
	for _, ep := range b.episodes[start:] {
		result = append(result, ep.clone())
	}
	return result
}

// Clear removes all episodes and forgets the embedding dimension
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.episodes = make([]Episode, 0, b.capacity)
	b.dimension = 0
}

// Len returns the number of stored episodes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.episodes)
}

// Capacity returns the maximum number of episodes
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Full reports whether the next Add will evict
func (b *Buffer) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.episodes) >= b.capacity
}

// Dimension returns the embedding dimension, 0 when empty
func (b *Buffer) Dimension() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dimension
}
