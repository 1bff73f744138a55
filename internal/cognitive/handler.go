// Package cognitive runs the query pipeline: embed, search, recall session
// episodes, spread concept activation, fuse scores, validate the chosen
// answer, explain and record it.
package cognitive

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vthunder/cogmem/internal/episodic"
	"github.com/vthunder/cogmem/internal/extract"
	"github.com/vthunder/cogmem/internal/fusion"
	"github.com/vthunder/cogmem/internal/graph"
	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/profiling"
	"github.com/vthunder/cogmem/internal/resilience"
	"github.com/vthunder/cogmem/internal/types"
	"github.com/vthunder/cogmem/internal/validate"
	"github.com/vthunder/cogmem/internal/vecmath"
)

var (
	ErrEmptyQuery   = errors.New("cognitive: empty query")
	ErrEmptySession = errors.New("cognitive: empty session id")
	ErrEmbedding    = errors.New("cognitive: embedding failed")
	ErrNoEmbedder   = errors.New("cognitive: embedder is required")
)

// Deps are the collaborators of a Handler. Only Embedder is required. A nil
// Searcher leaves the vector stage permanently degraded.
type Deps struct {
	Embedder  types.Embedder
	Searcher  types.Searcher
	Extractor extract.ConceptExtractor
	Network   *graph.Network
	Profiler  *profiling.Profiler
	Clock     func() time.Time
}

// Handler owns the shared concept network and one episodic buffer per
// session. It is safe for concurrent use.
type Handler struct {
	cfg Config

	embedder  types.Embedder
	searcher  types.Searcher
	extractor extract.ConceptExtractor
	network   *graph.Network
	fusion    *fusion.Fusion
	detector  *validate.Detector
	breaker   *resilience.Breaker[searchCall]
	profiler  *profiling.Profiler
	now       func() time.Time
	lambda    float64

	mu       sync.RWMutex
	sessions map[string]*episodic.Buffer

	queries  atomic.Int64
	degraded atomic.Int64
}

// New builds a handler. Zero-valued config fields take their defaults.
func New(cfg Config, deps Deps) (*Handler, error) {
	if deps.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	cfg = cfg.withDefaults()
	if cfg.BufferCapacity < 1 {
		return nil, fmt.Errorf("%w: %d", episodic.ErrInvalidCapacity, cfg.BufferCapacity)
	}

	f, err := fusion.New(cfg.Weights)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:       cfg,
		embedder:  deps.Embedder,
		searcher:  deps.Searcher,
		extractor: deps.Extractor,
		network:   deps.Network,
		fusion:    f,
		detector:  validate.NewDetector(),
		profiler:  deps.Profiler,
		now:       deps.Clock,
		lambda:    vecmath.LambdaForHalfLife(cfg.HalfLife),
		sessions:  make(map[string]*episodic.Buffer),
	}
	if h.extractor == nil {
		h.extractor = extract.NewKeywordExtractor()
	}
	if h.network == nil {
		h.network = graph.New()
	}
	if h.profiler == nil {
		h.profiler = profiling.Disabled()
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.breaker = resilience.NewBreaker("vector_search", cfg.Breaker, h.runSearch).WithClock(h.now)
	return h, nil
}

// Config returns the effective configuration
func (h *Handler) Config() Config { return h.cfg }

// Network returns the shared concept network
func (h *Handler) Network() *graph.Network { return h.network }

// AddSemanticConcept adds or updates a concept. A nil embedding keeps any
// existing one.
func (h *Handler) AddSemanticConcept(key string, embedding []float64) error {
	if err := h.network.AddNode(key, embedding); err != nil {
		return err
	}
	logging.Debug("cognitive", "concept %s added (dim=%d)", key, len(embedding))
	return nil
}

// AddSemanticRelation adds or replaces a weighted edge, creating missing
// concepts
func (h *Handler) AddSemanticRelation(source, target string, weight float64) error {
	if err := h.network.AddEdge(source, target, weight); err != nil {
		return err
	}
	logging.Debug("cognitive", "relation %s -> %s (%.2f)", source, target, weight)
	return nil
}

// SetFusionWeights atomically replaces the fusion weights
func (h *Handler) SetFusionWeights(w fusion.Weights) error {
	if err := h.fusion.SetWeights(w); err != nil {
		return err
	}
	logging.Info("cognitive", "fusion weights updated: %+v", w)
	return nil
}

// FusionWeights returns the active fusion weights
func (h *Handler) FusionWeights() fusion.Weights {
	return h.fusion.Weights()
}
