package cognitive

import (
	"time"

	"github.com/vthunder/cogmem/internal/episodic"
	"github.com/vthunder/cogmem/internal/fusion"
	"github.com/vthunder/cogmem/internal/graph"
	"github.com/vthunder/cogmem/internal/resilience"
)

// Config tunes the query pipeline. Zero values are replaced by defaults in
// New; negative values are rejected by the config package.
type Config struct {
	BufferCapacity   int           `yaml:"buffer_capacity"`
	HalfLife         time.Duration `yaml:"half_life"`
	TopK             int           `yaml:"top_k"`
	EpisodicTopK     int           `yaml:"episodic_top_k"`
	EpisodicMinScore float64       `yaml:"episodic_min_score"`

	MaxHops             int     `yaml:"max_hops"`
	ActivationDecay     float64 `yaml:"activation_decay"`
	ActivationThreshold float64 `yaml:"activation_threshold"`
	// ConceptTopK > 0 also seeds activation from concepts whose embedding
	// is close to the query embedding
	ConceptTopK       int     `yaml:"concept_top_k"`
	ConceptSimilarity float64 `yaml:"concept_similarity"`

	ValidationThreshold float64 `yaml:"validation_threshold"`
	MinEvidence         int     `yaml:"min_evidence"`

	Weights            fusion.Weights    `yaml:"weights"`
	Breaker            resilience.Config `yaml:"breaker"`
	VerboseExplanation bool              `yaml:"verbose_explanation"`
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		BufferCapacity:      episodic.DefaultCapacity,
		HalfLife:            episodic.DefaultHalfLife,
		TopK:                5,
		EpisodicTopK:        3,
		EpisodicMinScore:    0.3,
		MaxHops:             graph.DefaultMaxHops,
		ActivationDecay:     graph.DefaultDecay,
		ActivationThreshold: graph.DefaultThreshold,
		ConceptTopK:         0,
		ConceptSimilarity:   0.7,
		ValidationThreshold: 0.6,
		MinEvidence:         2,
		Weights:             fusion.DefaultWeights(),
		Breaker:             resilience.DefaultConfig(),
	}
}

// withDefaults fills zero-valued fields from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BufferCapacity == 0 {
		c.BufferCapacity = def.BufferCapacity
	}
	if c.HalfLife == 0 {
		c.HalfLife = def.HalfLife
	}
	if c.TopK == 0 {
		c.TopK = def.TopK
	}
	if c.EpisodicTopK == 0 {
		c.EpisodicTopK = def.EpisodicTopK
	}
	if c.EpisodicMinScore == 0 {
		c.EpisodicMinScore = def.EpisodicMinScore
	}
	if c.MaxHops == 0 {
		c.MaxHops = def.MaxHops
	}
	if c.ActivationDecay == 0 {
		c.ActivationDecay = def.ActivationDecay
	}
	if c.ActivationThreshold == 0 {
		c.ActivationThreshold = def.ActivationThreshold
	}
	if c.ConceptSimilarity == 0 {
		c.ConceptSimilarity = def.ConceptSimilarity
	}
	if c.ValidationThreshold == 0 {
		c.ValidationThreshold = def.ValidationThreshold
	}
	if c.MinEvidence == 0 {
		c.MinEvidence = def.MinEvidence
	}
	if c.Weights == (fusion.Weights{}) {
		c.Weights = def.Weights
	}
	if c.Breaker == (resilience.Config{}) {
		c.Breaker = def.Breaker
	}
	return c
}
