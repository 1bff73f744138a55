// Package fusion combines per-candidate signal scores into a single
// confidence value and ranks candidates by it.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/vthunder/cogmem/internal/vecmath"
)

// ErrInvalidWeights is returned for negative or non-finite weights
var ErrInvalidWeights = errors.New("fusion: invalid weights")

// Weights are the linear coefficients applied before the sigmoid
type Weights struct {
	Vector   float64 `json:"vector" yaml:"vector"`
	Episodic float64 `json:"episodic" yaml:"episodic"`
	Semantic float64 `json:"semantic" yaml:"semantic"`
	Recency  float64 `json:"recency" yaml:"recency"`
	Bias     float64 `json:"bias" yaml:"bias"`
}

// DefaultWeights favours the vector score, with memory signals as tie-breakers
func DefaultWeights() Weights {
	return Weights{Vector: 0.6, Episodic: 0.2, Semantic: 0.15, Recency: 0.05}
}

// Validate checks that every weight is finite and non-negative
func (w Weights) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"vector", w.Vector},
		{"episodic", w.Episodic},
		{"semantic", w.Semantic},
		{"recency", w.Recency},
		{"bias", w.Bias},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("%w: %s = %v", ErrInvalidWeights, f.name, f.v)
		}
	}
	return nil
}

// Result is a candidate with its component scores and fused confidence
type Result struct {
	ID            string            `json:"id"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	VectorScore   float64           `json:"vector_score"`
	EpisodicScore float64           `json:"episodic_score"`
	SemanticScore float64           `json:"semantic_score"`
	RecencyScore  float64           `json:"recency_score"`
	Confidence    float64           `json:"confidence"`
}

// Fusion holds the active weights. Weights are replaced as a whole so a
// ranking pass never sees a mix of old and new values.
type Fusion struct {
	weights atomic.Pointer[Weights]
}

// New validates w and returns a Fusion using it
func New(w Weights) (*Fusion, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	f := &Fusion{}
	f.weights.Store(&w)
	return f, nil
}

// Weights returns the active weights
func (f *Fusion) Weights() Weights {
	return *f.weights.Load()
}

// SetWeights atomically replaces the active weights
func (f *Fusion) SetWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	f.weights.Store(&w)
	return nil
}

// ComputeConfidence returns sigmoid(w·scores + bias), always in [0,1].
// Inputs are expected to be normalized already.
func (f *Fusion) ComputeConfidence(vector, episodic, semantic, recency float64) float64 {
	return compute(f.weights.Load(), vector, episodic, semantic, recency)
}

func compute(w *Weights, vector, episodic, semantic, recency float64) float64 {
	z := w.Vector*vector + w.Episodic*episodic + w.Semantic*semantic + w.Recency*recency + w.Bias
	return vecmath.Clamp01(vecmath.Sigmoid(z))
}

// Fuse fills in the confidence of r
func (f *Fusion) Fuse(r Result) Result {
	r.Confidence = f.ComputeConfidence(r.VectorScore, r.EpisodicScore, r.SemanticScore, r.RecencyScore)
	return r
}

// FuseAll computes confidences for every candidate with a single weights
// snapshot and returns them ranked.
func (f *Fusion) FuseAll(candidates []Result) []Result {
	return f.weights.Load().FuseAll(candidates)
}

// FuseAll computes confidences for every candidate with w and returns them
// ranked. The input slice is not modified.
func (w Weights) FuseAll(candidates []Result) []Result {
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		c.Confidence = compute(&w, c.VectorScore, c.EpisodicScore, c.SemanticScore, c.RecencyScore)
		out[i] = c
	}
	return Rank(out)
}

// Shares is each signal's fraction of a candidate's weighted sum
type Shares struct {
	Vector   float64 `json:"vector"`
	Episodic float64 `json:"episodic"`
	Semantic float64 `json:"semantic"`
	Recency  float64 `json:"recency"`
}

// Shares splits the weighted sum of r (bias excluded) by signal. All shares
// are zero when the sum is zero.
func (w Weights) Shares(r Result) Shares {
	s := Shares{
		Vector:   w.Vector * r.VectorScore,
		Episodic: w.Episodic * r.EpisodicScore,
		Semantic: w.Semantic * r.SemanticScore,
		Recency:  w.Recency * r.RecencyScore,
	}
	total := s.Vector + s.Episodic + s.Semantic + s.Recency
	if total <= 0 {
		return Shares{}
	}
	s.Vector /= total
	s.Episodic /= total
	s.Semantic /= total
	s.Recency /= total
	return s
}

// Rank sorts candidates by descending confidence in place. Ties keep their
// input order.
func Rank(candidates []Result) []Result {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// Normalize min-max scales values into [0,1]. When all values are equal
// every output is 1.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range values {
		if span == 0 {
			out[i] = 1
			continue
		}
		out[i] = (v - lo) / span
	}
	return out
}
