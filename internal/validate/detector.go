// Package validate checks whether a claim is corroborated by retrieved
// evidence.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vthunder/cogmem/internal/vecmath"
)

// Evidence sources
const (
	SourceVectorSearch = "vector_search"
	SourceEpisodic     = "episodic_memory"
)

// Flag texts reported by Flags
const (
	FlagHedging       = "response contains hedging language"
	FlagUnsubstantial = "response contains unsubstantiated claims"
)

// Support is a candidate piece of evidence: a search hit or a past episode
type Support struct {
	Ref       string
	Embedding []float64
	Timestamp int64
}

// Evidence is a support item that cleared the similarity threshold
type Evidence struct {
	Source    string  `json:"source"`
	Ref       string  `json:"ref"`
	Relevance float64 `json:"relevance"`
	Timestamp int64   `json:"timestamp_ms,omitempty"`
}

// Result is the outcome of validating one claim
type Result struct {
	Valid      bool       `json:"valid"`
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
	Reason     string     `json:"reason"`
	Flags      []string   `json:"flags,omitempty"`
}

var (
	defaultHedging = []string{
		"i think", "probably", "maybe", "possibly",
		"i'm not sure", "i believe", "it seems",
	}
	defaultIndicators = []string{
		"according to", "research shows", "studies indicate",
		"it is known that", "the fact is",
	}
)

// Detector validates claims against evidence. It holds no mutable state
// after construction and may be shared freely.
type Detector struct {
	hedging    []string
	indicators []string
}

// Option configures a Detector
type Option func(*Detector)

// WithHedgingPatterns adds phrases that mark a response as hedged
func WithHedgingPatterns(patterns ...string) Option {
	return func(d *Detector) {
		for _, p := range patterns {
			d.hedging = append(d.hedging, strings.ToLower(p))
		}
	}
}

// WithClaimIndicators adds phrases that present a statement as established fact
func WithClaimIndicators(indicators ...string) Option {
	return func(d *Detector) {
		for _, p := range indicators {
			d.indicators = append(d.indicators, strings.ToLower(p))
		}
	}
}

// NewDetector returns a detector with the default phrase lists plus any options
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		hedging:    append([]string(nil), defaultHedging...),
		indicators: append([]string(nil), defaultIndicators...),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ValidateClaim compares claim against every hit and episode and keeps those
// with cosine similarity >= threshold. The claim is valid when at least
// minEvidence items were kept; confidence is then their mean relevance.
// Supports without an embedding are ignored.
func (d *Detector) ValidateClaim(claim []float64, hits, episodes []Support, threshold float64, minEvidence int) (Result, error) {
	if minEvidence < 0 {
		minEvidence = 0
	}

	evidence := make([]Evidence, 0, len(hits)+len(episodes))
	collect := func(source string, items []Support) error {
		for _, s := range items {
			if len(s.Embedding) == 0 {
				continue
			}
			sim, err := vecmath.Cosine(claim, s.Embedding)
			if err != nil {
				return fmt.Errorf("%s %q: %w", source, s.Ref, err)
			}
			if sim >= threshold {
				evidence = append(evidence, Evidence{
					Source:    source,
					Ref:       s.Ref,
					Relevance: sim,
					Timestamp: s.Timestamp,
				})
			}
		}
		return nil
	}
	if err := collect(SourceVectorSearch, hits); err != nil {
		return Result{}, err
	}
	if err := collect(SourceEpisodic, episodes); err != nil {
		return Result{}, err
	}

	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Relevance > evidence[j].Relevance
	})

	res := Result{
		Valid:    len(evidence) >= minEvidence,
		Evidence: evidence,
		Reason:   fmt.Sprintf("found %d of %d required", len(evidence), minEvidence),
	}
	if res.Valid && len(evidence) > 0 {
		var sum float64
		for _, e := range evidence {
			sum += e.Relevance
		}
		res.Confidence = vecmath.Clamp01(sum / float64(len(evidence)))
	}
	return res, nil
}

// Flags inspects response text for hedging language and for factual-sounding
// claims that have no evidence behind them. Flags are advisory and never
// change validity.
func (d *Detector) Flags(text string, evidenceCount int) []string {
	lower := strings.ToLower(text)
	var flags []string
	if containsAny(lower, d.hedging) {
		flags = append(flags, FlagHedging)
	}
	if evidenceCount == 0 && containsAny(lower, d.indicators) {
		flags = append(flags, FlagUnsubstantial)
	}
	return flags
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
