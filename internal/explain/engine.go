// Package explain records the reasoning steps taken while answering a query
// and renders them for people and programs.
package explain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Step types recorded by the query pipeline
const (
	StepEmbed       = "embed"
	StepVector      = "vector_search"
	StepEpisodic    = "episodic_retrieval"
	StepSemantic    = "semantic_activation"
	StepFusion      = "hybrid_fusion"
	StepValidation  = "hallucination_check"
	StepDegradation = "degraded"
)

// Step is one entry of the reasoning trace
type Step struct {
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	EvidenceRefs []string `json:"evidence_refs"`
	Contribution float64  `json:"contribution"`
}

// Engine is an append-only reasoning trace. It is not safe for concurrent
// use; create one per query.
type Engine struct {
	steps []Step
}

// New creates an empty trace
func New() *Engine {
	return &Engine{}
}

// AddStep appends a step. refs is copied.
func (e *Engine) AddStep(stepType, description string, refs []string, contribution float64) {
	e.steps = append(e.steps, Step{
		Type:         stepType,
		Description:  description,
		EvidenceRefs: slices.Clone(refs),
		Contribution: contribution,
	})
}

// Steps returns a copy of the trace
func (e *Engine) Steps() []Step {
	out := make([]Step, len(e.steps))
	for i, s := range e.steps {
		s.EvidenceRefs = slices.Clone(s.EvidenceRefs)
		out[i] = s
	}
	return out
}

// Len returns the number of steps
func (e *Engine) Len() int { return len(e.steps) }

// Clear drops every step
func (e *Engine) Clear() {
	e.steps = nil
}

// Generate renders the trace as text. Verbose output also lists each step's
// evidence references.
func (e *Engine) Generate(query, answer string, verbose bool) string {
	var b strings.Builder
	b.WriteString("=== Query Explanation ===\n\n")
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "Answer: %s\n\n", answer)

	b.WriteString("Reasoning Process:\n")
	if len(e.steps) == 0 {
		b.WriteString("  (no steps recorded)\n")
	}
	for i, s := range e.steps {
		fmt.Fprintf(&b, "%d. [%s] %s (contribution: %.1f%%)\n", i+1, s.Type, s.Description, s.Contribution*100)
		if verbose {
			for _, ref := range s.EvidenceRefs {
				fmt.Fprintf(&b, "   - %s\n", ref)
			}
		}
	}

	fmt.Fprintf(&b, "\nSummary: %s\n", e.Summary())
	return b.String()
}

// Summary describes which sources the trace drew on and how validation went
func (e *Engine) Summary() string {
	var sources []string
	seen := make(map[string]bool)
	validated, checked := false, false
	for _, s := range e.steps {
		var label string
		switch s.Type {
		case StepVector:
			label = "vector search"
		case StepEpisodic:
			label = "conversation context"
		case StepSemantic:
			label = "semantic knowledge"
		case StepValidation:
			checked = true
			validated = s.Contribution > 0
		}
		if label != "" && !seen[label] {
			seen[label] = true
			sources = append(sources, label)
		}
	}

	var b strings.Builder
	if len(sources) == 0 {
		b.WriteString("Answer selected without supporting sources.")
	} else {
		fmt.Fprintf(&b, "Answer selected using %s.", joinList(sources))
	}
	if checked {
		if validated {
			b.WriteString(" The answer was corroborated by retrieved evidence.")
		} else {
			b.WriteString(" The answer could not be corroborated.")
		}
	}
	return b.String()
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

type jsonStep struct {
	Index int `json:"index"`
	Step
}

type jsonTrace struct {
	Query   string     `json:"query,omitempty"`
	Answer  string     `json:"answer,omitempty"`
	Steps   []jsonStep `json:"steps"`
	Summary string     `json:"summary"`
}

// JSON exports the trace
func (e *Engine) JSON() (string, error) {
	return e.JSONFor("", "")
}

// JSONFor exports the trace together with the query and answer it explains
func (e *Engine) JSONFor(query, answer string) (string, error) {
	trace := jsonTrace{
		Query:   query,
		Answer:  answer,
		Steps:   make([]jsonStep, len(e.steps)),
		Summary: e.Summary(),
	}
	for i, s := range e.steps {
		if s.EvidenceRefs == nil {
			s.EvidenceRefs = []string{}
		}
		trace.Steps[i] = jsonStep{Index: i + 1, Step: s}
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal explanation: %w", err)
	}
	return string(data), nil
}
