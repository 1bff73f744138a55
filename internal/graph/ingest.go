package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConceptDef declares a concept in a graph definition file
type ConceptDef struct {
	Key       string    `yaml:"key" json:"key"`
	Embedding []float64 `yaml:"embedding,omitempty" json:"embedding,omitempty"`
}

// Definition is a bulk description of concepts and relations, typically
// loaded at startup from YAML:
//
//	concepts:
//	  - key: lean
//	relations:
//	  - {source: lean, target: waste, weight: 0.8}
type Definition struct {
	Concepts  []ConceptDef `yaml:"concepts" json:"concepts"`
	Relations []Edge       `yaml:"relations" json:"relations"`
}

// ParseDefinition decodes a YAML graph definition
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse graph definition: %w", err)
	}
	return &def, nil
}

// LoadDefinition reads a YAML graph definition file
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph definition: %w", err)
	}
	return ParseDefinition(data)
}

// Apply adds every concept and relation of def to the network. It stops at
// the first invalid entry; entries applied before it remain.
func (n *Network) Apply(def *Definition) error {
	for _, c := range def.Concepts {
		if err := n.AddNode(c.Key, c.Embedding); err != nil {
			return fmt.Errorf("concept %q: %w", c.Key, err)
		}
	}
	for _, r := range def.Relations {
		if err := n.AddEdge(r.Source, r.Target, r.Weight); err != nil {
			return fmt.Errorf("relation %s -> %s: %w", r.Source, r.Target, err)
		}
	}
	return nil
}

// Definition exports the network as a definition, suitable for YAML output
func (n *Network) Definition() *Definition {
	nodes, edges := n.Export()
	def := &Definition{
		Concepts:  make([]ConceptDef, 0, len(nodes)),
		Relations: edges,
	}
	for _, node := range nodes {
		def.Concepts = append(def.Concepts, ConceptDef{Key: node.Key, Embedding: node.Embedding})
	}
	return def
}

// MarshalDefinition encodes the network as YAML
func (n *Network) MarshalDefinition() ([]byte, error) {
	return yaml.Marshal(n.Definition())
}
