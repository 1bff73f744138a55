// Package graph holds the shared concept graph: weighted directed edges
// between named concepts, spreading activation over those edges and
// embedding-based concept lookup.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
)

var (
	// ErrEmptyKey is returned when a concept key is empty
	ErrEmptyKey = errors.New("graph: empty concept key")
	// ErrInvalidWeight is returned for edge weights that are not positive and finite
	ErrInvalidWeight = errors.New("graph: edge weight must be positive")
)

// Node is a concept in the graph. Values returned by the Network are copies.
type Node struct {
	Key       string             `json:"key"`
	Embedding []float64          `json:"embedding,omitempty"`
	Edges     map[string]float64 `json:"edges"` // target key -> weight
}

// Network is a directed weighted concept graph shared by all sessions.
// Structure is guarded by a readers-writer lock; activation computed by
// SpreadActivation is private to each call and only published afterwards.
type Network struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edgeCount int

	// last published activation levels
	actMu      sync.Mutex
	activation map[string]float64
}

// New creates an empty network
func New() *Network {
	return &Network{
		nodes:      make(map[string]*Node),
		activation: make(map[string]float64),
	}
}

// AddNode creates a concept if missing. A non-nil embedding replaces the
// stored one; edges are never touched.
func (n *Network) AddNode(key string, embedding []float64) error {
	if key == "" {
		return ErrEmptyKey
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	node := n.ensureNode(key)
	if embedding != nil {
		node.Embedding = slices.Clone(embedding)
	}
	return nil
}

// AddEdge sets the weight of source -> target, creating either node if
// needed. An existing edge is overwritten.
func (n *Network) AddEdge(source, target string, weight float64) error {
	if source == "" || target == "" {
		return ErrEmptyKey
	}
	if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: %s -> %s = %v", ErrInvalidWeight, source, target, weight)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	src := n.ensureNode(source)
	n.ensureNode(target)
	if _, exists := src.Edges[target]; !exists {
		n.edgeCount++
	}
	src.Edges[target] = weight
	return nil
}

// ensureNode must be called with mu held for writing
func (n *Network) ensureNode(key string) *Node {
	node, ok := n.nodes[key]
	if !ok {
		node = &Node{Key: key, Edges: make(map[string]float64)}
		n.nodes[key] = node
	}
	return node
}

// Has reports whether a concept exists
func (n *Network) Has(key string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.nodes[key]
	return ok
}

// Node returns a copy of the concept with the given key
func (n *Network) Node(key string) (Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	node, ok := n.nodes[key]
	if !ok {
		return Node{}, false
	}
	return Node{
		Key:       node.Key,
		Embedding: slices.Clone(node.Embedding),
		Edges:     maps.Clone(node.Edges),
	}, true
}

// Keys returns all concept keys in sorted order
func (n *Network) Keys() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.nodes))
	for k := range n.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NumNodes returns the number of concepts
func (n *Network) NumNodes() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

// NumEdges returns the number of directed edges
func (n *Network) NumEdges() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.edgeCount
}

// Clear removes every concept, edge and published activation
func (n *Network) Clear() {
	n.mu.Lock()
	n.nodes = make(map[string]*Node)
	n.edgeCount = 0
	n.mu.Unlock()

	n.ResetActivations()
}

// Edge is a flattened directed edge, used for export
type Edge struct {
	Source string  `json:"source" yaml:"source"`
	Target string  `json:"target" yaml:"target"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Export returns copies of all nodes and edges, sorted by key
func (n *Network) Export() ([]Node, []Edge) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.nodes))
	for k := range n.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make([]Node, 0, len(keys))
	edges := make([]Edge, 0, n.edgeCount)
	for _, k := range keys {
		node := n.nodes[k]
		nodes = append(nodes, Node{
			Key:       node.Key,
			Embedding: slices.Clone(node.Embedding),
			Edges:     maps.Clone(node.Edges),
		})
		for _, target := range sortedTargets(node.Edges) {
			edges = append(edges, Edge{Source: k, Target: target, Weight: node.Edges[target]})
		}
	}
	return nodes, edges
}

func sortedTargets(edges map[string]float64) []string {
	targets := make([]string, 0, len(edges))
	for t := range edges {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}
