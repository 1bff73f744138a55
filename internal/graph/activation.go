package graph

import (
	"fmt"
	"sort"

	"github.com/vthunder/cogmem/internal/vecmath"
)

// Activation parameters used by the query pipeline
const (
	DefaultMaxHops   = 3
	DefaultDecay     = 0.7 // retention per hop
	DefaultThreshold = 0.1 // contributions below this are pruned
)

// Activation is a concept and its activation level
type Activation struct {
	Concept string  `json:"concept"`
	Level   float64 `json:"level"`
}

// SpreadActivation propagates activation outward from the source concepts.
//
// Each source starts at 1.0. A node passes current*weight*decay, capped at
// 1.0, to each neighbor; the neighbor keeps the maximum value it has seen and re-enters the
// frontier only when that maximum strictly increases. Contributions below
// threshold are dropped and nothing travels more than maxHops edges from a
// source. Unknown sources are ignored. The result is sorted by descending
// level.
func (n *Network) SpreadActivation(sources []string, maxHops int, decay, threshold float64) []Activation {
	type frontierItem struct {
		key   string
		hops  int
		level float64
	}

	n.mu.RLock()
	activation := make(map[string]float64)
	var frontier []frontierItem
	for _, src := range sources {
		if _, ok := n.nodes[src]; !ok {
			continue
		}
		if activation[src] < 1.0 {
			activation[src] = 1.0
			frontier = append(frontier, frontierItem{key: src, level: 1.0})
		}
	}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		if cur.hops >= maxHops {
			continue
		}
		node, ok := n.nodes[cur.key]
		if !ok {
			continue
		}

		// sorted for deterministic propagation order
		for _, neighbor := range sortedTargets(node.Edges) {
			next := min(1, cur.level*node.Edges[neighbor]*decay)
			if next < threshold {
				continue
			}
			if next > activation[neighbor] {
				activation[neighbor] = next
				frontier = append(frontier, frontierItem{key: neighbor, hops: cur.hops + 1, level: next})
			}
		}
	}
	n.mu.RUnlock()

	n.publish(activation)
	return sortActivations(activation)
}

func sortActivations(activation map[string]float64) []Activation {
	result := make([]Activation, 0, len(activation))
	for k, v := range activation {
		result = append(result, Activation{Concept: k, Level: v})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Level != result[j].Level {
			return result[i].Level > result[j].Level
		}
		return result[i].Concept < result[j].Concept
	})
	return result
}

// publish replaces the last published activation snapshot
func (n *Network) publish(activation map[string]float64) {
	snapshot := make(map[string]float64, len(activation))
	for k, v := range activation {
		snapshot[k] = v
	}

	n.actMu.Lock()
	n.activation = snapshot
	n.actMu.Unlock()
}

// Activation returns the published activation level of a concept
func (n *Network) Activation(key string) float64 {
	n.actMu.Lock()
	defer n.actMu.Unlock()
	return n.activation[key]
}

// DecayActivations multiplies every published activation by rate
func (n *Network) DecayActivations(rate float64) {
	n.actMu.Lock()
	defer n.actMu.Unlock()
	for k, v := range n.activation {
		n.activation[k] = v * rate
	}
}

// ResetActivations zeroes every published activation
func (n *Network) ResetActivations() {
	n.actMu.Lock()
	defer n.actMu.Unlock()
	n.activation = make(map[string]float64)
}

// FindSimilarConcepts returns up to topK concept keys whose embedding has
// cosine similarity of at least threshold with queryEmbedding, best first.
// Concepts without an embedding are skipped.
func (n *Network) FindSimilarConcepts(queryEmbedding []float64, topK int, threshold float64) ([]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	type scored struct {
		key string
		sim float64
	}

	var candidates []scored
	for key, node := range n.nodes {
		if len(node.Embedding) == 0 {
			continue
		}
		sim, err := vecmath.Cosine(queryEmbedding, node.Embedding)
		if err != nil {
			return nil, fmt.Errorf("concept %q: %w", key, err)
		}
		if sim >= threshold {
			candidates = append(candidates, scored{key: key, sim: sim})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].key < candidates[j].key
	})

	result := make([]string, 0, topK)
	for i := 0; i < len(candidates) && i < topK; i++ {
		result = append(result, candidates[i].key)
	}
	return result, nil
}
