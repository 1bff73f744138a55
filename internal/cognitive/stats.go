package cognitive

import (
	"context"

	"github.com/vthunder/cogmem/internal/fusion"
	"github.com/vthunder/cogmem/internal/logging"
	"github.com/vthunder/cogmem/internal/profiling"
	"github.com/vthunder/cogmem/internal/resilience"
)

// Stats is a health snapshot of the handler
type Stats struct {
	Sessions        int                    `json:"sessions"`
	Episodes        int                    `json:"episodes"`
	Concepts        int                    `json:"concepts"`
	Relations       int                    `json:"relations"`
	Queries         int64                  `json:"queries"`
	DegradedQueries int64                  `json:"degraded_queries"`
	Breaker         resilience.Stats       `json:"breaker"`
	Weights         fusion.Weights         `json:"weights"`
	Process         profiling.ProcessStats `json:"process"`
}

// Stats collects counters and a process snapshot
func (h *Handler) Stats(ctx context.Context) Stats {
	h.mu.RLock()
	s := Stats{Sessions: len(h.sessions)}
	for _, buf := range h.sessions {
		s.Episodes += buf.Len()
	}
	h.mu.RUnlock()

	s.Concepts = h.network.NumNodes()
	s.Relations = h.network.NumEdges()
	s.Queries = h.queries.Load()
	s.DegradedQueries = h.degraded.Load()
	s.Breaker = h.breaker.Stats()
	s.Weights = h.fusion.Weights()

	proc, err := profiling.ProcessSnapshot(ctx)
	if err != nil {
		logging.Debug("cognitive", "process snapshot: %v", err)
	}
	s.Process = proc
	return s
}
