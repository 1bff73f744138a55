package profiling

import (
	"maps"
	"sync"
	"time"
)

// StageTimer collects the latency breakdown of one query. Stages may be
// timed from several goroutines at once.
type StageTimer struct {
	queryID  string
	profiler *Profiler

	mu     sync.Mutex
	stages map[string]float64
}

// NewStageTimer starts a breakdown for queryID. A nil profiler is allowed.
func NewStageTimer(queryID string, p *Profiler) *StageTimer {
	if p == nil {
		p = Disabled()
	}
	return &StageTimer{
		queryID:  queryID,
		profiler: p,
		stages:   make(map[string]float64),
	}
}

// Time starts timing stage and returns the function that stops it
func (t *StageTimer) Time(stage string) func() {
	start := time.Now()
	return func() {
		t.Add(stage, time.Since(start))
	}
}

// Add records a measured duration for stage. Repeated stages accumulate.
func (t *StageTimer) Add(stage string, d time.Duration) {
	t.mu.Lock()
	t.stages[stage] += durationMs(d)
	t.mu.Unlock()

	t.profiler.Record(t.queryID, stage, d, nil)
}

// Skip marks a stage as not run, so it still appears in the breakdown
func (t *StageTimer) Skip(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.stages[stage]; !ok {
		t.stages[stage] = 0
	}
}

// Breakdown returns stage -> milliseconds
func (t *StageTimer) Breakdown() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.stages)
}

// Total returns the sum of all stage durations in milliseconds
func (t *StageTimer) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, ms := range t.stages {
		total += ms
	}
	return total
}
