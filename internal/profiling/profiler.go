// Package profiling measures per-stage query latency. Timings are always
// collected into a per-query breakdown; a Profiler additionally appends them
// to a JSON-lines log when enabled.
package profiling

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProfilingLevel determines how detailed the profiling is
type ProfilingLevel string

const (
	LevelOff      ProfilingLevel = "off"      // No profiling
	LevelMinimal  ProfilingLevel = "minimal"  // L1: pipeline stages only
	LevelDetailed ProfilingLevel = "detailed" // L2: sub-steps included
)

// ParseLevel maps a config string to a level; unknown values are off
func ParseLevel(s string) ProfilingLevel {
	switch ProfilingLevel(s) {
	case LevelMinimal, LevelDetailed:
		return ProfilingLevel(s)
	default:
		return LevelOff
	}
}

// QueryTiming is a single timing measurement
type QueryTiming struct {
	QueryID    string         `json:"query_id"`
	Stage      string         `json:"stage"`
	StartTime  time.Time      `json:"start_time"`
	DurationMs float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Profiler writes timing measurements to a JSON-lines file
type Profiler struct {
	enabled bool
	level   ProfilingLevel
	logPath string
	mu      sync.Mutex
	logFile *os.File
	encoder *json.Encoder
}

// New creates a profiler. LevelOff or an empty path yields a disabled
// profiler that never touches the filesystem.
func New(level ProfilingLevel, logPath string) (*Profiler, error) {
	p := &Profiler{
		enabled: level != LevelOff && logPath != "",
		level:   level,
		logPath: logPath,
	}
	if !p.enabled {
		p.level = LevelOff
		return p, nil
	}
	if err := p.openLogFile(); err != nil {
		return nil, err
	}
	return p, nil
}

// Disabled returns a profiler that records nothing
func Disabled() *Profiler {
	return &Profiler{level: LevelOff}
}

// openLogFile opens the log file for writing
func (p *Profiler) openLogFile() error {
	if err := os.MkdirAll(filepath.Dir(p.logPath), 0755); err != nil {
		return fmt.Errorf("failed to create profiling dir: %w", err)
	}
	var err error
	p.logFile, err = os.OpenFile(p.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open profiling log: %w", err)
	}
	p.encoder = json.NewEncoder(p.logFile)
	return nil
}

// Close closes the profiler and its log file
func (p *Profiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.logFile != nil {
		err := p.logFile.Close()
		p.logFile = nil
		p.encoder = nil
		return err
	}
	return nil
}

// Start begins timing a stage and returns a function to call when done
func (p *Profiler) Start(queryID, stage string) func() {
	if !p.enabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		p.Record(queryID, stage, time.Since(start), nil)
	}
}

// Record records a timing measurement
func (p *Profiler) Record(queryID, stage string, duration time.Duration, metadata map[string]any) {
	if !p.enabled {
		return
	}

	timing := QueryTiming{
		QueryID:    queryID,
		Stage:      stage,
		StartTime:  time.Now().Add(-duration),
		DurationMs: durationMs(duration),
		Metadata:   metadata,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.encoder != nil {
		_ = p.encoder.Encode(timing)
	}
}

// ShouldProfile returns true if the given level should be profiled
func (p *Profiler) ShouldProfile(level ProfilingLevel) bool {
	if !p.enabled {
		return false
	}

	switch p.level {
	case LevelDetailed:
		return level == LevelMinimal || level == LevelDetailed
	case LevelMinimal:
		return level == LevelMinimal
	default:
		return false
	}
}

// IsEnabled returns true if profiling is enabled
func (p *Profiler) IsEnabled() bool {
	return p.enabled
}

// GetLevel returns the current profiling level
func (p *Profiler) GetLevel() ProfilingLevel {
	return p.level
}

func durationMs(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}
