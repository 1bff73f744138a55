// Package resilience guards calls to unreliable collaborators.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/pipz"
)

// ErrOpen is returned by Process when the breaker rejects a call
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open", "half_open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config controls when the breaker trips and recovers
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures that open the breaker
	SuccessThreshold int           `yaml:"success_threshold"` // consecutive half-open successes that close it
	OpenTimeout      time.Duration `yaml:"open_timeout"`      // time spent open before a trial call
}

// DefaultConfig returns the thresholds used by the query pipeline
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Stats is a point-in-time copy of breaker counters
type Stats struct {
	State                string    `json:"state"`
	TotalCalls           int64     `json:"total_calls"`
	SuccessfulCalls      int64     `json:"successful_calls"`
	FailedCalls          int64     `json:"failed_calls"`
	RejectedCalls        int64     `json:"rejected_calls"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastStateChange      time.Time `json:"last_state_change,omitempty"`
}

// Breaker runs a func(ctx, T) (T, error) behind a pipz circuit breaker and
// keeps counters about the calls it admitted and rejected.
type Breaker[T any] struct {
	name string
	cfg  Config
	cb   *pipz.CircuitBreaker[T]
	now  func() time.Time

	mu    sync.Mutex
	state State
	stats Stats
}

// callKey carries the per-call record through the pipz chain
type callKey struct{}

type callRecord struct {
	called bool
	forced bool // Trip: fail without running fn
	err    error
}

// NewBreaker wraps fn in a closed breaker. Zero config fields take defaults.
func NewBreaker[T any](name string, cfg Config, fn func(context.Context, T) (T, error)) *Breaker[T] {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	guarded := pipz.Apply(pipz.Name(name), func(ctx context.Context, in T) (T, error) {
		rec, _ := ctx.Value(callKey{}).(*callRecord)
		if rec != nil && rec.forced {
			return in, ErrOpen
		}
		out, err := fn(ctx, in)
		if rec != nil {
			rec.called = true
			rec.err = err
		}
		return out, err
	})
	cb := pipz.NewCircuitBreaker(pipz.Name(name), guarded, cfg.FailureThreshold, cfg.OpenTimeout)
	cb.SetSuccessThreshold(cfg.SuccessThreshold)

	return &Breaker[T]{name: name, cfg: cfg, cb: cb, now: time.Now}
}

// WithClock replaces the time source used for stats timestamps
func (b *Breaker[T]) WithClock(now func() time.Time) *Breaker[T] {
	b.now = now
	return b
}

// Name returns the breaker name
func (b *Breaker[T]) Name() string { return b.name }

// Process runs the wrapped function if the breaker admits the call. A
// rejected call returns ErrOpen; otherwise the function's own error is
// returned unwrapped. Context cancellation counts as a failure.
func (b *Breaker[T]) Process(ctx context.Context, in T) (T, error) {
	rec := &callRecord{}
	out, err := b.cb.Process(context.WithValue(ctx, callKey{}, rec), in)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync()

	if !rec.called {
		b.stats.RejectedCalls++
		var zero T
		return zero, ErrOpen
	}

	b.stats.TotalCalls++
	if rec.err == nil && err == nil {
		b.stats.SuccessfulCalls++
		b.stats.ConsecutiveSuccesses++
		b.stats.ConsecutiveFailures = 0
		return out, nil
	}
	b.stats.FailedCalls++
	b.stats.ConsecutiveFailures++
	b.stats.ConsecutiveSuccesses = 0
	b.stats.LastFailure = b.now()
	if rec.err == nil {
		rec.err = err
	}
	return out, rec.err
}

// sync folds the pipz state into ours; mu must be held
func (b *Breaker[T]) sync() {
	s := parseState(b.cb.GetState())
	if s == b.state {
		return
	}
	b.state = s
	b.stats.LastStateChange = b.now()
	switch s {
	case StateClosed:
		b.stats.ConsecutiveFailures = 0
		b.stats.ConsecutiveSuccesses = 0
	case StateHalfOpen:
		b.stats.ConsecutiveSuccesses = 0
	}
}

// State returns the current state
func (b *Breaker[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync()
	return b.state
}

// Trip forces the breaker open by feeding it failures that skip the wrapped
// function.
func (b *Breaker[T]) Trip() {
	var zero T
	for i := 0; i < b.cfg.FailureThreshold; i++ {
		if parseState(b.cb.GetState()) == StateOpen {
			break
		}
		b.cb.Process(context.WithValue(context.Background(), callKey{}, &callRecord{forced: true}), zero)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.LastFailure = b.now()
	b.sync()
}

// Reset forces the breaker closed
func (b *Breaker[T]) Reset() {
	b.cb.Reset()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync()
	b.stats.ConsecutiveFailures = 0
	b.stats.ConsecutiveSuccesses = 0
}

// Stats returns a copy of the counters
func (b *Breaker[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sync()
	s := b.stats
	s.State = b.state.String()
	return s
}
