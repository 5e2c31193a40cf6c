package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/bloxgate/core"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int32

const (
	// StateClosed - normal operation, requests pass through
	StateClosed BreakerState = iota
	// StateOpen - failing, requests are rejected without reaching upstream
	StateOpen
	// StateHalfOpen - testing recovery with a single probe
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// StateChangeListener is notified on breaker transitions. Callers use it to
// feed the metrics gauge and emit log events.
type StateChangeListener func(name string, from, to BreakerState)

// CircuitBreaker tracks consecutive failures against one upstream service
// family. After Threshold consecutive counted failures it opens and rejects
// calls for ResetTimeout, then admits a single probe.
//
// Failures that say nothing about upstream health (caller mistakes, canceled
// contexts) must not be recorded; the pipeline decides what counts.
type CircuitBreaker struct {
	name         string
	threshold    int64
	resetTimeout time.Duration

	state           atomic.Int32
	consecFailures  atomic.Int64
	lastFailureTime atomic.Int64 // unix nanos
	stateChangedAt  atomic.Int64 // unix nanos
	openCount       atomic.Int64
	probeInFlight   atomic.Bool

	totalCalls      atomic.Int64
	totalFailures   atomic.Int64
	totalRejections atomic.Int64

	mu        sync.Mutex // serializes state transitions
	listeners []StateChangeListener
	logger    core.Logger
}

// NewCircuitBreaker creates a breaker for the named upstream service family.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration, logger core.Logger) *CircuitBreaker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if threshold < 1 {
		threshold = 1
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	cb := &CircuitBreaker{
		name:         name,
		threshold:    int64(threshold),
		resetTimeout: resetTimeout,
		logger:       logger,
	}
	cb.stateChangedAt.Store(time.Now().UnixNano())
	return cb
}

// OnStateChange registers a transition listener. Listeners run synchronously
// under the transition lock and must be fast.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, fn)
}

// Allow reports whether a call may proceed. In the open state it checks the
// reset timer and, when elapsed, admits exactly one half-open probe.
func (cb *CircuitBreaker) Allow() error {
	cb.totalCalls.Add(1)

	switch BreakerState(cb.state.Load()) {
	case StateClosed:
		return nil
	case StateHalfOpen:
		// Only the probe that caused the transition runs; everyone else
		// waits for its verdict.
		if cb.probeInFlight.CompareAndSwap(false, true) {
			return nil
		}
		cb.totalRejections.Add(1)
		return core.ErrCircuitOpen
	case StateOpen:
		last := time.Unix(0, cb.lastFailureTime.Load())
		if time.Since(last) >= cb.resetTimeout {
			cb.transition(StateOpen, StateHalfOpen)
			if cb.probeInFlight.CompareAndSwap(false, true) {
				return nil
			}
		}
		cb.totalRejections.Add(1)
		return core.ErrCircuitOpen
	}
	return nil
}

// RecordSuccess resets the failure count and closes the breaker if a probe
// succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecFailures.Store(0)
	state := BreakerState(cb.state.Load())
	if state == StateHalfOpen {
		cb.probeInFlight.Store(false)
		cb.transition(StateHalfOpen, StateClosed)
	}
}

// RecordFailure advances the consecutive failure counter. A failed half-open
// probe reopens immediately; in the closed state the breaker opens once the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.totalFailures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())

	state := BreakerState(cb.state.Load())
	if state == StateHalfOpen {
		cb.probeInFlight.Store(false)
		cb.transition(StateHalfOpen, StateOpen)
		return
	}

	failures := cb.consecFailures.Add(1)
	if state == StateClosed && failures >= cb.threshold {
		cb.transition(StateClosed, StateOpen)
	}
}

// Execute runs fn under breaker protection. The context is checked before
// admission so canceled callers never consume the half-open probe.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err == nil {
		cb.RecordSuccess()
	}
	// The caller decides whether a failure counts; see Pipeline.
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// ConsecutiveFailures returns the current consecutive failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	return cb.consecFailures.Load()
}

// SinceChange returns how long the breaker has been in its current state.
func (cb *CircuitBreaker) SinceChange() time.Duration {
	return time.Since(time.Unix(0, cb.stateChangedAt.Load()))
}

// Stats returns cumulative counters for the admin surface.
func (cb *CircuitBreaker) Stats() BreakerStats {
	return BreakerStats{
		Name:                cb.name,
		State:               cb.State().String(),
		ConsecutiveFailures: cb.consecFailures.Load(),
		OpenCount:           cb.openCount.Load(),
		TotalCalls:          cb.totalCalls.Load(),
		TotalFailures:       cb.totalFailures.Load(),
		TotalRejections:     cb.totalRejections.Load(),
		InStateSeconds:      cb.SinceChange().Seconds(),
	}
}

// BreakerStats is a point-in-time snapshot of one breaker.
type BreakerStats struct {
	Name                string  `json:"name"`
	State               string  `json:"state"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	OpenCount           int64   `json:"open_count"`
	TotalCalls          int64   `json:"total_calls"`
	TotalFailures       int64   `json:"total_failures"`
	TotalRejections     int64   `json:"total_rejections"`
	InStateSeconds      float64 `json:"in_state_seconds"`
}

func (cb *CircuitBreaker) transition(from, to BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return // another goroutine already moved the state
	}
	cb.stateChangedAt.Store(time.Now().UnixNano())
	if to == StateOpen {
		cb.openCount.Add(1)
	}

	cb.logger.Warn("circuit_breaker_state_change", map[string]interface{}{
		"breaker":              cb.name,
		"from":                 from.String(),
		"to":                   to.String(),
		"consecutive_failures": cb.consecFailures.Load(),
	})

	for _, fn := range cb.listeners {
		fn(cb.name, from, to)
	}
}

// BreakerGroup holds one breaker per upstream service family, created on
// first use.
type BreakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	threshold    int
	resetTimeout time.Duration
	logger       core.Logger
	listeners    []StateChangeListener
}

// NewBreakerGroup creates a group sharing threshold and reset settings.
func NewBreakerGroup(threshold int, resetTimeout time.Duration, logger core.Logger) *BreakerGroup {
	return &BreakerGroup{
		breakers:     make(map[string]*CircuitBreaker),
		threshold:    threshold,
		resetTimeout: resetTimeout,
		logger:       logger,
	}
}

// OnStateChange registers a listener applied to every breaker in the group,
// including ones created later.
func (g *BreakerGroup) OnStateChange(fn StateChangeListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
	for _, cb := range g.breakers {
		cb.OnStateChange(fn)
	}
}

// Get returns the breaker for a service family, creating it if needed.
func (g *BreakerGroup) Get(name string) *CircuitBreaker {
	g.mu.RLock()
	cb, ok := g.breakers[name]
	g.mu.RUnlock()
	if ok {
		return cb
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok = g.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, g.threshold, g.resetTimeout, g.logger)
	for _, fn := range g.listeners {
		cb.OnStateChange(fn)
	}
	g.breakers[name] = cb
	return cb
}

// All returns stats for every breaker, for the admin surface.
func (g *BreakerGroup) All() []BreakerStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]BreakerStats, 0, len(g.breakers))
	for _, cb := range g.breakers {
		out = append(out, cb.Stats())
	}
	return out
}
