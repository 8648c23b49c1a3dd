// Package circuitbreaker shields outbound provider calls with a per-key
// closed → open → half-open circuit.
//
// Initiation cannot retry a gateway call (a retry risks a duplicate
// invoice), so when a gateway keeps timing out the only useful move is to
// stop calling it for a while and fail fast with a transient error the
// client can back off on.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the circuit state for one key.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // tripped, calls are rejected
	StateHalfOpen              // one probe call allowed
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

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pagera",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker transitions by provider, from-state, and to-state.",
}, []string{"provider", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive transient failures per key (one key per
// provider) and trips open at the threshold. After openFor elapses the
// circuit goes half-open and admits a single probe.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	thresh   int
	openFor  time.Duration
}

// New creates a breaker that opens after thresh consecutive failures and
// stays open for openFor before probing.
func New(thresh int, openFor time.Duration) *Breaker {
	if thresh <= 0 {
		thresh = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		thresh:   thresh,
		openFor:  openFor,
	}
}

// Allow reports whether a call to key may proceed. An open circuit whose
// openFor window has elapsed moves to half-open and admits this call as
// the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) >= b.openFor {
			b.transition(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a transient failure. At the threshold, or on a
// failed probe, the circuit trips open.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.thresh) {
		b.transition(c, key, StateOpen)
	}
}

// State returns the circuit state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return StateClosed
	}
	return c.state
}

// caller holds b.mu
func (b *Breaker) transition(c *circuit, key string, to State) {
	if c.state == to {
		return
	}
	stateTransitions.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}
