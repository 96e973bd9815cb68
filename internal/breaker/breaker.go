// Package breaker implements a per-source circuit breaker registry. Each
// source accumulates failures independently; there is no global breaker.
package breaker

import (
	"sync"
	"time"

	"github.com/relayops/sentinel/pkg/logging"
)

// State represents the state of a circuit
type State int

const (
	// StateClosed - normal operation, failures accumulate
	StateClosed State = iota
	// StateHalfOpen - probe state, one success closes the circuit
	StateHalfOpen
	// StateOpen - calls through this source should be short-circuited
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the state as its string form
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Snapshot is a copy of one source's circuit state
type Snapshot struct {
	Source           string        `json:"source"`
	State            State         `json:"state"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	LastFailureTime  time.Time     `json:"last_failure_time"`
	NextRetryTime    time.Time     `json:"next_retry_time"`
}

type circuit struct {
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextRetryTime   time.Time
}

// Config holds registry-wide breaker defaults
type Config struct {
	// FailureThreshold is the failure count that opens a circuit
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit waits before probing
	RecoveryTimeout time.Duration
	// OnStateChange is called whenever a circuit changes state
	OnStateChange func(source string, from, to State)
}

// Registry tracks circuit state per source
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	logger   *logging.Logger
	now      func() time.Time
}

// NewRegistry creates a breaker registry with the given defaults
func NewRegistry(config Config) *Registry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	return &Registry{
		circuits: make(map[string]*circuit),
		config:   config,
		logger:   logging.GetLogger(),
		now:      time.Now,
	}
}

// RecordFailure increments the failure count for a source and opens the
// circuit once the threshold is reached. A failure while half-open reuses the
// same path and re-opens immediately.
func (r *Registry) RecordFailure(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(source)
	now := r.now()
	c.failureCount++
	c.lastFailureTime = now

	if c.state == StateHalfOpen || c.failureCount >= r.config.FailureThreshold {
		r.setState(source, c, StateOpen)
		c.nextRetryTime = now.Add(r.config.RecoveryTimeout)
	}
}

// RecordSuccess increments the success count for a source. A success while
// half-open closes the circuit and resets the failure count.
func (r *Registry) RecordSuccess(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(source)
	c.successCount++

	if c.state == StateHalfOpen {
		c.failureCount = 0
		r.setState(source, c, StateClosed)
	}
}

// IsOpen reports whether calls for this source should be short-circuited.
// When the recovery timeout has elapsed the circuit flips to half-open as a
// read-side effect and the call is allowed through as a probe.
func (r *Registry) IsOpen(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(source)
	if c.state == StateOpen && r.now().After(c.nextRetryTime) {
		r.setState(source, c, StateHalfOpen)
	}
	return c.state == StateOpen
}

// State returns the current state for a source, applying the same lazy
// half-open transition as IsOpen.
func (r *Registry) State(source string) State {
	r.IsOpen(source)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuit(source).state
}

// Snapshot returns a copy of one source's circuit state
func (r *Registry) Snapshot(source string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(source)
	return Snapshot{
		Source:           source,
		State:            c.state,
		FailureCount:     c.failureCount,
		SuccessCount:     c.successCount,
		FailureThreshold: r.config.FailureThreshold,
		RecoveryTimeout:  r.config.RecoveryTimeout,
		LastFailureTime:  c.lastFailureTime,
		NextRetryTime:    c.nextRetryTime,
	}
}

// Sources returns all sources the registry has seen
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := make([]string, 0, len(r.circuits))
	for source := range r.circuits {
		sources = append(sources, source)
	}
	return sources
}

// circuit returns the tracked circuit for a source, creating a closed one on
// first use. Callers must hold the mutex.
func (r *Registry) circuit(source string) *circuit {
	c, ok := r.circuits[source]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[source] = c
	}
	return c
}

func (r *Registry) setState(source string, c *circuit, to State) {
	if c.state == to {
		return
	}
	from := c.state
	c.state = to

	if r.config.OnStateChange != nil {
		r.config.OnStateChange(source, from, to)
	}

	r.logger.Info("Circuit breaker state changed",
		"source", source,
		"from", from.String(),
		"to", to.String(),
		"failure_count", c.failureCount,
	)
}
