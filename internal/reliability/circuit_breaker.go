package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
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
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called when a breaker changes state. It runs on its own
// goroutine.
type StateChangeFunc func(name string, from, to State, reason string)

// CircuitBreaker stops sending to an endpoint after repeated communication
// failures and lets a limited number of probes through once the open timeout has
// elapsed
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	currentHalfOpen int

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenRequests int
	name             string
	onStateChange    StateChangeFunc
	now              func() time.Time
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the consecutive failures that open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the probe successes that close a half-open circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithTimeout sets how long the circuit stays open
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.timeout = timeout
	}
}

// WithHalfOpenRequests sets the max probes in half-open state
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithStateChange registers the state change callback
func WithStateChange(fn StateChangeFunc) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 2,
		timeout:          10 * time.Second,
		halfOpenRequests: 1,
		name:             "default",
		now:              time.Now,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the circuit lets the call through and records its result
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn()
	cb.Record(err)
	return err
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.currentHalfOpen = 0
}

// Allow reports whether a call may proceed. Every nil result must be followed
// by exactly one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		nextRetry := cb.lastFailureTime.Add(cb.timeout)
		if cb.now().After(nextRetry) {
			cb.transition(StateHalfOpen, "timeout expired")
			cb.currentHalfOpen = 1
			cb.successes = 0
			return nil
		}
		return cb.rejection(nextRetry)

	case StateHalfOpen:
		if cb.currentHalfOpen >= cb.halfOpenRequests {
			return cb.rejection(cb.now().Add(cb.timeout))
		}
		cb.currentHalfOpen++
		return nil

	default:
		return ErrUnknownState
	}
}

// Record reports the outcome of a call admitted by Allow. A nil err is a success.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.currentHalfOpen > 0 {
		cb.currentHalfOpen--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailureTime = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.transition(StateOpen,
					fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
			}
		case StateHalfOpen:
			cb.transition(StateOpen, "probe failed")
			cb.currentHalfOpen = 0
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateHalfOpen:
		if cb.successes >= cb.successThreshold {
			cb.transition(StateClosed,
				fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold))
			cb.failures = 0
			cb.currentHalfOpen = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) rejection(nextRetry time.Time) error {
	return &CircuitBreakerError{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailureTime,
		NextRetry:        nextRetry,
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to State, reason string) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil && from != to {
		go cb.onStateChange(cb.name, from, to, reason)
	}
}

// Breakers holds one circuit breaker per endpoint
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	options  []CircuitBreakerOption
}

// NewBreakers creates a breaker group whose members share options
func NewBreakers(options ...CircuitBreakerOption) *Breakers {
	return &Breakers{
		breakers: make(map[string]*CircuitBreaker),
		options:  options,
	}
}

// For returns the breaker of endpoint, creating it on first use
func (b *Breakers) For(endpoint string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[endpoint]
	if !ok {
		cb = NewCircuitBreaker(append(append([]CircuitBreakerOption(nil), b.options...), WithName(endpoint))...)
		b.breakers[endpoint] = cb
	}
	return cb
}

// States returns the state of every known endpoint
func (b *Breakers) States() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()

	states := make(map[string]State, len(b.breakers))
	for endpoint, cb := range b.breakers {
		states[endpoint] = cb.State()
	}
	return states
}
