package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/glimte/mmate-orb/orb"
)

func newResult(name string) (CheckResult, time.Time) {
	start := time.Now()
	return CheckResult{
		Name:      name,
		Timestamp: start,
		Details:   make(map[string]any),
	}, start
}

// BrokerProbe is the part of the RabbitMQ broker the broker check needs
type BrokerProbe interface {
	IsConnected() bool
	QueueInfo(ctx context.Context, name string) (amqp.Queue, error)
}

// BrokerChecker checks the broker connection and the queues the ORB consumes
type BrokerChecker struct {
	broker   BrokerProbe
	queues   []string
	maxDepth int
}

// NewBrokerChecker creates a broker check. A queue deeper than maxDepth
// degrades the result; zero disables the depth check.
func NewBrokerChecker(broker BrokerProbe, maxDepth int, queues ...string) *BrokerChecker {
	return &BrokerChecker{broker: broker, queues: queues, maxDepth: maxDepth}
}

// Name implements Checker
func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

// Check implements Checker
func (c *BrokerChecker) Check(ctx context.Context) (result CheckResult) {
	result, start := newResult(c.Name())
	defer func() { result.Duration = time.Since(start) }()

	if !c.broker.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "broker connection is down"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "broker connection is up"
	for _, name := range c.queues {
		queue, err := c.broker.QueueInfo(ctx, name)
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = fmt.Sprintf("queue %s not accessible", name)
			result.Error = err.Error()
			return result
		}
		result.Details[name] = map[string]int{"messages": queue.Messages, "consumers": queue.Consumers}
		if queue.Consumers == 0 || (c.maxDepth > 0 && queue.Messages > c.maxDepth) {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("queue %s is backing up", name)
		}
	}
	return result
}

// AdapterChecker reports the states of an ORB's object adapters. Holding or
// discarding adapters degrade the result, inactive ones fail it.
type AdapterChecker struct {
	orb *orb.ORB
}

// NewAdapterChecker creates an adapter check
func NewAdapterChecker(o *orb.ORB) *AdapterChecker {
	return &AdapterChecker{orb: o}
}

// Name implements Checker
func (c *AdapterChecker) Name() string {
	return "adapters"
}

// Check implements Checker
func (c *AdapterChecker) Check(context.Context) (result CheckResult) {
	result, start := newResult(c.Name())
	defer func() { result.Duration = time.Since(start) }()

	result.Status = StatusHealthy
	for _, adapter := range c.orb.Adapters() {
		name := adapter.AdapterName()
		key := name[len(name)-1]
		state := adapter.State()
		result.Details[key] = state.String()

		switch state {
		case contracts.AdapterActive:
		case contracts.AdapterHolding, contracts.AdapterDiscarding:
			if result.Status == StatusHealthy {
				result.Status = StatusDegraded
				result.Message = fmt.Sprintf("adapter %s is %s", key, state)
			}
		default:
			result.Status = StatusUnhealthy
			result.Message = fmt.Sprintf("adapter %s is %s", key, state)
		}
	}
	return result
}

// BreakerChecker degrades while any endpoint circuit is open
type BreakerChecker struct {
	breakers *reliability.Breakers
}

// NewBreakerChecker creates a circuit breaker check
func NewBreakerChecker(breakers *reliability.Breakers) *BreakerChecker {
	return &BreakerChecker{breakers: breakers}
}

// Name implements Checker
func (c *BreakerChecker) Name() string {
	return "circuit_breakers"
}

// Check implements Checker
func (c *BreakerChecker) Check(context.Context) (result CheckResult) {
	result, start := newResult(c.Name())
	defer func() { result.Duration = time.Since(start) }()

	result.Status = StatusHealthy
	open := 0
	for endpoint, state := range c.breakers.States() {
		result.Details[endpoint] = state.String()
		if state == reliability.StateOpen {
			open++
		}
	}
	if open > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d endpoint circuit(s) open", open)
	}
	return result
}

// RuntimeChecker degrades when the goroutine count passes a threshold
type RuntimeChecker struct {
	maxGoroutines int
}

// NewRuntimeChecker creates a goroutine count check
func NewRuntimeChecker(maxGoroutines int) *RuntimeChecker {
	return &RuntimeChecker{maxGoroutines: maxGoroutines}
}

// Name implements Checker
func (c *RuntimeChecker) Name() string {
	return "runtime"
}

// Check implements Checker
func (c *RuntimeChecker) Check(context.Context) (result CheckResult) {
	result, start := newResult(c.Name())
	defer func() { result.Duration = time.Since(start) }()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	result.Details["goroutines"] = goroutines
	result.Details["heap_alloc_mb"] = m.HeapAlloc / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC

	result.Status = StatusHealthy
	if c.maxGoroutines > 0 && goroutines > c.maxGoroutines {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	}
	return result
}
