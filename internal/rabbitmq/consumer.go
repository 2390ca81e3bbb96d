package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one delivery
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// AcknowledgmentStrategy defines how deliveries are acknowledged
type AcknowledgmentStrategy int

const (
	// AckOnSuccess acks handled deliveries and requeues failed ones
	AckOnSuccess AcknowledgmentStrategy = iota
	// AckAlways acks regardless of the handler result
	AckAlways
	// AckAuto lets the broker consider deliveries acked on send
	AckAuto
)

// Consumer runs handlers for the deliveries of subscribed queues
type Consumer struct {
	pool           *ChannelPool
	prefetchCount  int
	strategy       AcknowledgmentStrategy
	exclusive      bool
	concurrency    int
	handlerTimeout time.Duration
	logger         *slog.Logger

	mu     sync.Mutex
	active map[string]*subscription
}

type subscription struct {
	queue   string
	tag     string
	channel *PooledChannel
	cancel  context.CancelFunc
	done    chan struct{}
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the prefetch count
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithAckStrategy sets how deliveries are acknowledged
func WithAckStrategy(strategy AcknowledgmentStrategy) ConsumerOption {
	return func(c *Consumer) {
		c.strategy = strategy
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConcurrency sets how many deliveries of one queue are handled at once
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithHandlerTimeout bounds a single handler call
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer creates a new consumer
func NewConsumer(pool *ChannelPool, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:           pool,
		prefetchCount:  10,
		strategy:       AckOnSuccess,
		concurrency:    1,
		handlerTimeout: 30 * time.Second,
		logger:         slog.Default(),
		active:         make(map[string]*subscription),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming queue. The subscription ends on Unsubscribe, when
// ctx is done or when the broker cancels the consumer.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	c.mu.Lock()
	_, exists := c.active[queue]
	c.mu.Unlock()
	if exists {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: ErrAlreadyConsuming, Timestamp: time.Now()}
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return &ConsumerError{Queue: queue, Op: "subscribe", Err: err, Timestamp: time.Now()}
	}

	prefetch := c.prefetchCount
	if prefetch < c.concurrency {
		prefetch = c.concurrency
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: ch.id, Op: "set qos", Err: err, Timestamp: time.Now()}
	}

	deliveries, err := ch.Consume(queue, ch.id, c.strategy == AckAuto, c.exclusive, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return &ConsumerError{Queue: queue, ConsumerTag: ch.id, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		queue:   queue,
		tag:     ch.id,
		channel: ch,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.active[queue] = sub
	c.mu.Unlock()

	go c.run(subCtx, sub, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", sub.tag,
		"prefetchCount", prefetch,
		"concurrency", c.concurrency,
	)
	return nil
}

// run feeds deliveries to the handler workers until the subscription ends
func (c *Consumer) run(ctx context.Context, sub *subscription, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		if ctx.Err() != nil {
			// stop the broker side before the channel goes back to the pool
			if err := sub.channel.Cancel(sub.tag, false); err != nil {
				c.logger.Debug("consumer cancel failed", "queue", sub.queue, "error", err)
			}
		}
		c.pool.Put(sub.channel)

		c.mu.Lock()
		if c.active[sub.queue] == sub {
			delete(c.active, sub.queue)
		}
		c.mu.Unlock()

		close(sub.done)
		c.logger.Info("consumer stopped", "queue", sub.queue)
	}()

	slots := make(chan struct{}, c.concurrency)
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", sub.queue)
				return
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				if c.strategy != AckAuto {
					_ = delivery.Nack(false, true)
				}
				return
			}
			wg.Add(1)
			go func() {
				defer func() {
					<-slots
					wg.Done()
				}()
				if err := c.handle(ctx, delivery, handler); err != nil {
					c.logger.Error("failed to handle message",
						"error", err,
						"queue", sub.queue,
						"messageId", delivery.MessageId,
					)
				}
			}()
		}
	}
}

// handle runs the handler and acknowledges by strategy
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) (err error) {
	msgCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.acknowledge(delivery, err)
	}()
	return handler(msgCtx, delivery)
}

func (c *Consumer) acknowledge(delivery amqp.Delivery, handlerErr error) {
	var err error
	switch c.strategy {
	case AckAuto:
		return
	case AckAlways:
		err = delivery.Ack(false)
	default:
		if handlerErr != nil {
			err = delivery.Nack(false, !delivery.Redelivered)
		} else {
			err = delivery.Ack(false)
		}
	}
	if err != nil {
		c.logger.Error("failed to acknowledge message", "error", err, "handlerError", handlerErr)
	}
}

// Unsubscribe stops consuming queue and waits for running handlers
func (c *Consumer) Unsubscribe(queue string) error {
	c.mu.Lock()
	sub, ok := c.active[queue]
	c.mu.Unlock()
	if !ok {
		return &ConsumerError{Queue: queue, Op: "unsubscribe", Err: ErrConsumerNotFound, Timestamp: time.Now()}
	}

	sub.cancel()
	<-sub.done
	return nil
}

// UnsubscribeAll stops every subscription
func (c *Consumer) UnsubscribeAll() {
	var wg sync.WaitGroup
	for _, queue := range c.ActiveQueues() {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Debug("unsubscribe skipped", "queue", queue, "error", err)
			}
		}(queue)
	}
	wg.Wait()
}

// ActiveQueues returns the queues being consumed
func (c *Consumer) ActiveQueues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	queues := make([]string, 0, len(c.active))
	for queue := range c.active {
		queues = append(queues, queue)
	}
	return queues
}
