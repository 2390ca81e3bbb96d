package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-orb/internal/rabbitmq"
)

// Broker is the messaging surface the transport and server need
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	Subscribe(ctx context.Context, queue string, handler rabbitmq.MessageHandler) error
	Unsubscribe(queue string) error
}

// AMQPBroker is a Broker backed by one managed RabbitMQ connection. It
// re-declares its topology and re-subscribes its queues after a reconnect.
type AMQPBroker struct {
	manager   *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	topology  *rabbitmq.TopologyManager
	logger    *slog.Logger

	// ctx bounds every subscription; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	declared rabbitmq.Topology
	handlers map[string]rabbitmq.MessageHandler
}

// BrokerConfig holds the options of the underlying AMQP components
type BrokerConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PoolOptions       []rabbitmq.ChannelPoolOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
	Logger            *slog.Logger
}

// BrokerOption configures the broker
type BrokerOption func(*BrokerConfig)

// WithConnectionOptions sets connection manager options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPoolOptions sets channel pool options
func WithPoolOptions(opts ...rabbitmq.ChannelPoolOption) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.PoolOptions = append(cfg.PoolOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// WithBrokerLogger sets the logger of the broker and its components
func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(cfg *BrokerConfig) {
		cfg.Logger = logger
	}
}

// Dial connects to RabbitMQ and builds the broker components
func Dial(ctx context.Context, url string, options ...BrokerOption) (*AMQPBroker, error) {
	cfg := &BrokerConfig{Logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(logger)}, cfg.ConnectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	poolOpts := append([]rabbitmq.ChannelPoolOption{rabbitmq.WithChannelLogger(logger)}, cfg.PoolOptions...)
	pool, err := rabbitmq.NewChannelPool(manager, poolOpts...)
	if err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	brokerCtx, cancel := context.WithCancel(context.Background())
	b := &AMQPBroker{
		manager:   manager,
		pool:      pool,
		publisher: rabbitmq.NewPublisher(pool, append([]rabbitmq.PublisherOption{rabbitmq.WithPublisherLogger(logger)}, cfg.PublisherOptions...)...),
		consumer:  rabbitmq.NewConsumer(pool, append([]rabbitmq.ConsumerOption{rabbitmq.WithConsumerLogger(logger)}, cfg.ConsumerOptions...)...),
		topology:  rabbitmq.NewTopologyManager(pool),
		logger:    logger,
		ctx:       brokerCtx,
		cancel:    cancel,
		handlers:  make(map[string]rabbitmq.MessageHandler),
	}
	manager.AddStateListener(b)
	return b, nil
}

// Declare applies a topology and remembers it for reconnects
func (b *AMQPBroker) Declare(ctx context.Context, topology rabbitmq.Topology) error {
	if err := b.topology.DeclareTopology(ctx, topology); err != nil {
		return err
	}
	b.mu.Lock()
	b.declared = b.declared.Merge(topology)
	b.mu.Unlock()
	return nil
}

// Publish implements Broker
func (b *AMQPBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return b.publisher.Publish(ctx, exchange, routingKey, msg)
}

// Subscribe implements Broker. The subscription lasts until Unsubscribe or
// Close; ctx only bounds setting it up.
func (b *AMQPBroker) Subscribe(ctx context.Context, queue string, handler rabbitmq.MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.consumer.Subscribe(b.ctx, queue, handler); err != nil {
		return err
	}
	b.mu.Lock()
	b.handlers[queue] = handler
	b.mu.Unlock()
	return nil
}

// Unsubscribe implements Broker
func (b *AMQPBroker) Unsubscribe(queue string) error {
	b.mu.Lock()
	delete(b.handlers, queue)
	b.mu.Unlock()
	return b.consumer.Unsubscribe(queue)
}

// IsConnected reports whether the broker connection is up
func (b *AMQPBroker) IsConnected() bool {
	return b.manager.IsConnected()
}

// QueueInfo inspects a queue without declaring it
func (b *AMQPBroker) QueueInfo(ctx context.Context, name string) (amqp.Queue, error) {
	return b.topology.QueueInfo(ctx, name)
}

// Close stops consuming and closes the channels and the connection
func (b *AMQPBroker) Close() error {
	b.manager.RemoveStateListener(b)
	b.cancel()
	b.consumer.UnsubscribeAll()

	var errs []error
	if err := b.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OnConnected restores the topology and subscriptions lost with the old connection
func (b *AMQPBroker) OnConnected() {
	if b.ctx.Err() != nil {
		return
	}

	b.mu.Lock()
	topology := b.declared
	handlers := make(map[string]rabbitmq.MessageHandler, len(b.handlers))
	for queue, handler := range b.handlers {
		handlers[queue] = handler
	}
	b.mu.Unlock()

	if err := b.topology.DeclareTopology(b.ctx, topology); err != nil {
		b.logger.Error("failed to restore topology", "error", err)
		return
	}

	for queue, handler := range handlers {
		err := b.consumer.Subscribe(b.ctx, queue, handler)
		if errors.Is(err, rabbitmq.ErrAlreadyConsuming) {
			// the consumer of the dead channel has not wound down yet
			_ = b.consumer.Unsubscribe(queue)
			err = b.consumer.Subscribe(b.ctx, queue, handler)
		}
		if err != nil {
			b.logger.Error("failed to resubscribe", "queue", queue, "error", err)
			continue
		}
		b.logger.Info("resubscribed after reconnect", "queue", queue)
	}
}

// OnDisconnected logs the lost connection
func (b *AMQPBroker) OnDisconnected(err error) {
	b.logger.Warn("broker connection lost", "error", err)
}

// OnReconnecting logs reconnection attempts
func (b *AMQPBroker) OnReconnecting(attempt int) {
	b.logger.Debug("broker reconnecting", "attempt", attempt)
}
