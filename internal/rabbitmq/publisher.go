package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-orb/internal/reliability"
)

// Publisher publishes messages through a channel pool, waiting for broker
// confirmation when confirm mode is on
type Publisher struct {
	pool           *ChannelPool
	confirm        bool
	confirmTimeout time.Duration
	publishTimeout time.Duration
	retry          reliability.RetryPolicy
	logger         *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for the broker confirmation
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout bounds publishes whose context has no deadline
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithPublishRetries sets the maximum number of publish retries
func WithPublishRetries(retries int) PublisherOption {
	return func(p *Publisher) {
		p.retry = reliability.NewFixedDelay(200*time.Millisecond, retries)
	}
}

// WithConfirmMode enables or disables publisher confirms
func WithConfirmMode(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.confirm = enabled
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a new publisher
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirm:        true,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		retry:          reliability.NewFixedDelay(200*time.Millisecond, 3),
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends msg, re-trying channel and connection failures
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	return reliability.Retry(ctx, "publish", p.retry, func(attempt int) error {
		err := p.publishOnce(ctx, exchange, routingKey, msg)
		if err != nil {
			p.logger.Debug("publish attempt failed",
				"exchange", exchange,
				"routingKey", routingKey,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	})
}

func (p *Publisher) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	fail := func(err error) error {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	ch, err := p.pool.Get(ctx)
	if err != nil {
		return fail(err)
	}
	defer p.pool.Put(ch)

	if !p.confirm {
		if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
			return fail(err)
		}
		return nil
	}

	if err := ch.Confirm(false); err != nil {
		return fail(err)
	}
	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return fail(err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	acked, err := confirmation.WaitContext(confirmCtx)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return fail(ErrPublishTimeout)
	case !acked:
		return fail(ErrPublishNotConfirmed)
	}
	return nil
}
