package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/orb"
	"github.com/glimte/mmate-orb/serialization"
)

var (
	// ErrTransportClosed is returned for requests sent or pending at Close
	ErrTransportClosed = errors.New("rabbitmq transport: closed")

	// ErrNotStarted is returned by Send before Start
	ErrNotStarted = errors.New("rabbitmq transport: not started")

	// ErrReplyTimeout is returned when no reply arrives within the reply timeout
	ErrReplyTimeout = errors.New("rabbitmq transport: reply timeout")
)

// Transport is an orb.Transport sending requests through a broker. Requests are
// routed by the address of their effective profile; replies come back on the
// transport's reply queue and are matched by correlation id.
type Transport struct {
	broker       Broker
	exchange     string
	replyQueue   string
	appID        string
	replyTimeout time.Duration
	codec        serialization.Codec
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *contracts.ReplyMessage
	started bool
	closed  bool
}

// TransportOption configures the transport
type TransportOption func(*Transport)

// WithExchange sets the request exchange
func WithExchange(exchange string) TransportOption {
	return func(t *Transport) {
		t.exchange = exchange
	}
}

// WithReplyTimeout bounds the wait for a reply when the caller has no deadline
func WithReplyTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		t.replyTimeout = timeout
	}
}

// WithAppID sets the application id servers see as the remote address
func WithAppID(id string) TransportOption {
	return func(t *Transport) {
		t.appID = id
	}
}

// WithCodec sets the codec used for exception and forward reply bodies
func WithCodec(codec serialization.Codec) TransportOption {
	return func(t *Transport) {
		t.codec = codec
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport creates a transport receiving replies on replyQueue
func NewTransport(broker Broker, replyQueue string, options ...TransportOption) *Transport {
	t := &Transport{
		broker:       broker,
		exchange:     DefaultExchange,
		replyQueue:   replyQueue,
		replyTimeout: 30 * time.Second,
		codec:        serialization.NewEncapsCodec(),
		logger:       slog.Default(),
		pending:      make(map[string]chan *contracts.ReplyMessage),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Start subscribes to the reply queue
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.started {
		return nil
	}
	if err := t.broker.Subscribe(ctx, t.replyQueue, t.handleReply); err != nil {
		return fmt.Errorf("subscribing to reply queue %s: %w", t.replyQueue, err)
	}
	t.started = true
	return nil
}

// Send implements orb.Transport
func (t *Transport) Send(ctx context.Context, req *orb.Request) (*contracts.ReplyMessage, error) {
	profile := req.Profile()
	if profile == nil {
		return nil, contracts.NewSystemException(contracts.Internal, 0, contracts.CompletedNo)
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, contracts.WrapSystemException(contracts.BadInvOrder, contracts.CompletedNo, ErrTransportClosed)
	}

	msg := encodeRequest(req)
	msg.AppId = t.appID
	msg.Timestamp = time.Now()
	msg.MessageId = uuid.NewString()

	if req.IsOneWay() {
		if err := t.publish(ctx, profile.Address(), msg); err != nil {
			return nil, err
		}
		return nil, nil
	}

	correlationID := uuid.NewString()
	msg.CorrelationId = correlationID
	msg.ReplyTo = t.replyQueue

	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && t.replyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.replyTimeout)
		defer cancel()
	}
	if deadline, ok := waitCtx.Deadline(); ok {
		// requests nobody could answer in time expire in the queue
		if ttl := time.Until(deadline).Milliseconds(); ttl > 0 {
			msg.Expiration = strconv.FormatInt(ttl, 10)
		}
	}

	replies, err := t.register(correlationID)
	if err != nil {
		return nil, err
	}
	defer t.unregister(correlationID)

	if err := t.publish(ctx, profile.Address(), msg); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-replies:
		if !ok {
			return nil, contracts.WrapSystemException(contracts.CommFailure, contracts.CompletedMaybe, ErrTransportClosed)
		}
		return reply, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, contracts.WrapSystemException(contracts.Timeout, contracts.CompletedMaybe, ErrReplyTimeout)
	}
}

func (t *Transport) publish(ctx context.Context, address string, msg amqp.Publishing) error {
	if err := t.broker.Publish(ctx, t.exchange, address, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return contracts.WrapSystemException(contracts.CommFailure, contracts.CompletedNo, err)
	}
	return nil
}

func (t *Transport) register(correlationID string) (chan *contracts.ReplyMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.closed:
		return nil, contracts.WrapSystemException(contracts.BadInvOrder, contracts.CompletedNo, ErrTransportClosed)
	case !t.started:
		return nil, contracts.WrapSystemException(contracts.BadInvOrder, contracts.CompletedNo, ErrNotStarted)
	}
	replies := make(chan *contracts.ReplyMessage, 1)
	t.pending[correlationID] = replies
	return replies, nil
}

func (t *Transport) unregister(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, correlationID)
}

// handleReply hands a reply to the waiting request. Replies nobody waits for
// are dropped.
func (t *Transport) handleReply(_ context.Context, d amqp.Delivery) error {
	t.mu.Lock()
	replies, ok := t.pending[d.CorrelationId]
	delete(t.pending, d.CorrelationId)
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("dropping unmatched reply", "correlationId", d.CorrelationId)
		return nil
	}

	reply, err := decodeReply(t.codec, d)
	if err != nil {
		t.logger.Warn("undecodable reply", "correlationId", d.CorrelationId, "error", err)
		reply = contracts.NewReplyMessage(0, contracts.SystemExceptionReply)
		reply.Exception = contracts.WrapSystemException(contracts.Marshal, contracts.CompletedMaybe, err)
	}
	replies <- reply
	return nil
}

// ReplyQueue returns the queue replies arrive on
func (t *Transport) ReplyQueue() string {
	return t.replyQueue
}

// Pending returns the number of requests waiting for a reply
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close fails pending requests and stops consuming replies
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	for id, replies := range t.pending {
		close(replies)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !started {
		return nil
	}
	if err := t.broker.Unsubscribe(t.replyQueue); err != nil {
		t.logger.Debug("reply queue already unsubscribed", "queue", t.replyQueue, "error", err)
	}
	return nil
}
