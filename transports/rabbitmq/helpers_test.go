package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-orb/contracts"
	"github.com/glimte/mmate-orb/internal/rabbitmq"
	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/glimte/mmate-orb/orb"
)

const echoID = "IDL:test/Echo:1.0"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

// memBroker routes publishings to subscribed handlers like a direct exchange
// plus the default exchange
type memBroker struct {
	mu        sync.Mutex
	bindings  map[string]string
	handlers  map[string]rabbitmq.MessageHandler
	published []published
	failWith  error
	wg        sync.WaitGroup
}

func newMemBroker() *memBroker {
	return &memBroker{
		bindings: make(map[string]string),
		handlers: make(map[string]rabbitmq.MessageHandler),
	}
}

func (b *memBroker) bind(exchange, routingKey, queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[exchange+"/"+routingKey] = queue
}

func (b *memBroker) Publish(_ context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	if b.failWith != nil {
		b.mu.Unlock()
		return b.failWith
	}
	b.published = append(b.published, published{exchange, routingKey, msg})
	queue := routingKey
	if exchange != "" {
		queue = b.bindings[exchange+"/"+routingKey]
	}
	handler, ok := b.handlers[queue]
	b.mu.Unlock()
	if !ok {
		// unroutable messages are dropped
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = handler(context.Background(), amqp.Delivery{
			Headers:       msg.Headers,
			ContentType:   msg.ContentType,
			CorrelationId: msg.CorrelationId,
			ReplyTo:       msg.ReplyTo,
			Expiration:    msg.Expiration,
			MessageId:     msg.MessageId,
			Type:          msg.Type,
			AppId:         msg.AppId,
			Body:          msg.Body,
		})
	}()
	return nil
}

func (b *memBroker) Subscribe(_ context.Context, queue string, handler rabbitmq.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[queue]; ok {
		return rabbitmq.ErrAlreadyConsuming
	}
	b.handlers[queue] = handler
	return nil
}

func (b *memBroker) Unsubscribe(queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[queue]; !ok {
		return rabbitmq.ErrConsumerNotFound
	}
	delete(b.handlers, queue)
	return nil
}

func (b *memBroker) subscribed(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[queue]
	return ok
}

func (b *memBroker) sent(routingKey string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []published
	for _, p := range b.published {
		if p.routingKey == routingKey {
			result = append(result, p)
		}
	}
	return result
}

func newORB(t *testing.T, opts ...orb.Option) *orb.ORB {
	t.Helper()
	defaults := []orb.Option{
		orb.WithLogger(discardLogger()),
		orb.WithRetryPolicy(reliability.NewFixedDelay(0, 3)),
	}
	o, err := orb.New(append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o
}

// serve starts a server ORB at host:2809 on the broker and activates servant
func serve(t *testing.T, broker *memBroker, host string, servant func(o *orb.ORB) contracts.Servant, opts ...orb.Option) (*orb.ORB, *contracts.IOR) {
	t.Helper()
	ctx := context.Background()

	o := newORB(t, append([]orb.Option{orb.WithEndpoint(host, 2809)}, opts...)...)
	adapter, err := o.CreateAdapter(ctx, "echo", nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Manager().Activate(ctx))
	ref, err := adapter.Activate(servant(o))
	require.NoError(t, err)

	server := NewServer(o, broker, WithServerLogger(discardLogger()))
	broker.bind(DefaultExchange, o.Address(), server.Queue())
	require.NoError(t, server.Start(ctx))
	return o, ref
}

func echo(prefix string) func(o *orb.ORB) contracts.Servant {
	return func(o *orb.ORB) contracts.Servant {
		s := o.NewSkeleton(echoID)
		orb.HandleFunc(s, "echo", func(_ context.Context, in string) (string, error) {
			return prefix + in, nil
		})
		return s
	}
}

// client creates a started transport and an ORB sending through it
func client(t *testing.T, broker Broker, opts ...TransportOption) (*orb.ORB, *Transport) {
	t.Helper()
	transport := NewTransport(broker, ReplyQueue(DefaultReplyPrefix, "client"),
		append([]TransportOption{WithLogger(discardLogger())}, opts...)...)
	require.NoError(t, transport.Start(context.Background()))
	o := newORB(t, orb.WithEndpoint("client", 2809), orb.WithTransport(transport))
	return o, transport
}
