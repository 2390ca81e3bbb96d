package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockAcknowledger records how deliveries are settled
type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	return args.Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	return args.Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	return args.Error(0)
}

func delivery(ack amqp.Acknowledger, redelivered bool) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  7,
		Redelivered:  redelivered,
		MessageId:    "msg-1",
	}
}

func TestConsumer(t *testing.T) {
	t.Run("NewConsumer creates with defaults", func(t *testing.T) {
		pool := &ChannelPool{}
		consumer := NewConsumer(pool)

		assert.Equal(t, pool, consumer.pool)
		assert.Equal(t, 10, consumer.prefetchCount)
		assert.Equal(t, AckOnSuccess, consumer.strategy)
		assert.Equal(t, 1, consumer.concurrency)
		assert.Equal(t, 30*time.Second, consumer.handlerTimeout)
		assert.False(t, consumer.exclusive)
		assert.NotNil(t, consumer.logger)
	})

	t.Run("NewConsumer applies options", func(t *testing.T) {
		logger := slog.Default()

		consumer := NewConsumer(
			&ChannelPool{},
			WithPrefetchCount(20),
			WithAckStrategy(AckAuto),
			WithExclusive(true),
			WithConcurrency(4),
			WithHandlerTimeout(time.Second),
			WithConsumerLogger(logger),
		)

		assert.Equal(t, 20, consumer.prefetchCount)
		assert.Equal(t, AckAuto, consumer.strategy)
		assert.True(t, consumer.exclusive)
		assert.Equal(t, 4, consumer.concurrency)
		assert.Equal(t, time.Second, consumer.handlerTimeout)
		assert.Equal(t, logger, consumer.logger)
	})

	t.Run("WithConcurrency ignores non-positive values", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{}, WithConcurrency(0))
		assert.Equal(t, 1, consumer.concurrency)
	})

	t.Run("ActiveQueues is empty initially", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{})
		assert.Empty(t, consumer.ActiveQueues())
	})

	t.Run("Unsubscribe returns error for non-existent queue", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{})
		err := consumer.Unsubscribe("non-existent")
		assert.ErrorIs(t, err, ErrConsumerNotFound)
	})

	t.Run("Subscribe on closed pool fails", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{closed: true})

		err := consumer.Subscribe(context.Background(), "orb.requests", func(context.Context, amqp.Delivery) error {
			return nil
		})

		var consumerErr *ConsumerError
		require.ErrorAs(t, err, &consumerErr)
		assert.Equal(t, "subscribe", consumerErr.Op)
		assert.ErrorIs(t, err, ErrChannelPoolClosed)
		assert.Empty(t, consumer.ActiveQueues())
	})

	t.Run("Subscribe twice to one queue fails", func(t *testing.T) {
		consumer := NewConsumer(&ChannelPool{})
		consumer.active["orb.replies"] = &subscription{queue: "orb.replies", done: make(chan struct{})}

		err := consumer.Subscribe(context.Background(), "orb.replies", func(context.Context, amqp.Delivery) error {
			return nil
		})
		assert.ErrorIs(t, err, ErrAlreadyConsuming)
		assert.Equal(t, []string{"orb.replies"}, consumer.ActiveQueues())
	})
}

func TestConsumerAcknowledgement(t *testing.T) {
	handlerErr := errors.New("handler failed")

	t.Run("AckOnSuccess acks handled deliveries", func(t *testing.T) {
		ack := &mockAcknowledger{}
		ack.On("Ack", uint64(7), false).Return(nil)
		consumer := NewConsumer(&ChannelPool{})

		err := consumer.handle(context.Background(), delivery(ack, false), func(context.Context, amqp.Delivery) error {
			return nil
		})
		assert.NoError(t, err)
		ack.AssertExpectations(t)
	})

	t.Run("AckOnSuccess requeues a first failure", func(t *testing.T) {
		ack := &mockAcknowledger{}
		ack.On("Nack", uint64(7), false, true).Return(nil)
		consumer := NewConsumer(&ChannelPool{})

		err := consumer.handle(context.Background(), delivery(ack, false), func(context.Context, amqp.Delivery) error {
			return handlerErr
		})
		assert.Equal(t, handlerErr, err)
		ack.AssertExpectations(t)
	})

	t.Run("AckOnSuccess drops a redelivered failure", func(t *testing.T) {
		ack := &mockAcknowledger{}
		ack.On("Nack", uint64(7), false, false).Return(nil)
		consumer := NewConsumer(&ChannelPool{})

		err := consumer.handle(context.Background(), delivery(ack, true), func(context.Context, amqp.Delivery) error {
			return handlerErr
		})
		assert.Error(t, err)
		ack.AssertExpectations(t)
	})

	t.Run("panicking handler is nacked", func(t *testing.T) {
		ack := &mockAcknowledger{}
		ack.On("Nack", uint64(7), false, true).Return(nil)
		consumer := NewConsumer(&ChannelPool{})

		err := consumer.handle(context.Background(), delivery(ack, false), func(context.Context, amqp.Delivery) error {
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		ack.AssertExpectations(t)
	})

	t.Run("AckAlways acks failures", func(t *testing.T) {
		ack := &mockAcknowledger{}
		ack.On("Ack", uint64(7), false).Return(nil)
		consumer := NewConsumer(&ChannelPool{}, WithAckStrategy(AckAlways))

		err := consumer.handle(context.Background(), delivery(ack, false), func(context.Context, amqp.Delivery) error {
			return handlerErr
		})
		assert.Error(t, err)
		ack.AssertExpectations(t)
	})

	t.Run("AckAuto never settles", func(t *testing.T) {
		ack := &mockAcknowledger{}
		consumer := NewConsumer(&ChannelPool{}, WithAckStrategy(AckAuto))

		_ = consumer.handle(context.Background(), delivery(ack, false), func(context.Context, amqp.Delivery) error {
			return handlerErr
		})
		ack.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
		ack.AssertNotCalled(t, "Nack", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("handler context carries the handler timeout", func(t *testing.T) {
		ack := &mockAcknowledger{}
		ack.On("Ack", uint64(7), false).Return(nil)
		consumer := NewConsumer(&ChannelPool{}, WithHandlerTimeout(time.Minute))

		var deadline time.Time
		err := consumer.handle(context.Background(), delivery(ack, false), func(ctx context.Context, _ amqp.Delivery) error {
			deadline, _ = ctx.Deadline()
			return nil
		})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	})
}

func TestAcknowledgmentStrategy(t *testing.T) {
	t.Run("strategy constants", func(t *testing.T) {
		assert.Equal(t, AcknowledgmentStrategy(0), AckOnSuccess)
		assert.Equal(t, AcknowledgmentStrategy(1), AckAlways)
		assert.Equal(t, AcknowledgmentStrategy(2), AckAuto)
	})
}
