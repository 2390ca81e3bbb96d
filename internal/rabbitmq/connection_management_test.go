package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockConnectionStateListener tracks connection state changes
type MockConnectionStateListener struct {
	mu                   sync.Mutex
	connectedCount       int
	disconnectedCount    int
	reconnectingCount    int
	lastDisconnectError  error
	lastReconnectAttempt int
}

func (m *MockConnectionStateListener) OnConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectedCount++
}

func (m *MockConnectionStateListener) OnDisconnected(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectedCount++
	m.lastDisconnectError = err
}

func (m *MockConnectionStateListener) OnReconnecting(attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectingCount++
	if attempt > m.lastReconnectAttempt {
		m.lastReconnectAttempt = attempt
	}
}

func (m *MockConnectionStateListener) GetStats() (connected, disconnected, reconnecting int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedCount, m.disconnectedCount, m.reconnectingCount
}

func (m *MockConnectionStateListener) LastDisconnectError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDisconnectError
}

func TestConnectionManagerStateListeners(t *testing.T) {
	t.Run("AddStateListener adds listener", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672")
		listener := &MockConnectionStateListener{}

		cm.AddStateListener(listener)

		assert.Len(t, cm.listeners(), 1)
	})

	t.Run("RemoveStateListener removes listener", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672")
		listener1 := &MockConnectionStateListener{}
		listener2 := &MockConnectionStateListener{}

		cm.AddStateListener(listener1)
		cm.AddStateListener(listener2)

		cm.RemoveStateListener(listener1)

		listeners := cm.listeners()
		require.Len(t, listeners, 1)
		assert.Equal(t, listener2, listeners[0])
	})

	t.Run("notifyConnected calls all listeners", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672")
		listener1 := &MockConnectionStateListener{}
		listener2 := &MockConnectionStateListener{}

		cm.AddStateListener(listener1)
		cm.AddStateListener(listener2)

		cm.notifyConnected()

		assert.Eventually(t, func() bool {
			connected1, _, _ := listener1.GetStats()
			connected2, _, _ := listener2.GetStats()
			return connected1 == 1 && connected2 == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func TestConnectionManagerReconnectLogic(t *testing.T) {
	t.Run("WithMaxRetries limits reconnection attempts", func(t *testing.T) {
		cm := NewConnectionManager("amqp://invalid:5672",
			WithReconnectDelay(time.Millisecond),
			WithMaxRetries(3),
			WithDialer(failingDialer(errors.New("connection refused"))))

		listener := &MockConnectionStateListener{}
		cm.AddStateListener(listener)

		done := make(chan struct{})
		finished := make(chan struct{})
		go func() {
			cm.reconnect(done)
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("reconnection did not complete in time")
		}

		assert.Eventually(t, func() bool {
			_, disconnected, reconnecting := listener.GetStats()
			return reconnecting == 3 && disconnected == 1
		}, time.Second, 5*time.Millisecond)

		var connErr *ConnectionError
		require.ErrorAs(t, listener.LastDisconnectError(), &connErr)
		assert.Equal(t, 3, connErr.Attempts)
		assert.ErrorIs(t, connErr, ErrMaxRetriesExceeded)
		assert.False(t, cm.IsConnected())
	})

	t.Run("closing stops reconnection", func(t *testing.T) {
		cm := NewConnectionManager("amqp://invalid:5672",
			WithReconnectDelay(20*time.Millisecond),
			WithDialer(failingDialer(errors.New("connection refused"))))

		listener := &MockConnectionStateListener{}
		cm.AddStateListener(listener)

		done := make(chan struct{})
		finished := make(chan struct{})
		go func() {
			cm.reconnect(done)
			close(finished)
		}()

		time.Sleep(50 * time.Millisecond)
		close(done)

		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("reconnection kept running after close")
		}
		_, disconnected, reconnecting := listener.GetStats()
		assert.Positive(t, reconnecting)
		assert.Zero(t, disconnected)
	})
}

func TestConnectionManagerConcurrency(t *testing.T) {
	t.Run("Concurrent GetConnection calls", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672")

		// connected flag without a connection
		cm.mu.Lock()
		cm.isConnected = true
		cm.mu.Unlock()

		var wg sync.WaitGroup
		errs := make([]error, 100)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				_, errs[idx] = cm.GetConnection()
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.ErrorIs(t, err, ErrConnectionNotReady)
		}
	})

	t.Run("Concurrent state changes", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672")
		listener := &MockConnectionStateListener{}
		cm.AddStateListener(listener)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cm.notifyConnected()
				cm.notifyDisconnected(errors.New("test error"))
				cm.notifyReconnecting(1)
			}()
		}
		wg.Wait()

		assert.Eventually(t, func() bool {
			connected, disconnected, reconnecting := listener.GetStats()
			return connected == 10 && disconnected == 10 && reconnecting == 10
		}, time.Second, 5*time.Millisecond)
	})
}

func TestConnectionManagerGracefulShutdown(t *testing.T) {
	t.Run("Close before Connect is a no-op", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672")

		assert.NoError(t, cm.Close())
		assert.NoError(t, cm.Close())
	})

	t.Run("failed Connect leaves nothing to close", func(t *testing.T) {
		cm := NewConnectionManager("amqp://localhost:5672",
			WithDialer(failingDialer(errors.New("connection refused"))))

		require.Error(t, cm.Connect(context.Background()))
		assert.NoError(t, cm.Close())
		assert.False(t, cm.IsConnected())
	})
}
