package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-orb/internal/reliability"
	"github.com/glimte/mmate-orb/orb"
)

type mockProbe struct {
	mock.Mock
}

func (m *mockProbe) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *mockProbe) QueueInfo(ctx context.Context, name string) (amqp.Queue, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(amqp.Queue), args.Error(1)
}

type fixedChecker struct {
	name   string
	status Status
}

func (c fixedChecker) Name() string { return c.name }

func (c fixedChecker) Check(context.Context) CheckResult {
	return CheckResult{Name: c.name, Status: c.status}
}

func TestRegistry(t *testing.T) {
	t.Run("report takes the worst status", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(fixedChecker{"a", StatusHealthy}))
		require.NoError(t, r.Register(fixedChecker{"b", StatusDegraded}))

		report := r.Check(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
		assert.Len(t, report.Checks, 2)

		require.NoError(t, r.Register(fixedChecker{"c", StatusUnhealthy}))
		assert.Equal(t, StatusUnhealthy, r.Check(context.Background()).Status)
	})

	t.Run("names are unique", func(t *testing.T) {
		r := NewRegistry(0)
		require.NoError(t, r.Register(fixedChecker{"a", StatusHealthy}))
		assert.Error(t, r.Register(fixedChecker{"a", StatusHealthy}))
	})

	t.Run("empty registry is healthy", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewRegistry(0).Check(context.Background()).Status)
	})
}

func TestHandler(t *testing.T) {
	r := NewRegistry(time.Second)
	require.NoError(t, r.Register(fixedChecker{"a", StatusHealthy}))

	rec := httptest.NewRecorder()
	Handler(r).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusHealthy, report.Status)

	require.NoError(t, r.Register(fixedChecker{"b", StatusUnhealthy}))
	rec = httptest.NewRecorder()
	Handler(r).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBrokerChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("disconnected", func(t *testing.T) {
		probe := &mockProbe{}
		probe.On("IsConnected").Return(false)

		result := NewBrokerChecker(probe, 0, "orb.requests.a").Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
		probe.AssertNotCalled(t, "QueueInfo", mock.Anything, mock.Anything)
	})

	t.Run("queues consumed", func(t *testing.T) {
		probe := &mockProbe{}
		probe.On("IsConnected").Return(true)
		probe.On("QueueInfo", ctx, "orb.requests.a").Return(amqp.Queue{Name: "orb.requests.a", Messages: 3, Consumers: 1}, nil)

		result := NewBrokerChecker(probe, 100, "orb.requests.a").Check(ctx)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, map[string]int{"messages": 3, "consumers": 1}, result.Details["orb.requests.a"])
		assert.Equal(t, "rabbitmq", result.Name)
		probe.AssertExpectations(t)
	})

	t.Run("deep queue degrades", func(t *testing.T) {
		probe := &mockProbe{}
		probe.On("IsConnected").Return(true)
		probe.On("QueueInfo", ctx, "q").Return(amqp.Queue{Name: "q", Messages: 500, Consumers: 1}, nil)

		result := NewBrokerChecker(probe, 100, "q").Check(ctx)
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("queue without consumers degrades", func(t *testing.T) {
		probe := &mockProbe{}
		probe.On("IsConnected").Return(true)
		probe.On("QueueInfo", ctx, "q").Return(amqp.Queue{Name: "q"}, nil)

		assert.Equal(t, StatusDegraded, NewBrokerChecker(probe, 0, "q").Check(ctx).Status)
	})

	t.Run("missing queue", func(t *testing.T) {
		probe := &mockProbe{}
		probe.On("IsConnected").Return(true)
		probe.On("QueueInfo", ctx, "q").Return(amqp.Queue{}, errors.New("NOT_FOUND"))

		result := NewBrokerChecker(probe, 0, "q").Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "NOT_FOUND", result.Error)
	})
}

func TestAdapterChecker(t *testing.T) {
	ctx := context.Background()
	o, err := orb.New(orb.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer o.Shutdown(ctx)

	checker := NewAdapterChecker(o)
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	adapter, err := o.CreateAdapter(ctx, "echo", nil)
	require.NoError(t, err)
	result := checker.Check(ctx)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "holding", result.Details["echo"])

	require.NoError(t, adapter.Manager().Activate(ctx))
	assert.Equal(t, StatusHealthy, checker.Check(ctx).Status)

	require.NoError(t, adapter.Manager().Deactivate(ctx))
	assert.Equal(t, StatusUnhealthy, checker.Check(ctx).Status)
}

func TestBreakerChecker(t *testing.T) {
	breakers := reliability.NewBreakers(reliability.WithFailureThreshold(1), reliability.WithTimeout(time.Hour))
	checker := NewBreakerChecker(breakers)
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	breakers.For("host-a:2809").Record(nil)
	breakers.For("host-b:2809").Record(errors.New("COMM_FAILURE"))

	result := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "open", result.Details["host-b:2809"])
	assert.Equal(t, "closed", result.Details["host-a:2809"])
}

func TestRuntimeChecker(t *testing.T) {
	result := NewRuntimeChecker(1).Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Details, "goroutines")

	assert.Equal(t, StatusHealthy, NewRuntimeChecker(0).Check(context.Background()).Status)
}
