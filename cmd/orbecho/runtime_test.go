package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-orb/health"
	"github.com/glimte/mmate-orb/interceptors"
	"github.com/glimte/mmate-orb/monitor"
)

func TestLoopbackEcho(t *testing.T) {
	t.Setenv("ORB_LOG__LEVEL", "error")
	t.Setenv("ORB_INTERCEPTORS__TRACING", "true")

	rt, err := newRuntime(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	defer rt.close()
	assert.Nil(t, rt.client)
	assert.NotNil(t, rt.tracer)

	for i := 0; i < 2; i++ {
		out, err := rt.call(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	}

	summary := rt.stats.GetMetricsSummary()
	assert.Equal(t, int64(2), summary.RequestCounts[monitor.OperationKey{Side: interceptors.SideClient, Operation: "echo"}])
	assert.Equal(t, int64(2), summary.RequestCounts[monitor.OperationKey{Side: interceptors.SideServer, Operation: "echo"}])

	report := rt.health.Check(context.Background())
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 3)

	var buf bytes.Buffer
	printSummary(&buf, summary)
	assert.Contains(t, buf.String(), "client/echo")
	assert.Contains(t, buf.String(), "requests=2")
}

func TestServeNeedsBroker(t *testing.T) {
	t.Setenv("ORB_LOG__LEVEL", "error")

	rt, err := newRuntime(context.Background(), "")
	require.NoError(t, err)
	defer rt.close()

	assert.EqualError(t, rt.serve(context.Background()), "serve needs amqp.enabled")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("ORB_LOG__LEVEL", "loud")

	_, err := newRuntime(context.Background(), "")
	assert.ErrorContains(t, err, "invalid config")
}
