package prometheus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pgweb/pkg/config"
	"github.com/marmos91/pgweb/pkg/eventloop"
	"github.com/marmos91/pgweb/pkg/metrics"
	"github.com/marmos91/pgweb/pkg/query"
	"github.com/marmos91/pgweb/pkg/router"
)

var (
	_ eventloop.MetricsRecorder = (*WorkerMetrics)(nil)
	_ router.RequestObserver    = (*WorkerMetrics)(nil)
	_ query.QueryObserver       = (*WorkerMetrics)(nil)
)

func newTestMetrics(t *testing.T) (*WorkerMetrics, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry(config.MetricsConfig{
		Enabled:  true,
		Textfile: filepath.Join(t.TempDir(), "pgweb.prom"),
		Interval: time.Second,
	}, 1)
	require.NotNil(t, reg)
	m := NewWorkerMetrics(reg, "pg_web")
	require.NotNil(t, m)
	return m, reg
}

func TestNewWorkerMetrics_Disabled(t *testing.T) {
	m := NewWorkerMetrics(nil, "pg_web")
	assert.Nil(t, m)

	// Every method is safe on nil.
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionDropped("malformed")
	m.SetActiveConnections(3)
	m.ObserveRequest("/", 200, time.Millisecond)
	m.ObserveQuery(time.Millisecond, nil)
	m.SetWorkerState("listening")
	m.SetActivity("idle", time.Now())
	m.SetCounterValue(1)
	assert.Empty(t, m.WorkerState())
}

func TestWorkerMetrics_Connections(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionDropped("malformed")
	m.RecordConnectionDropped("malformed")
	m.RecordConnectionDropped("shutdown")
	m.SetActiveConnections(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsDropped.WithLabelValues("shutdown")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeConnections))
}

func TestWorkerMetrics_RequestsAndQueries(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveRequest("/count", 200, 2*time.Millisecond)
	m.ObserveRequest("/count", 200, time.Millisecond)
	m.ObserveRequest("default", 200, time.Millisecond)
	m.ObserveQuery(3*time.Millisecond, nil)
	m.ObserveQuery(time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/count", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("default", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

func TestWorkerMetrics_StateIsExclusive(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetWorkerState("starting")
	m.SetWorkerState("listening")

	assert.Equal(t, "listening", m.WorkerState())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("listening")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("draining")))
}

func TestWorkerMetrics_Activity(t *testing.T) {
	m, _ := newTestMetrics(t)
	since := time.Unix(1_790_000_000, 0)

	m.SetActivity("running", since)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activity.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activity.WithLabelValues("idle")))
	assert.Equal(t, 1_790_000_000.0, testutil.ToFloat64(m.activitySince))

	m.SetActivity("idle", time.Time{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activity.WithLabelValues("idle")))
	assert.Equal(t, 1_790_000_000.0, testutil.ToFloat64(m.activitySince), "zero time leaves the timestamp")
}

func TestWorkerMetrics_Textfile(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.SetCounterValue(3)
	m.SetWorkerState("listening")
	require.NoError(t, reg.Flush())

	data, err := os.ReadFile(reg.Path())
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `pgweb_count_value{worker="pg_web"} 3`)
	assert.Contains(t, out, `pgweb_worker_state{state="listening",worker="pg_web"} 1`)
}
