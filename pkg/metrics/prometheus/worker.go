package prometheus

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/pgweb/pkg/metrics"
)

// WorkerStates are the label values of pgweb_worker_state.
var WorkerStates = []string{"starting", "listening", "draining", "stopped"}

// ActivityStates are the label values of pgweb_backend_activity.
var ActivityStates = []string{"idle", "running"}

// WorkerMetrics is the Prometheus implementation of the worker's connection,
// request and query observers.
//
// A nil *WorkerMetrics records nothing, so it can be handed to the event
// loop, router and executor unconditionally.
type WorkerMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsDropped  *prometheus.CounterVec
	activeConnections   prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram

	state         *prometheus.GaugeVec
	activity      *prometheus.GaugeVec
	activitySince prometheus.Gauge
	counter       prometheus.Gauge

	mu           sync.Mutex
	currentState string
}

// NewWorkerMetrics registers the worker collectors on reg.
//
// Returns nil if metrics are disabled (reg is nil).
func NewWorkerMetrics(reg *metrics.Registry, worker string) *WorkerMetrics {
	if reg == nil {
		return nil
	}

	f := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"worker": worker}, reg.Prometheus()))

	return &WorkerMetrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "pgweb_connections_accepted_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "pgweb_connections_closed_total",
			Help: "Total number of connections closed after a response",
		}),
		connectionsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgweb_connections_dropped_total",
				Help: "Total number of connections closed without a response, by reason",
			},
			[]string{"reason"}, // malformed, line_too_long, peer_closed, read_error, write_error, shutdown
		),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgweb_connections_active",
			Help: "Current number of open client connections",
		}),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgweb_requests_total",
				Help: "Total number of served requests by route and status",
			},
			[]string{"route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pgweb_request_duration_milliseconds",
				Help: "Duration of request handling in milliseconds",
				Buckets: []float64{
					0.05, // 50us - static routes
					0.1,
					0.5,
					1,
					5, // 5ms - local database round trip
					10,
					50,
					100,
					500,
					1000,
				},
			},
			[]string{"route"},
		),
		queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgweb_queries_total",
				Help: "Total number of executed statements by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
		queryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgweb_query_duration_milliseconds",
			Help:    "Duration of one statement including its transaction, in milliseconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		state: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pgweb_worker_state",
				Help: "1 for the current lifecycle state of the worker, 0 otherwise",
			},
			[]string{"state"},
		),
		activity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pgweb_backend_activity",
				Help: "1 for the current activity state of the database session, 0 otherwise",
			},
			[]string{"state"},
		),
		activitySince: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgweb_backend_state_change_timestamp_seconds",
			Help: "Unix time of the last activity state change",
		}),
		counter: f.NewGauge(prometheus.GaugeOpts{
			Name: "pgweb_count_value",
			Help: "Last value served by /count",
		}),
	}
}

func (m *WorkerMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

func (m *WorkerMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *WorkerMetrics) RecordConnectionDropped(reason string) {
	if m == nil {
		return
	}
	m.connectionsDropped.WithLabelValues(reason).Inc()
}

func (m *WorkerMetrics) SetActiveConnections(count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *WorkerMetrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(float64(d) / float64(time.Millisecond))
}

func (m *WorkerMetrics) ObserveQuery(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(float64(d) / float64(time.Millisecond))
}

// SetWorkerState marks state as the current lifecycle state.
func (m *WorkerMetrics) SetWorkerState(state string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range WorkerStates {
		m.state.WithLabelValues(s).Set(0)
	}
	m.state.WithLabelValues(state).Set(1)
	m.currentState = state
}

// WorkerState returns the last state passed to SetWorkerState.
func (m *WorkerMetrics) WorkerState() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentState
}

// SetActivity records the session activity state and when it last changed.
func (m *WorkerMetrics) SetActivity(state string, since time.Time) {
	if m == nil {
		return
	}
	for _, s := range ActivityStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.activity.WithLabelValues(s).Set(v)
	}
	if !since.IsZero() {
		m.activitySince.Set(float64(since.UnixNano()) / 1e9)
	}
}

// SetCounterValue records the current /count value.
func (m *WorkerMetrics) SetCounterValue(n int64) {
	if m == nil {
		return
	}
	m.counter.Set(float64(n))
}
