package devicepair

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	callbackCompleted      = "completed"
	callbackRejected       = "rejected"
	callbackExchangeFailed = "exchange_failed"
	callbackExpired        = "expired"
)

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics holds the broker's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	codesIssued    prometheus.Counter
	callbacks      *prometheus.CounterVec
	polls          *prometheus.CounterVec
	entriesSwept   prometheus.Counter
	liveEntries    prometheus.Gauge
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// that are already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicepair",
			Name:      "codes_issued_total",
			Help:      "Number of device codes issued",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicepair",
			Name:      "callbacks_total",
			Help:      "Authorization callbacks by outcome",
		}, []string{"outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicepair",
			Name:      "polls_total",
			Help:      "Token polls by reported status",
		}, []string{"status"}),
		entriesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devicepair",
			Name:      "entries_swept_total",
			Help:      "Number of expired pairing entries evicted",
		}),
		liveEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devicepair",
			Name:      "live_entries",
			Help:      "Pairing entries currently held in memory",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devicepair",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devicepair",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
	}

	var err error
	if m.codesIssued, err = register(reg, m.codesIssued); err != nil {
		return nil, err
	}
	if m.callbacks, err = register(reg, m.callbacks); err != nil {
		return nil, err
	}
	if m.polls, err = register(reg, m.polls); err != nil {
		return nil, err
	}
	if m.entriesSwept, err = register(reg, m.entriesSwept); err != nil {
		return nil, err
	}
	if m.liveEntries, err = register(reg, m.liveEntries); err != nil {
		return nil, err
	}
	if m.requestTotal, err = register(reg, m.requestTotal); err != nil {
		return nil, err
	}
	if m.requestLatency, err = register(reg, m.requestLatency); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) codeIssued() {
	if m == nil {
		return
	}
	m.codesIssued.Inc()
}

func (m *Metrics) callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) poll(state TokenState) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) swept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.entriesSwept.Add(float64(n))
}

func (m *Metrics) setLiveEntries(n int) {
	if m == nil {
		return
	}
	m.liveEntries.Set(float64(n))
}

func (m *Metrics) recordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

// Middleware records request counts and latency per matched route pattern.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.recordRequest(r.Method, route(r), status, time.Since(start))
		})
	}
}
