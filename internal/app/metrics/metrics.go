package metrics

import (
	"bufio"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Entry attempts by outcome.",
		},
		[]string{"outcome"},
	)

	pool = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "pool",
			Help:      "Stake accumulated by the current round, in base units.",
		},
	)

	draws = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "draws_requested_total",
			Help:      "Rounds closed with a randomness request.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "settlements_total",
			Help:      "Randomness callbacks by settlement outcome.",
		},
		[]string{"outcome"},
	)

	upkeepChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "raffle",
			Name:      "upkeep_checks_total",
			Help:      "Readiness checks by verdict.",
		},
		[]string{"reason"},
	)

	keeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "automation",
			Name:      "keeper_runs_total",
			Help:      "Total number of keeper upkeep runs.",
		},
		[]string{"outcome"},
	)

	keeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "automation",
			Name:      "keeper_run_duration_seconds",
			Help:      "Duration of keeper upkeep runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	fulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "randomness",
			Name:      "fulfillments_total",
			Help:      "Randomness deliveries by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entries,
		pool,
		draws,
		settlements,
		upkeepChecks,
		keeperRuns,
		keeperDuration,
		fulfillments,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntry counts an entry attempt. Outcome is "accepted" or the rejection.
func RecordEntry(outcome string) {
	entries.WithLabelValues(outcome).Inc()
}

// SetPool publishes the current round pool.
func SetPool(amount *big.Int) {
	if amount == nil {
		pool.Set(0)
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	pool.Set(f)
}

// RecordDrawRequested counts a successful close.
func RecordDrawRequested() {
	draws.Inc()
}

// RecordSettlement counts a randomness callback by outcome.
func RecordSettlement(outcome string) {
	settlements.WithLabelValues(outcome).Inc()
}

// RecordUpkeepCheck counts a readiness verdict.
func RecordUpkeepCheck(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	upkeepChecks.WithLabelValues(reason).Inc()
}

// RecordKeeperRun records metrics for a keeper run.
func RecordKeeperRun(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperRuns.WithLabelValues(outcome).Inc()
	keeperDuration.Observe(duration.Seconds())
}

// RecordFulfillment counts a randomness delivery attempt.
func RecordFulfillment(outcome string) {
	fulfillments.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "raffle":
		if len(parts) == 1 {
			return "/raffle"
		}
		if parts[1] == "entries" && len(parts) > 2 {
			return "/raffle/entries/:index"
		}
		return "/raffle/" + parts[1]
	case "oracle":
		if len(parts) < 3 || (parts[1] != "requests" && parts[1] != "subscriptions") {
			return "/oracle"
		}
		path := "/oracle/" + parts[1] + "/:id"
		if len(parts) > 3 {
			path += "/" + parts[3]
		}
		return path
	case "ledger":
		return "/ledger/accounts/:address"
	default:
		return "/" + parts[0]
	}
}
