// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsReceived     *prometheus.CounterVec // labels: source, kind
	EventsDuplicate    prometheus.Counter
	EventsRejected     *prometheus.CounterVec // labels: reason
	CommandsDispatched *prometheus.CounterVec // labels: rule
	OutboundCalls      *prometheus.CounterVec // labels: endpoint, outcome
	SourceFetches      *prometheus.CounterVec // labels: source, outcome
	PersistenceErrors  *prometheus.CounterVec // labels: op
	JobRuns            *prometheus.CounterVec // labels: job, outcome

	// Histograms (seconds)
	GovernorWait prometheus.Observer
	JobDuration  *prometheus.HistogramVec // labels: job

	// Gauges
	TrackedRooms     prometheus.Gauge
	GovernorInFlight prometheus.GaugeFunc

	watchOnce sync.Once
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_events_received_total", Help: "Inbound chat events accepted for processing"}, []string{"source", "kind"})
		EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "roombot_events_duplicate_total", Help: "Inbound events dropped as re-deliveries"})
		EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_events_rejected_total", Help: "Inbound events rejected before processing"}, []string{"reason"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_commands_dispatched_total", Help: "Router rules that fired"}, []string{"rule"})
		OutboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_platform_calls_total", Help: "Calls made to the chat platform API"}, []string{"endpoint", "outcome"})
		SourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_source_fetches_total", Help: "External data source lookups by outcome"}, []string{"source", "outcome"})
		PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_persistence_errors_total", Help: "Store operations that failed and were skipped"}, []string{"op"})
		JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "roombot_job_runs_total", Help: "Scheduled job executions"}, []string{"job", "outcome"})
		GovernorWait = promauto.NewHistogram(prometheus.HistogramOpts{Name: "roombot_governor_wait_seconds", Help: "Time spent waiting for outbound admission", Buckets: []float64{0, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}})
		JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "roombot_job_duration_seconds", Help: "Scheduled job duration seconds", Buckets: prometheus.DefBuckets}, []string{"job"})
		TrackedRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "roombot_tracked_rooms", Help: "Rooms with an active daily tally"})
	})
}

// Inc increments a labelled counter if metrics were initialized.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec != nil {
		vec.WithLabelValues(labels...).Inc()
	}
}

// IncDuplicate counts a dropped re-delivery.
func IncDuplicate() {
	if EventsDuplicate != nil {
		EventsDuplicate.Inc()
	}
}

// ObserveWait records an admission wait.
func ObserveWait(d time.Duration) {
	if GovernorWait != nil {
		GovernorWait.Observe(d.Seconds())
	}
}

// WatchGovernor exports inFlight as the number of outbound calls admitted in
// the current rate window. Only the first call registers.
func WatchGovernor(inFlight func() int) {
	watchOnce.Do(func() {
		GovernorInFlight = promauto.NewGaugeFunc(prometheus.GaugeOpts{Name: "roombot_governor_in_flight", Help: "Outbound calls admitted in the current rate window"},
			func() float64 { return float64(inFlight()) })
	})
}

// SetTrackedRooms records the number of rooms with a live tally.
func SetTrackedRooms(n int) {
	if TrackedRooms != nil {
		TrackedRooms.Set(float64(n))
	}
}

// TimeJob measures fn and records it under job.
func TimeJob(job string, fn func() error) error {
	start := time.Now()
	err := fn()
	if JobDuration != nil {
		JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Inc(JobRuns, job, outcome)
	return err
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
