package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxalert"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	reg prometheus.Gatherer

	signalEvents   *prometheus.CounterVec
	detectorCycles *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	acks           *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	inflightAcks   prometheus.Gauge
}

// New creates a Prometheus recorder registered on reg.
// Passing nil uses the default registry.
func New(reg *prometheus.Registry) *Recorder {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Recorder{
		reg: gatherer,
		signalEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signal_events_total",
				Help:      "Signal change events raised by the detector",
			},
			[]string{"pair", "timeframe", "notify"},
		),
		detectorCycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detector_tuples_total",
				Help:      "Detector tuple evaluations by outcome",
			},
			[]string{"outcome"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Per-recipient notification outcomes",
			},
			[]string{"outcome"},
		),
		acks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interaction_acks_total",
				Help:      "Interaction acknowledgment results by final state and error class",
			},
			[]string{"state", "class"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		inflightAcks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interaction_acks_inflight",
			Help:      "Acknowledgments currently in progress",
		}),
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (r *Recorder) RecordSignalEvent(pair, timeframe string, notify bool) {
	r.signalEvents.WithLabelValues(pair, timeframe, boolLabel(notify)).Inc()
}

// RecordDetectorTuple counts one tuple evaluation (changed, unchanged, skipped, failed, overlap).
func (r *Recorder) RecordDetectorTuple(outcome string) {
	r.detectorCycles.WithLabelValues(outcome).Inc()
}

// RecordNotification counts one recipient outcome (sent, rate_limited, deduped, failed).
func (r *Recorder) RecordNotification(outcome string) {
	r.notifications.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordAck(state, class string) {
	r.acks.WithLabelValues(state, class).Inc()
}

func (r *Recorder) AckStarted()  { r.inflightAcks.Inc() }
func (r *Recorder) AckFinished() { r.inflightAcks.Dec() }

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Handler serves the registry this recorder writes to.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
