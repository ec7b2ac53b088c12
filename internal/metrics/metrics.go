// Package metrics exports pipeline activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "summarizer"

// Recorder holds the summarizer collectors. It satisfies the summarizer
// Observer interface.
type Recorder struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	StageErrors     *prometheus.CounterVec
	LiveTensors     prometheus.Gauge
	Inflight        *prometheus.GaugeVec
	InputTokensSeen prometheus.Histogram
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// for the process-wide registry.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Summarize calls by outcome.",
		}, []string{"status"}),
		RequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end Summarize latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"stage"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures.",
		}, []string{"stage"}),
		LiveTensors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_tensors",
			Help:      "Tensors allocated and not yet released.",
		}),
		Inflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_inflight",
			Help:      "Model session runs currently executing.",
		}, []string{"session"}),
		InputTokensSeen: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "input_tokens",
			Help:      "Token count fed to the encoder per call.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		}),
	}
}

func (r *Recorder) Summarized(status string, d time.Duration) {
	r.RequestsTotal.WithLabelValues(status).Inc()
	r.RequestDuration.Observe(d.Seconds())
}

func (r *Recorder) StageDone(stage string, d time.Duration, err error) {
	r.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		r.StageErrors.WithLabelValues(stage).Inc()
	}
}

func (r *Recorder) InputTokens(n int) {
	r.InputTokensSeen.Observe(float64(n))
}

func (r *Recorder) SessionInflight(session string, delta int) {
	r.Inflight.WithLabelValues(session).Add(float64(delta))
}

// SetLiveTensors matches the tensor.NewTracker callback.
func (r *Recorder) SetLiveTensors(n int64) {
	r.LiveTensors.Set(float64(n))
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
