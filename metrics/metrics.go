// Package metrics - Prometheus telemetry for impulse runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nvr-ai/go-impulse/common"
)

// Mode labels a run as one-shot or continuous.
type Mode string

const (
	// ModeOneShot is a full-window run.
	ModeOneShot Mode = "oneshot"
	// ModeContinuous is a per-slice run.
	ModeContinuous Mode = "continuous"
)

// Recorder collects per-stage timings, run counts and error counts.
type Recorder struct {
	registry  *prometheus.Registry
	dsp       prometheus.Histogram
	inference prometheus.Histogram
	anomaly   prometheus.Histogram
	runs      *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry.
//
// Returns:
//   - *Recorder: The recorder.
//
// Example:
//
// ```go
//
//	rec := metrics.NewRecorder()
//	http.Handle("/metrics", rec.Handler())
//
// ```
func NewRecorder() *Recorder {
	buckets := prometheus.ExponentialBuckets(0.0005, 2, 14)
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		dsp: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "impulse_dsp_seconds",
			Help:    "Time spent in feature extraction",
			Buckets: buckets,
		}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "impulse_inference_seconds",
			Help:    "Time spent in learning blocks other than anomaly",
			Buckets: buckets,
		}),
		anomaly: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "impulse_anomaly_seconds",
			Help:    "Time spent in anomaly blocks",
			Buckets: buckets,
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impulse_runs_total",
			Help: "Total number of impulse runs",
		}, []string{"mode"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "impulse_errors_total",
			Help: "Total number of failed impulse runs by status code",
		}, []string{"code"}),
	}
	r.registry.MustRegister(r.dsp, r.inference, r.anomaly, r.runs, r.errors)
	return r
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Observe records one run. A nil recorder is a no-op.
//
// Arguments:
//   - mode: The run mode.
//   - timing: Stage timings of the run.
//   - err: The run error, counted by status code when non-nil.
func (r *Recorder) Observe(mode Mode, timing common.Timing, err error) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(string(mode)).Inc()
	if err != nil {
		r.errors.WithLabelValues(common.CodeOf(err).String()).Inc()
		return
	}
	r.dsp.Observe(seconds(timing.DSP))
	r.inference.Observe(seconds(timing.Classification))
	if timing.Anomaly > 0 {
		r.anomaly.Observe(seconds(timing.Anomaly))
	}
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
