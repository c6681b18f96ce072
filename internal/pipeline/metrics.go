package pipeline

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/stereowls/internal/errs"
)

// Metrics records pipeline timings. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	validRatio    prometheus.Histogram
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stereowls_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stereowls_runs_total",
				Help: "Total number of depth runs",
			},
			[]string{"mode", "status"}, // status: ok, invalid, error
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stereowls_run_duration_seconds",
				Help:    "Duration of complete depth runs in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25},
			},
			[]string{"mode"},
		),
		validRatio: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stereowls_valid_disparity_ratio",
				Help:    "Share of ROI pixels holding a disparity after refinement",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
	}
}

func (m *Metrics) observeStage(s Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(s)).Observe(d.Seconds())
}

func (m *Metrics) observeRun(mode string, d time.Duration, res *Result, err error) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(mode, statusLabel(err)).Inc()
	if err != nil {
		return
	}
	m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
	if res != nil {
		m.validRatio.Observe(res.Stats.ValidRatio)
	}
}

// ObserveFilter records a filter-only or self-guided run.
func (m *Metrics) ObserveFilter(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(mode, statusLabel(err)).Inc()
	if err == nil {
		m.runDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrInvalidParameter), errors.Is(err, errs.ErrUnsupportedAlgorithm),
		errors.Is(err, errs.ErrUnsupportedSampleFormat), errors.Is(err, errs.ErrUnreadableInput):
		return "invalid"
	}
	return "error"
}

func modeLabel(c Config) string { return string(c.Algorithm) + "/" + string(c.Filter) }
