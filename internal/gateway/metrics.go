package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noshowd",
			Subsystem: "model",
			Name:      "reloads_total",
			Help:      "Model reload attempts by outcome",
		},
		[]string{"outcome"},
	)

	reloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "noshowd",
			Subsystem: "model",
			Name:      "reload_duration_seconds",
			Help:      "Duration of model reloads in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noshowd",
			Subsystem: "model",
			Name:      "predictions_total",
			Help:      "Predictions served by outcome",
		},
		[]string{"outcome"},
	)

	activeModelInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "noshowd",
			Subsystem: "model",
			Name:      "active_info",
			Help:      "Currently served model; value is always 1",
		},
		[]string{"name", "version", "stage"},
	)

	inflightPredictions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "noshowd",
			Subsystem: "model",
			Name:      "inflight_predictions",
			Help:      "Predictions currently holding a model handle",
		},
	)
)

func init() {
	prometheus.MustRegister(reloadsTotal, reloadDuration, predictionsTotal, activeModelInfo, inflightPredictions)
}

// Reload and prediction outcome label values.
const (
	outcomeSuccess   = "success"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
	outcomeOK        = "ok"
	outcomeInvalid   = "invalid"
	outcomeNotReady  = "not_ready"
	outcomeError     = "error"
)
