package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's operational metrics through Prometheus.
// All record methods are safe on a nil receiver so callers need no guard
// when metrics are disabled.
type Recorder struct {
	cycles           *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	levelsCollected  *prometheus.CounterVec
	sourceFailures   *prometheus.CounterVec
	activeZones      *prometheus.GaugeVec
	touches          *prometheus.CounterVec
	regimeChanges    *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	persistDrops     prometheus.Counter
	persistFailures  prometheus.Counter
	streamReconnects prometheus.Counter
}

// New creates a recorder registered with the default registry.
func New() *Recorder {
	return &Recorder{
		cycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_evaluation_cycles_total",
				Help: "Total number of zone evaluation cycles completed",
			},
			[]string{"symbol"},
		),
		cycleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "srzone_cycle_duration_seconds",
				Help:    "Duration of a full zone evaluation cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
		levelsCollected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_levels_collected_total",
				Help: "Total number of raw levels collected per source",
			},
			[]string{"source"},
		),
		sourceFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_source_failures_total",
				Help: "Total number of level source collection failures",
			},
			[]string{"source"},
		),
		activeZones: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "srzone_active_zones",
				Help: "Number of currently tracked zones per symbol",
			},
			[]string{"symbol"},
		),
		touches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_touches_recorded_total",
				Help: "Total number of zone touches recorded",
			},
			[]string{"symbol"},
		),
		regimeChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_regime_transitions_total",
				Help: "Total number of market regime transitions",
			},
			[]string{"symbol", "to"},
		),
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_risk_decisions_total",
				Help: "Total number of risk evaluations by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "srzone_risk_rejections_total",
				Help: "Total number of rejected risk evaluations by reason",
			},
			[]string{"reason"},
		),
		persistDrops: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "srzone_persist_drops_total",
				Help: "Total number of zone state saves dropped on queue overflow",
			},
		),
		persistFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "srzone_persist_failures_total",
				Help: "Total number of zone state saves that exhausted retries",
			},
		),
		streamReconnects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "srzone_stream_reconnects_total",
				Help: "Total number of market stream reconnections",
			},
		),
	}
}

// RecordCycle records a completed evaluation cycle and its duration.
func (r *Recorder) RecordCycle(symbol string, seconds float64) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(symbol).Inc()
	r.cycleDuration.WithLabelValues(symbol).Observe(seconds)
}

// RecordLevels records raw levels collected from a source.
func (r *Recorder) RecordLevels(source string, count int) {
	if r == nil {
		return
	}
	r.levelsCollected.WithLabelValues(source).Add(float64(count))
}

// RecordSourceFailure records a failed source collection.
func (r *Recorder) RecordSourceFailure(source string) {
	if r == nil {
		return
	}
	r.sourceFailures.WithLabelValues(source).Inc()
}

// SetActiveZones updates the active zone gauge for a symbol.
func (r *Recorder) SetActiveZones(symbol string, count int) {
	if r == nil {
		return
	}
	r.activeZones.WithLabelValues(symbol).Set(float64(count))
}

// RecordTouch records a zone touch.
func (r *Recorder) RecordTouch(symbol string) {
	if r == nil {
		return
	}
	r.touches.WithLabelValues(symbol).Inc()
}

// RecordRegimeChange records a regime transition.
func (r *Recorder) RecordRegimeChange(symbol, to string) {
	if r == nil {
		return
	}
	r.regimeChanges.WithLabelValues(symbol, to).Inc()
}

// RecordDecision records a risk evaluation outcome.
func (r *Recorder) RecordDecision(symbol, outcome string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(symbol, outcome).Inc()
}

// RecordRejection records a rejected risk evaluation.
func (r *Recorder) RecordRejection(reason string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(reason).Inc()
}

// RecordPersistDrop records a save dropped on queue overflow.
func (r *Recorder) RecordPersistDrop() {
	if r == nil {
		return
	}
	r.persistDrops.Inc()
}

// RecordPersistFailure records a save that exhausted its retries.
func (r *Recorder) RecordPersistFailure() {
	if r == nil {
		return
	}
	r.persistFailures.Inc()
}

// RecordStreamReconnect records a stream reconnection.
func (r *Recorder) RecordStreamReconnect() {
	if r == nil {
		return
	}
	r.streamReconnects.Inc()
}
