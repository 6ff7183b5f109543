// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tutortoise/parking-occupancy-service/detections"
	"github.com/Tutortoise/parking-occupancy-service/geometry"
	"github.com/Tutortoise/parking-occupancy-service/models"
	"github.com/Tutortoise/parking-occupancy-service/occupancy"
	"github.com/Tutortoise/parking-occupancy-service/regions"
)

const namespace = "parking"

// PoolStats is implemented by detections.ModelSessionPool.
type PoolStats interface {
	GetMetrics() detections.PoolMetrics
}

// Metrics implements occupancy.Recorder on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	framesProcessed prometheus.Counter
	detections      *prometheus.CounterVec
	proposals       *prometheus.CounterVec
	frameLatency    prometheus.Histogram

	regionsTotal atomic.Int64
	occupied     atomic.Int64
	free         atomic.Int64
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames classified",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vehicle_detections_total",
			Help:      "Vehicle detections by label",
		}, []string{"label"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_proposals_total",
			Help:      "Region proposals by outcome",
		}, []string{"outcome"}),
		frameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Detection and classification time per frame",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	m.registry.MustRegister(m.framesProcessed, m.detections, m.proposals, m.frameLatency)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: "regions", Help: "Regions currently defined"},
		func() float64 { return float64(m.regionsTotal.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: "regions_occupied", Help: "Occupied regions in the last frame"},
		func() float64 { return float64(m.occupied.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: "regions_free", Help: "Free regions in the last frame"},
		func() float64 { return float64(m.free.Load()) },
	))

	return m
}

// RegisterPool adds collectors that read the session pool counters on
// scrape. Pool occupancy is a gauge; the running totals are counters.
func (m *Metrics) RegisterPool(pool PoolStats) {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "pool", Name: name, Help: help}
	}
	gauge := func(name, help string, value func(detections.PoolMetrics) float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts(opts(name, help)),
			func() float64 { return value(pool.GetMetrics()) },
		))
	}
	counter := func(name, help string, value func(detections.PoolMetrics) float64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts(opts(name, help)),
			func() float64 { return value(pool.GetMetrics()) },
		))
	}
	gauge("size", "Configured model sessions", func(p detections.PoolMetrics) float64 { return float64(p.Size) })
	gauge("in_use", "Model sessions in use", func(p detections.PoolMetrics) float64 { return float64(p.InUse) })
	counter("acquired_total", "Session acquisitions", func(p detections.PoolMetrics) float64 { return float64(p.TotalAcquired) })
	counter("released_total", "Session releases", func(p detections.PoolMetrics) float64 { return float64(p.TotalReleased) })
	counter("acquire_failures_total", "Failed session acquisitions", func(p detections.PoolMetrics) float64 { return float64(p.AcquireFailures) })
	counter("wait_seconds_total", "Time spent waiting for sessions", func(p detections.PoolMetrics) float64 { return p.WaitTime.Seconds() })
}

func (m *Metrics) ObserveFrame(res occupancy.Result, vehicles []models.Detection, elapsed time.Duration) {
	m.framesProcessed.Inc()
	m.frameLatency.Observe(elapsed.Seconds())
	for _, v := range vehicles {
		m.detections.WithLabelValues(v.Label).Inc()
	}
	m.regionsTotal.Store(int64(res.Total))
	m.occupied.Store(int64(res.OccupiedCount))
	m.free.Store(int64(res.Free))
}

func (m *Metrics) ObserveProposal(err error) {
	m.proposals.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveRegions(total int) {
	m.regionsTotal.Store(int64(total))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, regions.ErrIntersection):
		return "intersection"
	case errors.Is(err, geometry.ErrInvalidGeometry):
		return "invalid"
	default:
		return "error"
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
