package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firefly-engineering/browserpool/internal/instance"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "browserpool"

// Prometheus implements Collector on its own registry.
type Prometheus struct {
	allocations    *prometheus.CounterVec
	launchDuration *prometheus.HistogramVec
	releases       *prometheus.CounterVec
	slots          *prometheus.GaugeVec
	heartbeats     *prometheus.CounterVec

	sweeps        prometheus.Counter
	sweepReclaims *prometheus.CounterVec
	sweepErrors   prometheus.Counter
	sweepDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewPrometheus creates a collector with metrics under namespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocate calls by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// Remote launches include fixed verification delays, hence the long tail.
	p.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Duration of browser launches",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"mode", "status"},
	)

	p.releases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Slots returned to idle by reason",
		},
		[]string{"reason"},
	)

	p.slots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "slots",
			Help:      "Current number of slots in each status",
		},
		[]string{"status"},
	)

	p.heartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats received by result",
		},
		[]string{"result"},
	)

	p.sweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "sweeps_total",
		Help:      "Completed reaper cycles",
	})
	p.sweepReclaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "reclaimed_total",
			Help:      "Slots reclaimed by the reaper",
		},
		[]string{"reason"},
	)
	p.sweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "errors_total",
		Help:      "Per-slot errors during reaper cycles",
	})
	p.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of reaper cycles",
		Buckets:   prometheus.DefBuckets,
	})

	p.registry.MustRegister(
		p.allocations,
		p.launchDuration,
		p.releases,
		p.slots,
		p.heartbeats,
		p.sweeps,
		p.sweepReclaims,
		p.sweepErrors,
		p.sweepDuration,
	)
	return p
}

func (p *Prometheus) AllocationAttempt(mode instance.Mode, outcome string) {
	p.allocations.WithLabelValues(string(mode), outcome).Inc()
}

func (p *Prometheus) LaunchDuration(mode instance.Mode, d time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	p.launchDuration.WithLabelValues(string(mode), status).Observe(d.Seconds())
}

func (p *Prometheus) Released(reason string) {
	p.releases.WithLabelValues(reason).Inc()
}

// SlotsByStatus sets every known status, so a status that drops to zero
// is reported as zero rather than keeping its last value.
func (p *Prometheus) SlotsByStatus(counts map[instance.Status]int) {
	for _, s := range instance.Statuses {
		p.slots.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (p *Prometheus) Heartbeat(ok bool) {
	result := "accepted"
	if !ok {
		result = "rejected"
	}
	p.heartbeats.WithLabelValues(result).Inc()
}

func (p *Prometheus) SweepCompleted(expired, crashed, errors int, d time.Duration) {
	p.sweeps.Inc()
	p.sweepReclaims.WithLabelValues("expire").Add(float64(expired))
	p.sweepReclaims.WithLabelValues("crash").Add(float64(crashed))
	p.sweepErrors.Add(float64(errors))
	p.sweepDuration.Observe(d.Seconds())
}

// Registry returns the Prometheus registry for HTTP handler setup
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

var _ Collector = (*Prometheus)(nil)
