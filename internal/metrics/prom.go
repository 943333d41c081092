package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Deletion reasons recorded on PastesDeleted.
const (
	ReasonUser  = "user"
	ReasonTimer = "timer"
	ReasonStale = "stale"
	ReasonSweep = "sweep"
)

var (
	PastesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteit_pastes_created_total",
		Help: "no. of pastes created",
	})
	PastesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteit_pastes_deleted_total",
			Help: "no. of pastes deleted, by reason",
		},
		[]string{"reason"},
	)
	PastesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pasteit_pastes_active",
		Help: "pastes currently held in the index",
	})
	PasswordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteit_password_failures_total",
		Help: "no. of rejected paste or site passwords",
	})
	HighlightCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasteit_highlight_cache_total",
			Help: "highlight render cache lookups, by result",
		},
		[]string{"result"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pasteit_sweep_cycles_total",
		Help: "no. of expiry sweep cycles",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pasteit_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
