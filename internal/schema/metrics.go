package schema

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemaguard_registrations_total",
		Help: "Registration attempts by outcome (accepted, rejected, error).",
	}, []string{"outcome"})

	compatibilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemaguard_compatibility_checks_total",
		Help: "Compatibility evaluations by mode and result.",
	}, []string{"mode", "result"})

	checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "schemaguard_compatibility_check_seconds",
		Help:    "Wall time of one compatibility evaluation.",
		Buckets: prometheus.DefBuckets,
	})

	verdictCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemaguard_verdict_cache_hits_total",
		Help: "Compatibility verdicts served from the memoization cache.",
	})

	verdictCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemaguard_verdict_cache_misses_total",
		Help: "Compatibility verdicts that required a full evaluation.",
	})

	sunsetSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schemaguard_sunset_deletions_total",
		Help: "Deprecated versions deleted because their sunset date passed.",
	})
)
