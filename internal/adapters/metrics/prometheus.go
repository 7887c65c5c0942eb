// Package metrics registers the engine's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orakle_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orakle_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orakle_turns_total",
		Help: "Total conversation turns processed",
	}, []string{"status"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orakle_turn_duration_seconds",
		Help:    "End-to-end turn duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	SkillInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orakle_skill_invocations_total",
		Help: "Total skill invocations",
	}, []string{"skill", "status"})

	MemoriesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orakle_memories_stored",
		Help: "Number of memories in the store",
	})

	TTSRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orakle_tts_request_duration_seconds",
		Help:    "TTS synthesis duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5},
	})
)
