package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision engine and learning loop metrics for production monitoring
var (
	// Decision metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infrasage_decisions_total",
			Help: "Total number of reasoning requests by objective and outcome",
		},
		[]string{"objective", "outcome"}, // outcome: decided/no_candidates/error
	)

	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "infrasage_decision_duration_seconds",
			Help:    "End-to-end reasoning duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	DecisionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "infrasage_decision_confidence",
			Help:    "Confidence of returned decisions",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	CandidatesSurviving = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "infrasage_candidates_surviving",
			Help:    "Number of candidates surviving feasibility filtering per request",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	// Telemetry log metrics
	LogWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infrasage_log_writes_total",
			Help: "Operation log writes by status",
		},
		[]string{"status"}, // ok/error/invalid
	)

	// Learning metrics
	LearningPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infrasage_learning_passes_total",
			Help: "Learning passes by final status",
		},
		[]string{"status"}, // completed/cancelled/error
	)

	LearningEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "infrasage_learning_entries_total",
			Help: "Operation log entries consumed by learning",
		},
	)

	LearningPatterns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "infrasage_learning_patterns",
			Help: "Number of learning patterns currently tracked",
		},
	)

	Advisories = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "infrasage_advisories",
			Help: "Size of the current advisory sets",
		},
		[]string{"kind"}, // suggestion/adaptation_rule
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infrasage_anomalies_total",
			Help: "Anomalous requests flagged, by reason",
		},
		[]string{"reason"},
	)

	ModelUpdateFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infrasage_model_update_failures_total",
			Help: "Predictive model updates that failed and were skipped",
		},
		[]string{"model"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infrasage_http_requests_total",
			Help: "HTTP requests by route template, method and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infrasage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
