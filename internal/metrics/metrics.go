// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rate limiting
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint class and outcome",
		},
		[]string{"class", "allowed"},
	)

	FloodGuardBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_floodguard_blocks_total",
			Help: "Requests blocked by the flood guard",
		},
	)

	// Moderation
	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_moderation_actions_total",
			Help: "Moderation outcomes by suggested action",
		},
		[]string{"action"},
	)

	// Fraud
	FraudAnalyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_fraud_analyses_total",
			Help: "Fraud analyses by resulting risk level",
		},
		[]string{"risk_level"},
	)

	FraudRiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_fraud_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// Key rotation
	KeyRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_key_rotations_total",
			Help: "Key rotations by mode",
		},
		[]string{"mode"},
	)

	SignedURLs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_signed_urls_total",
			Help: "Signed playback URLs minted",
		},
	)

	// Audit
	AuditEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_audit_events_total",
			Help: "Audit events written by severity",
		},
		[]string{"severity"},
	)

	// Incidents
	Incidents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_incidents_total",
			Help: "Security incidents opened by severity",
		},
		[]string{"severity"},
	)

	IncidentActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_incident_actions_total",
			Help: "Automated incident actions by name and outcome",
		},
		[]string{"action", "success"},
	)
)
