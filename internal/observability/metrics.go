package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitleague",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity persisted to Postgres.",
	})
	webhookOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitleague",
		Subsystem: "ingestion",
		Name:      "webhook_events_total",
		Help:      "Webhook events received, partitioned by processing outcome.",
	}, []string{"outcome"})
	pointsAwardedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitleague",
		Subsystem: "scoring",
		Name:      "points_awarded_total",
		Help:      "Total points awarded across all scored activities.",
	})
	suspectFlagCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitleague",
		Subsystem: "anticheat",
		Name:      "suspect_flags_total",
		Help:      "Suspect flags raised, partitioned by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, webhookOutcomeCounter, pointsAwardedCounter, suspectFlagCounter)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordWebhookOutcome counts a processed webhook event by its outcome.
func RecordWebhookOutcome(outcome string) {
	webhookOutcomeCounter.WithLabelValues(outcome).Inc()
}

// RecordPointsAwarded adds the awarded points to the running total.
func RecordPointsAwarded(points int) {
	if points <= 0 {
		return
	}
	pointsAwardedCounter.Add(float64(points))
}

// RecordSuspectFlag counts a raised suspect flag by kind.
func RecordSuspectFlag(kind string) {
	suspectFlagCounter.WithLabelValues(kind).Inc()
}
