// ABOUTME: Prometheus counters for notification sweeps and dispatch.
// ABOUTME: Registered on the default registry; exposed by the API server at /metrics.
package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_notifications_sent_total",
		Help: "Notifications persisted and mailed, by notification type.",
	}, []string{"type"})

	notificationsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_notifications_duplicate_total",
		Help: "Dispatches skipped because the idempotency key was already taken.",
	}, []string{"type"})

	notificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_notifications_failed_total",
		Help: "Dispatch failures, by notification type and stage (render, send).",
	}, []string{"type", "stage"})

	sweepCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_notification_sweep_candidates_total",
		Help: "User/request pairs evaluated by expiration sweeps, by sweep and outcome.",
	}, []string{"sweep", "outcome"})
)
