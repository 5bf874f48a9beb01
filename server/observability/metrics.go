package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PingsSent counts every probe launched against a monitored service.
	PingsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pings_sent_total",
		Help: "Total probes launched against monitored services",
	})

	// SuccessfulPings counts probes that completed with a 2xx status.
	SuccessfulPings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "successful_pings_total",
		Help: "Total probes that completed with a 2xx status",
	})

	// HTTPConnsActive tracks probe HTTP requests currently in flight.
	HTTPConnsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_conns_active_total",
		Help: "Probe HTTP requests currently in flight",
	})

	// JobsActive tracks the number of probing loops currently running in
	// this replica.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobs_active_total",
		Help: "Probing loops currently running in this replica",
	})

	// OwnedJobs tracks the size of the owned set published by the last
	// successful reconciler refresh.
	OwnedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "owned_jobs_total",
		Help: "Jobs assigned to this replica by the last owned-set refresh",
	})

	// NotificationsSent counts alert notifications persisted, by stage.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Alert notifications persisted, by escalation stage",
	}, []string{"stage"})

	// MailFailures counts alert mails that could not be delivered. Mail is
	// best-effort; the escalation workflow continues after a failure.
	MailFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mail_failures_total",
		Help: "Alert mails that could not be delivered",
	})

	// APIRateLimited counts admin API requests rejected by the per-endpoint
	// rate limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_rate_limited_total",
		Help: "Admin API requests rejected by rate limiting (storm protection)",
	}, []string{"endpoint"})
)
