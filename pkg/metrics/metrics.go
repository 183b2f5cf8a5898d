package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	PublishedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_published_dispatch_jobs_total", Help: "Dispatch jobs published to queue"},
	)

	DispatchBatches = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_batches_total", Help: "Dispatch batches executed"},
	)
	DispatchBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_batch_duration_seconds",
			Help:    "Time spent processing one batch",
			Buckets: prometheus.DefBuckets,
		},
	)
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_messages_sent_total", Help: "Messages delivered to the gateway"},
	)
	MessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_messages_failed_total", Help: "Messages failed after exhausting attempts"},
	)
	MessageRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_message_retries_total", Help: "Send attempts left pending for retry"},
	)
	PauseSkips = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_pause_skips_total", Help: "Batch invocations skipped by the pause signal"},
	)
	LeaseSkips = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_lease_skips_total", Help: "Batch invocations skipped because the campaign lease was held"},
	)
	HoursDeferrals = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_hours_deferrals_total", Help: "Sends deferred by business-hours gating"},
	)
	CampaignsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_campaigns_completed_total", Help: "Campaigns that reached completed"},
	)
	CampaignsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_campaigns_failed_total", Help: "Campaigns that reached failed"},
	)

	RecorderEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "recorder_events_total", Help: "Activity events consumed"},
	)
	RecorderDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "recorder_events_dropped_total", Help: "Activity events dropped on a full buffer"},
	)
	RecorderDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "recorder_events_dead_lettered_total", Help: "Activity events pushed to the dead letter list"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, PublishedJobsTotal,
		DispatchBatches, DispatchBatchDuration,
		MessagesSent, MessagesFailed, MessageRetries,
		PauseSkips, LeaseSkips, HoursDeferrals,
		CampaignsCompleted, CampaignsFailed,
		RecorderEvents, RecorderDropped, RecorderDeadLettered,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
