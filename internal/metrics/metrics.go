// Package metrics registers the Prometheus counters of the bot and the
// HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"serotonyl.ru/filegate-bot/internal/common"
)

// Outcome labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultDropped  = "dropped"
)

var (
	// Updates counts inbound Telegram updates by kind (message, callback, attachment).
	Updates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_updates_total",
			Help: "Inbound updates processed by the bot",
		},
		[]string{"type"},
	)

	// LedgerOperations counts credit/debit/transfer calls by outcome.
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_ledger_operations_total",
			Help: "Balance mutations by operation and outcome",
		},
		[]string{"op", "result"},
	)

	// Downloads counts ConsumeDownload calls by outcome.
	Downloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_downloads_total",
			Help: "Content deliveries by outcome",
		},
		[]string{"result"},
	)

	// Notifications counts outbound best-effort notifications.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_notifications_total",
			Help: "Outbound notifications by outcome",
		},
		[]string{"result"},
	)

	// MembershipCache counts join-check cache lookups.
	MembershipCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_membership_cache_total",
			Help: "Channel membership cache lookups (hit/miss)",
		},
		[]string{"result"},
	)

	// Panics counts recovered panics by goroutine kind.
	Panics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_panics_total",
			Help: "Recovered panics",
		},
		[]string{"where"},
	)

	// HTTPRequests counts HTTP requests by route pattern and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filegate_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration observes HTTP request latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filegate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Outcome maps an error to a result label: nil is ok, business
// rejections are "rejected", infrastructure failures are "error".
func Outcome(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case common.IsRejection(err):
		return ResultRejected
	default:
		return ResultError
	}
}
