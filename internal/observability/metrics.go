// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Watch metrics
	WatchedTargets       *prometheus.GaugeVec
	SubscriptionsOpened  *prometheus.CounterVec
	SubscriptionsClosed  *prometheus.CounterVec
	ResolutionFailures   *prometheus.CounterVec
	SubscriptionFailures *prometheus.CounterVec
	UnsubscribeFailures  *prometheus.CounterVec
	ResubscribeFailures  *prometheus.CounterVec

	// Classification metrics
	NotificationsReceived *prometheus.CounterVec
	BuysDetected          *prometheus.CounterVec
	BuysDiscarded         *prometheus.CounterVec
	DedupSuppressed       *prometheus.CounterVec
	DedupSize             *prometheus.GaugeVec
	BuyValueUSD           *prometheus.HistogramVec
	EnrichmentFailures    *prometheus.CounterVec

	// Trending metrics
	TrendingRecords prometheus.Counter
	TrendingTokens  prometheus.Gauge

	// Latency metrics
	RPCCallLatency      *prometheus.HistogramVec
	ExternalAPILatency  *prometheus.HistogramVec
	ExternalAPIRequests *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastBuyTimestamp *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "buywatch"
	}

	return &Metrics{
		// Watch metrics
		WatchedTargets: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "targets",
			Help:      "Number of watch targets with an active venue subscription",
		}, []string{"chain"}),
		SubscriptionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "subscriptions_opened_total",
			Help:      "Total number of venue subscriptions opened",
		}, []string{"chain"}),
		SubscriptionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "subscriptions_closed_total",
			Help:      "Total number of venue subscriptions closed",
		}, []string{"chain"}),
		ResolutionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "resolution_failures_total",
			Help:      "Total number of venue resolutions that returned not-found",
		}, []string{"chain"}),
		SubscriptionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "subscription_failures_total",
			Help:      "Total number of rejected chain subscriptions",
		}, []string{"chain"}),
		UnsubscribeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "unsubscribe_failures_total",
			Help:      "Total number of failed unsubscribe calls",
		}, []string{"chain"}),
		ResubscribeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "resubscribe_failures_total",
			Help:      "Total number of subscriptions left stale after a reconnect",
		}, []string{"chain"}),

		// Classification metrics
		NotificationsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "notifications_total",
			Help:      "Total number of chain notifications received",
		}, []string{"chain"}),
		BuysDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "buys_detected_total",
			Help:      "Total number of buy events emitted",
		}, []string{"chain"}),
		BuysDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "discarded_total",
			Help:      "Total number of notifications discarded by reason",
		}, []string{"chain", "reason"}),
		DedupSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "dedup_suppressed_total",
			Help:      "Total number of transactions suppressed as already processed",
		}, []string{"chain"}),
		DedupSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "dedup_set_size",
			Help:      "Current number of entries in the processed transaction set",
		}, []string{"chain"}),
		BuyValueUSD: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "buy_value_usd",
			Help:      "Estimated USD value of detected buys",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		}, []string{"chain"}),
		EnrichmentFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "enrichment_failures_total",
			Help:      "Total number of metadata lookups that fell back to placeholders",
		}, []string{"chain", "source"}),

		// Trending metrics
		TrendingRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trending",
			Name:      "records_total",
			Help:      "Total number of buys recorded by the trending engine",
		}),
		TrendingTokens: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trending",
			Name:      "tokens",
			Help:      "Number of tokens currently tracked by the trending engine",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ExternalAPILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "request_latency_seconds",
			Help:      "External HTTP API latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client"}),
		ExternalAPIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "external",
			Name:      "requests_total",
			Help:      "Total number of external HTTP API requests by outcome",
		}, []string{"client", "outcome"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastBuyTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_buy_timestamp",
			Help:      "Unix timestamp of the last emitted buy",
		}, []string{"chain"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// SetWatchedTargets updates the watched targets gauge for a chain.
func SetWatchedTargets(chain string, n int) {
	DefaultMetrics.WatchedTargets.WithLabelValues(chain).Set(float64(n))
}

// RecordSubscriptionOpened increments the opened subscriptions counter.
func RecordSubscriptionOpened(chain string) {
	DefaultMetrics.SubscriptionsOpened.WithLabelValues(chain).Inc()
}

// RecordSubscriptionClosed records a closed subscription and whether unsubscribe failed.
func RecordSubscriptionClosed(chain string, err error) {
	DefaultMetrics.SubscriptionsClosed.WithLabelValues(chain).Inc()
	if err != nil {
		DefaultMetrics.UnsubscribeFailures.WithLabelValues(chain).Inc()
	}
}

// RecordResolutionFailure increments the resolution failures counter.
func RecordResolutionFailure(chain string) {
	DefaultMetrics.ResolutionFailures.WithLabelValues(chain).Inc()
}

// RecordSubscriptionFailure increments the subscription failures counter.
func RecordSubscriptionFailure(chain string) {
	DefaultMetrics.SubscriptionFailures.WithLabelValues(chain).Inc()
}

// RecordResubscribeFailure counts a subscription that could not be restored
// after a reconnect.
func RecordResubscribeFailure(chain string) {
	DefaultMetrics.ResubscribeFailures.WithLabelValues(chain).Inc()
}

// RecordNotification increments the notifications counter.
func RecordNotification(chain string) {
	DefaultMetrics.NotificationsReceived.WithLabelValues(chain).Inc()
}

// RecordBuy records an emitted buy.
func RecordBuy(chain string, usd float64, unixSeconds int64) {
	DefaultMetrics.BuysDetected.WithLabelValues(chain).Inc()
	DefaultMetrics.BuyValueUSD.WithLabelValues(chain).Observe(usd)
	DefaultMetrics.LastBuyTimestamp.WithLabelValues(chain).Set(float64(unixSeconds))
}

// RecordDiscard records a notification discarded as not a buy.
func RecordDiscard(chain, reason string) {
	DefaultMetrics.BuysDiscarded.WithLabelValues(chain, reason).Inc()
}

// RecordDedupSuppressed increments the dedup suppression counter.
func RecordDedupSuppressed(chain string) {
	DefaultMetrics.DedupSuppressed.WithLabelValues(chain).Inc()
}

// SetDedupSize updates the processed set size gauge.
func SetDedupSize(chain string, n int) {
	DefaultMetrics.DedupSize.WithLabelValues(chain).Set(float64(n))
}

// RecordEnrichmentFailure records a metadata lookup that fell back to placeholders.
func RecordEnrichmentFailure(chain, source string) {
	DefaultMetrics.EnrichmentFailures.WithLabelValues(chain, source).Inc()
}

// RecordTrending records a trending update and the current token count.
func RecordTrending(tokens int) {
	DefaultMetrics.TrendingRecords.Inc()
	DefaultMetrics.TrendingTokens.Set(float64(tokens))
}

// SetTrendingTokens updates the trending tokens gauge.
func SetTrendingTokens(tokens int) {
	DefaultMetrics.TrendingTokens.Set(float64(tokens))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordExternalRequest records an external API call.
func RecordExternalRequest(client, outcome string, seconds float64) {
	DefaultMetrics.ExternalAPIRequests.WithLabelValues(client, outcome).Inc()
	DefaultMetrics.ExternalAPILatency.WithLabelValues(client).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
