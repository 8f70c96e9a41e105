// Package metrics exposes the node's prometheus instrumentation. All
// collectors register on the default registry exactly once, so every
// recorder is safe to call from any package without wiring.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgermsg"

var (
	registerOnce sync.Once

	scanMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "messages_total",
			Help:      "Messages admitted by history scans, by result metadata presence.",
		},
		[]string{"result"},
	)
	scanSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "skipped_total",
			Help:      "History records passed over during scans.",
		},
		[]string{"reason"},
	)
	txSubmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "submits_total",
			Help:      "Submitted transactions by final lifecycle state.",
		},
		[]string{"state"},
	)
	txAwaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "await_seconds",
			Help:      "Time from submission to a final lifecycle state.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 6),
		},
	)
	gatewayFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fetch_total",
			Help:      "Blob gateway fetches by outcome.",
		},
		[]string{"outcome"},
	)
	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fetch_duration_seconds",
			Help:      "Blob gateway fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	ledgerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Ledger node requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	inboxDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "deliveries_total",
			Help:      "Inbox messages by delivery outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			scanMessages,
			scanSkipped,
			txSubmits,
			txAwaitDuration,
			gatewayFetches,
			gatewayDuration,
			ledgerRequests,
			inboxDeliveries,
		)
	})
}

// Handler serves the default registry, for the daemon's metrics listener.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// RecordScanMessage counts an admitted message. result is "success" for
// records with an explicit success code and "assumed" for records that
// arrived without result metadata.
func RecordScanMessage(result string) {
	RegisterMetrics()
	scanMessages.WithLabelValues(result).Inc()
}

func RecordScanSkip(reason string) {
	RegisterMetrics()
	scanSkipped.WithLabelValues(reason).Inc()
}

func RecordSubmitState(state string) {
	RegisterMetrics()
	txSubmits.WithLabelValues(state).Inc()
}

func ObserveSubmitAwait(d time.Duration) {
	RegisterMetrics()
	txAwaitDuration.Observe(d.Seconds())
}

func RecordGatewayFetch(outcome string, d time.Duration) {
	RegisterMetrics()
	gatewayFetches.WithLabelValues(outcome).Inc()
	gatewayDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func RecordLedgerRequest(method, outcome string) {
	RegisterMetrics()
	ledgerRequests.WithLabelValues(method, outcome).Inc()
}

// RecordDelivery counts one inbox message by delivery outcome:
// "delivered", or the skip reason when fetch or decryption failed.
func RecordDelivery(outcome string) {
	RegisterMetrics()
	inboxDeliveries.WithLabelValues(outcome).Inc()
}
