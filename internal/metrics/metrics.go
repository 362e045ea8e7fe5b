package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by payment method and outcome.",
	}, []string{"method", "outcome"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dukapos",
		Name:      "checkout_persist_seconds",
		Help:      "Time spent persisting a confirmed checkout.",
		Buckets:   prometheus.DefBuckets,
	})

	LostUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "inventory_lost_updates_total",
		Help:      "Same-branch inventory items overwritten by a concurrent writer.",
	})

	SyncFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "sync_fallbacks_total",
		Help:      "Live subscriptions that fell back to polling.",
	})

	SyncSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dukapos",
		Name:      "sync_subscriptions",
		Help:      "Open sync subscriptions by mode.",
	}, []string{"mode"})

	MigratedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dukapos",
		Name:      "migrated_records_total",
		Help:      "Records assigned a default branch by the migration guard.",
	}, []string{"collection"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
