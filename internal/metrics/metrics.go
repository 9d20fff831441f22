package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trade engine.
type Metrics struct {
	MatchesTotal    prometheus.Counter
	PurchasesTotal  prometheus.Counter
	PaymentsTotal   *prometheus.CounterVec // labels: kind
	ConflictRetries prometheus.Counter
	ExpiredOrders   prometheus.Counter
	MatchDur        prometheus.Histogram
	OpenOrders      prometheus.Gauge
}

// New registers and returns all trade-engine metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_matches_total",
			Help: "Total match invocations processed",
		}),
		PurchasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_purchases_total",
			Help: "Total purchase records created",
		}),
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeengine_payments_total",
			Help: "Total payment records emitted (by kind)",
		}, []string{"kind"}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_conflict_retries_total",
			Help: "Optimistic-concurrency conflicts retried",
		}),
		ExpiredOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeengine_expired_orders_total",
			Help: "Orders cancelled by the expiry sweep",
		}),
		MatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeengine_match_duration_seconds",
			Help:    "Wall time of one match invocation",
			Buckets: prometheus.DefBuckets,
		}),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeengine_open_orders",
			Help: "Open orders last observed by a book snapshot",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MatchesTotal,
			m.PurchasesTotal,
			m.PaymentsTotal,
			m.ConflictRetries,
			m.ExpiredOrders,
			m.MatchDur,
			m.OpenOrders,
		)
	}
	return m
}
