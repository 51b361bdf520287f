package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for the credit ledger. All methods
// are safe on a nil receiver so services can run without metrics in tests.
type Collector struct {
	registry             *prometheus.Registry
	ledgerMutations      *prometheus.CounterVec
	creditUnitsMoved     *prometheus.CounterVec
	insufficientBalance  prometheus.Counter
	topupResolutions     *prometheus.CounterVec
	tradersProvisioned   prometheus.Counter
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		ledgerMutations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ficore_ledger_mutations_total",
			Help: "Total number of committed ledger mutations by entry type",
		}, []string{"entry_type"}),
		creditUnitsMoved: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ficore_credit_units_total",
			Help: "Total credit units moved by direction",
		}, []string{"direction"}),
		insufficientBalance: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "ficore_insufficient_balance_total",
			Help: "Total number of debits rejected for insufficient balance",
		}),
		topupResolutions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ficore_topup_resolutions_total",
			Help: "Total number of top-up request resolutions by decision",
		}, []string{"decision"}),
		tradersProvisioned: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "ficore_traders_provisioned_total",
			Help: "Total number of trader accounts provisioned by agents",
		}),
	}
}

func (c *Collector) RecordMutation(entryType string, amount int64) {
	if c == nil {
		return
	}
	c.ledgerMutations.WithLabelValues(entryType).Inc()
	if amount >= 0 {
		c.creditUnitsMoved.WithLabelValues("credit").Add(float64(amount))
	} else {
		c.creditUnitsMoved.WithLabelValues("debit").Add(float64(-amount))
	}
}

func (c *Collector) RecordInsufficientBalance() {
	if c == nil {
		return
	}
	c.insufficientBalance.Inc()
}

func (c *Collector) RecordResolution(decision string) {
	if c == nil {
		return
	}
	c.topupResolutions.WithLabelValues(decision).Inc()
}

func (c *Collector) RecordTraderProvisioned() {
	if c == nil {
		return
	}
	c.tradersProvisioned.Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
