package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// YieldMetrics tracks the accumulator: registered strategies, aggregate
// yield and claim settlements.
type YieldMetrics struct {
	strategies    prometheus.Gauge
	totalYield    prometheus.Gauge
	claimsSettled prometheus.Counter
	claimPaid     prometheus.Counter
	discountRate  prometheus.Gauge
}

var (
	yieldOnce     sync.Once
	yieldRegistry *YieldMetrics
)

// Yield returns the lazily-initialised accumulator metrics registry.
func Yield() *YieldMetrics {
	yieldOnce.Do(func() {
		yieldRegistry = &YieldMetrics{
			strategies: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_strategies_registered",
				Help: "Number of strategies currently registered with the accumulator.",
			}),
			totalYield: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_total_unclaimed_wei",
				Help: "Aggregate normalized unclaimed yield across unpaused strategies.",
			}),
			claimsSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "yield_claims_settled_total",
				Help: "Count of settled accumulator claims.",
			}),
			claimPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "yield_claim_paid_wei_total",
				Help: "Cumulative phUSD minted by settled claims.",
			}),
			discountRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "yield_discount_rate",
				Help: "Current claim discount rate on the 1e18 scale.",
			}),
		}
		prometheus.MustRegister(
			yieldRegistry.strategies,
			yieldRegistry.totalYield,
			yieldRegistry.claimsSettled,
			yieldRegistry.claimPaid,
			yieldRegistry.discountRate,
		)
	})
	return yieldRegistry
}

// SetStrategies records the size of the strategy registry.
func (m *YieldMetrics) SetStrategies(count int) {
	if m == nil {
		return
	}
	m.strategies.Set(float64(count))
}

// SetTotalYield records the current aggregate unclaimed yield.
func (m *YieldMetrics) SetTotalYield(amount *big.Int) {
	if m == nil {
		return
	}
	m.totalYield.Set(bigToFloat(amount))
}

// ObserveClaim records one settled claim and its payout.
func (m *YieldMetrics) ObserveClaim(paid *big.Int) {
	if m == nil {
		return
	}
	m.claimsSettled.Inc()
	m.claimPaid.Add(bigToFloat(paid))
}

// SetDiscountRate records the active discount rate.
func (m *YieldMetrics) SetDiscountRate(rate *big.Int) {
	if m == nil {
		return
	}
	m.discountRate.Set(bigToFloat(rate))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
