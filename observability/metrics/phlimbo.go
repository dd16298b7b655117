package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PhlimboMetrics tracks the staking ledger: positions, emission rates and
// reward settlements.
type PhlimboMetrics struct {
	totalStaked   prometheus.Gauge
	emissionRates *prometheus.GaugeVec
	stakes        prometheus.Counter
	unstakes      prometheus.Counter
	rewardsPaid   *prometheus.CounterVec
}

var (
	phlimboOnce     sync.Once
	phlimboRegistry *PhlimboMetrics
)

// Phlimbo returns the lazily-initialised staking metrics registry.
func Phlimbo() *PhlimboMetrics {
	phlimboOnce.Do(func() {
		phlimboRegistry = &PhlimboMetrics{
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "phlimbo_total_staked_wei",
				Help: "Total PHAME currently held in stake custody.",
			}),
			emissionRates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "phlimbo_emission_per_second_wei",
				Help: "Per-second reward emission by stream.",
			}, []string{"stream"}),
			stakes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "phlimbo_stakes_total",
				Help: "Count of stake operations.",
			}),
			unstakes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "phlimbo_unstakes_total",
				Help: "Count of unstake operations.",
			}),
			rewardsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "phlimbo_rewards_paid_wei_total",
				Help: "Cumulative rewards paid out by stream.",
			}, []string{"stream"}),
		}
		prometheus.MustRegister(
			phlimboRegistry.totalStaked,
			phlimboRegistry.emissionRates,
			phlimboRegistry.stakes,
			phlimboRegistry.unstakes,
			phlimboRegistry.rewardsPaid,
		)
	})
	return phlimboRegistry
}

// SetTotalStaked records the custody balance backing all positions.
func (m *PhlimboMetrics) SetTotalStaked(amount *big.Int) {
	if m == nil {
		return
	}
	m.totalStaked.Set(bigToFloat(amount))
}

// SetEmissionRates records both per-second rates.
func (m *PhlimboMetrics) SetEmissionRates(phusdPerSecond, stablePerSecond *big.Int) {
	if m == nil {
		return
	}
	m.emissionRates.WithLabelValues("phusd").Set(bigToFloat(phusdPerSecond))
	m.emissionRates.WithLabelValues("stable").Set(bigToFloat(stablePerSecond))
}

// ObserveStake counts one stake operation.
func (m *PhlimboMetrics) ObserveStake() {
	if m == nil {
		return
	}
	m.stakes.Inc()
}

// ObserveUnstake counts one unstake operation.
func (m *PhlimboMetrics) ObserveUnstake() {
	if m == nil {
		return
	}
	m.unstakes.Inc()
}

// ObserveRewards adds a settlement's payouts to both stream counters.
func (m *PhlimboMetrics) ObserveRewards(phusd, stable *big.Int) {
	if m == nil {
		return
	}
	if phusd != nil && phusd.Sign() > 0 {
		m.rewardsPaid.WithLabelValues("phusd").Add(bigToFloat(phusd))
	}
	if stable != nil && stable.Sign() > 0 {
		m.rewardsPaid.WithLabelValues("stable").Add(bigToFloat(stable))
	}
}
