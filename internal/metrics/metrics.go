// Package metrics exposes the manager's counters and tier usage as
// Prometheus gauges/counters, collected on demand rather than pushed, so
// scraping never contends with the hot paths it observes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oichkatzele/tiermem/internal/manager"
)

// Collector adapts a *manager.Manager to prometheus.Collector.
type Collector struct {
	mgr *manager.Manager

	totalFaults     *prometheus.Desc
	totalMigrations *prometheus.Desc
	policyCycles    *prometheus.Desc
	tierUsed        *prometheus.Desc
	tierCapacity    *prometheus.Desc
	trackedPages    *prometheus.Desc
	activeRegions   *prometheus.Desc
}

// NewCollector wraps mgr for Prometheus registration.
func NewCollector(mgr *manager.Manager) *Collector {
	return &Collector{
		mgr:             mgr,
		totalFaults:     prometheus.NewDesc("tiermem_total_faults", "Total page faults resolved.", nil, nil),
		totalMigrations: prometheus.NewDesc("tiermem_total_migrations", "Total page migrations executed.", nil, nil),
		policyCycles:    prometheus.NewDesc("tiermem_policy_cycles", "Total policy loop cycles run.", nil, nil),
		tierUsed:        prometheus.NewDesc("tiermem_tier_used_bytes", "Bytes currently accounted against a tier.", []string{"tier"}, nil),
		tierCapacity:    prometheus.NewDesc("tiermem_tier_capacity_bytes", "Configured byte capacity of a tier.", []string{"tier"}, nil),
		trackedPages:    prometheus.NewDesc("tiermem_tracked_pages", "Distinct pages currently tracked in the stats table.", nil, nil),
		activeRegions:   prometheus.NewDesc("tiermem_active_regions", "Currently active managed regions.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalFaults
	ch <- c.totalMigrations
	ch <- c.policyCycles
	ch <- c.tierUsed
	ch <- c.tierCapacity
	ch <- c.trackedPages
	ch <- c.activeRegions
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.totalFaults, prometheus.CounterValue, float64(c.mgr.TotalFaults()))
	ch <- prometheus.MustNewConstMetric(c.totalMigrations, prometheus.CounterValue, float64(c.mgr.TotalMigrations()))
	ch <- prometheus.MustNewConstMetric(c.policyCycles, prometheus.CounterValue, float64(c.mgr.PolicyCycles()))
	ch <- prometheus.MustNewConstMetric(c.activeRegions, prometheus.GaugeValue, float64(len(c.mgr.ActiveRegions())))
	ch <- prometheus.MustNewConstMetric(c.trackedPages, prometheus.GaugeValue, float64(c.mgr.TrackedPages()))

	fast, slow := c.mgr.FastUsage(), c.mgr.SlowUsage()
	ch <- prometheus.MustNewConstMetric(c.tierUsed, prometheus.GaugeValue, float64(fast.Used), "fast")
	ch <- prometheus.MustNewConstMetric(c.tierUsed, prometheus.GaugeValue, float64(slow.Used), "slow")
	ch <- prometheus.MustNewConstMetric(c.tierCapacity, prometheus.GaugeValue, float64(fast.Capacity), "fast")
	ch <- prometheus.MustNewConstMetric(c.tierCapacity, prometheus.GaugeValue, float64(slow.Capacity), "slow")
}
