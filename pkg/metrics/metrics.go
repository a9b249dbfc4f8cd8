// Package metrics exposes fleet health to Prometheus. Gauges are read
// from the store on every scrape.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

const namespace = "zfsmon"

// Report results counted by zfsmon_reports_total
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Source provides the aggregates behind the gauges
type Source interface {
	HostStatusCounts(ctx context.Context) (map[models.HostStatus]int64, error)
	PoolHealthCounts(ctx context.Context) (map[models.Health]int64, error)
	StaleHostCount(ctx context.Context, now time.Time) (int64, error)
}

var _ prometheus.Collector = &Collector{}

// Collector reads gauges from a Source and counts stored reports
type Collector struct {
	source  Source
	timeout time.Duration
	now     func() time.Time

	hosts   *prometheus.Desc
	pools   *prometheus.Desc
	stale   *prometheus.Desc
	up      *prometheus.Desc
	reports *prometheus.CounterVec
}

// NewCollector creates a Collector over source
func NewCollector(source Source) *Collector {
	return &Collector{
		source:  source,
		timeout: 10 * time.Second,
		now:     time.Now,
		hosts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "hosts"),
			"Number of monitored hosts by status.",
			[]string{"status"}, nil),
		pools: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pools"),
			"Number of pools by health.",
			[]string{"health"}, nil),
		stale: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stale_hosts"),
			"Number of hosts that have not reported within the stale threshold.",
			nil, nil),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "store_up"),
			"Whether the last scrape could read the store.",
			nil, nil),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Number of agent reports received by result.",
		}, []string{"result"}),
	}
}

// ObserveReport counts one received report. A nil Collector ignores it.
func (c *Collector) ObserveReport(result string) {
	if c == nil {
		return
	}
	c.reports.WithLabelValues(result).Inc()
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hosts
	ch <- c.pools
	ch <- c.stale
	ch <- c.up
	c.reports.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reports.Collect(ch)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.collectStore(ctx, ch); err != nil {
		klog.Errorf("Failed to collect fleet metrics: %v", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
}

// collectStore reads every aggregate before sending any of them so a
// failed scrape sends none
func (c *Collector) collectStore(ctx context.Context, ch chan<- prometheus.Metric) error {
	hosts, err := c.source.HostStatusCounts(ctx)
	if err != nil {
		return err
	}
	pools, err := c.source.PoolHealthCounts(ctx)
	if err != nil {
		return err
	}
	stale, err := c.source.StaleHostCount(ctx, c.now())
	if err != nil {
		return err
	}

	for status, n := range hosts {
		ch <- prometheus.MustNewConstMetric(c.hosts, prometheus.GaugeValue, float64(n), string(status))
	}
	for health, n := range pools {
		ch <- prometheus.MustNewConstMetric(c.pools, prometheus.GaugeValue, float64(n), string(health))
	}
	ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, float64(stale))
	return nil
}
