package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

type fakeSource struct {
	hosts map[models.HostStatus]int64
	pools map[models.Health]int64
	stale int64
	err   error
	now   time.Time
}

func (f *fakeSource) HostStatusCounts(context.Context) (map[models.HostStatus]int64, error) {
	return f.hosts, f.err
}

func (f *fakeSource) PoolHealthCounts(context.Context) (map[models.Health]int64, error) {
	return f.pools, f.err
}

func (f *fakeSource) StaleHostCount(_ context.Context, now time.Time) (int64, error) {
	f.now = now
	return f.stale, f.err
}

func TestCollect(t *testing.T) {
	source := &fakeSource{
		hosts: map[models.HostStatus]int64{models.StatusHealthy: 3, models.StatusErrored: 1, models.StatusFaulted: 0},
		pools: map[models.Health]int64{models.HealthOnline: 5, models.HealthDegraded: 1, models.HealthFaulted: 0, models.HealthUnavail: 0},
		stale: 2,
	}
	c := NewCollector(source)
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	want := `
# HELP zfsmon_hosts Number of monitored hosts by status.
# TYPE zfsmon_hosts gauge
zfsmon_hosts{status="errored"} 1
zfsmon_hosts{status="faulted"} 0
zfsmon_hosts{status="healthy"} 3
# HELP zfsmon_pools Number of pools by health.
# TYPE zfsmon_pools gauge
zfsmon_pools{health="degraded"} 1
zfsmon_pools{health="faulted"} 0
zfsmon_pools{health="online"} 5
zfsmon_pools{health="unavail"} 0
# HELP zfsmon_stale_hosts Number of hosts that have not reported within the stale threshold.
# TYPE zfsmon_stale_hosts gauge
zfsmon_stale_hosts 2
# HELP zfsmon_store_up Whether the last scrape could read the store.
# TYPE zfsmon_store_up gauge
zfsmon_store_up 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"zfsmon_hosts", "zfsmon_pools", "zfsmon_stale_hosts", "zfsmon_store_up")
	if err != nil {
		t.Errorf("CollectAndCompare() error = %v", err)
	}
	if !source.now.Equal(fixed) {
		t.Errorf("StaleHostCount() called with %v, want %v", source.now, fixed)
	}
}

func TestCollectStoreDown(t *testing.T) {
	c := NewCollector(&fakeSource{err: errors.New("database is locked")})

	want := `
# HELP zfsmon_store_up Whether the last scrape could read the store.
# TYPE zfsmon_store_up gauge
zfsmon_store_up 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "zfsmon_store_up"); err != nil {
		t.Errorf("CollectAndCompare() error = %v", err)
	}
	if n := testutil.CollectAndCount(c, "zfsmon_hosts"); n != 0 {
		t.Errorf("CollectAndCount(zfsmon_hosts) = %d, want 0", n)
	}
}

func TestObserveReport(t *testing.T) {
	c := NewCollector(&fakeSource{})
	c.ObserveReport(ResultCreated)
	c.ObserveReport(ResultUpdated)
	c.ObserveReport(ResultUpdated)

	var m dto.Metric
	if err := c.reports.WithLabelValues(ResultUpdated).Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("reports_total{result=updated} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.reports.WithLabelValues(ResultCreated)); got != 1 {
		t.Errorf("reports_total{result=created} = %v, want 1", got)
	}

	var nilCollector *Collector
	nilCollector.ObserveReport(ResultInvalid)
}
