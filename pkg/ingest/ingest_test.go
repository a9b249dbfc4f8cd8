package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/runningman84/zfs-monitor/pkg/models"
	"github.com/runningman84/zfs-monitor/pkg/report"
	"github.com/runningman84/zfs-monitor/pkg/store"
)

func newTestIngester(t *testing.T) (*Ingester, *store.Store) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	s, err := store.Open(store.Options{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:ingest_%s?mode=memory&cache=shared&_foreign_keys=on", name),
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(s), s
}

func poolReport(name, guid, health string) report.PoolReport {
	return report.PoolReport{
		Name: name,
		Properties: map[string]string{
			"size":     "1T",
			"capacity": "40%",
			"alloc":    "400G",
			"free":     "600G",
			"health":   health,
			"guid":     guid,
		},
		Vdevs: []report.VdevReport{
			{Name: name, State: health, Children: []report.VdevReport{
				{Name: "mirror-0", State: health, Children: []report.VdevReport{
					{Name: "ada0", State: "ONLINE"},
					{Name: "ada1", State: health, ChecksumErrors: 3},
				}},
			}},
		},
	}
}

func datasetReport(name string, snaps ...string) report.DatasetReport {
	dr := report.DatasetReport{
		Name: name,
		Properties: map[string]string{
			"type":       "filesystem",
			"creation":   "1705312800",
			"used":       "10G",
			"avail":      "600G",
			"refer":      "8G",
			"mountpoint": "/" + name,
			"mounted":    "yes",
		},
	}
	for i, s := range snaps {
		dr.Snapshots = append(dr.Snapshots, report.SnapshotReport{
			Name: name + "@" + s,
			Properties: map[string]string{
				"creation": fmt.Sprintf("%d", 1705312800+i*3600),
				"used":     "1M",
				"refer":    "8G",
			},
		})
	}
	return dr
}

func hostReport() *report.HostReport {
	return &report.HostReport{
		Hostname:        "nas01",
		HostDescription: "FreeBSD 14.0",
		Pools: []report.PoolReport{
			poolReport("tank", "1001", "ONLINE"),
			poolReport("zroot", "1002", "ONLINE"),
		},
		Datasets: []report.DatasetReport{
			datasetReport("tank/data", "daily-1", "daily-2"),
			datasetReport("zroot/ROOT"),
		},
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	in, s := newTestIngester(t)

	res, err := in.Ingest(ctx, hostReport())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !res.Created {
		t.Error("Ingest() Created = false, want true")
	}
	if res.Host.Status != models.StatusHealthy {
		t.Errorf("Status = %v, want %v", res.Host.Status, models.StatusHealthy)
	}
	want := report.Counts{Pools: 2, Vdevs: 8, Datasets: 2, Snapshots: 2}
	if res.Counts != want {
		t.Errorf("Counts = %+v, want %+v", res.Counts, want)
	}

	pools, err := s.Pools(ctx, res.Host.ID)
	if err != nil || len(pools) != 2 {
		t.Fatalf("Pools() = %d, %v, want 2", len(pools), err)
	}
	tree, err := s.VdevTree(ctx, pools[0].ID)
	if err != nil {
		t.Fatalf("VdevTree() error = %v", err)
	}
	if len(tree) != 1 || len(tree[0].Children[0].Children) != 2 {
		t.Errorf("VdevTree() = %v, want tank/mirror-0/{ada0,ada1}", tree)
	}

	d, found, err := s.GetDataset(ctx, models.UniqueID("nas01", "tank/data"))
	if err != nil || !found {
		t.Fatalf("GetDataset() = %v, %v", found, err)
	}
	if len(d.Snapshots) != 2 || d.Snapshots[0].Name != "daily-2" {
		t.Errorf("Snapshots = %v, want newest daily-2 first", d.Snapshots)
	}
}

func TestIngestAgain(t *testing.T) {
	ctx := context.Background()
	in, s := newTestIngester(t)

	if _, err := in.Ingest(ctx, hostReport()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	r := hostReport()
	r.HostDescription = ""
	r.Pools[1] = poolReport("zroot", "1002", "DEGRADED")
	r.Datasets = r.Datasets[:1]
	res, err := in.Ingest(ctx, r)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Created {
		t.Error("Ingest() Created = true, want false")
	}
	if res.Host.Status != models.StatusErrored {
		t.Errorf("Status = %v, want %v", res.Host.Status, models.StatusErrored)
	}
	if res.Host.HostDescription != "FreeBSD 14.0" {
		t.Errorf("HostDescription = %q, want kept value", res.Host.HostDescription)
	}

	datasets, err := s.Datasets(ctx, res.Host.ID)
	if err != nil || len(datasets) != 2 {
		t.Errorf("Datasets() = %d, %v, want 2 kept", len(datasets), err)
	}
	pools, err := s.Pools(ctx, res.Host.ID)
	if err != nil || len(pools) != 2 {
		t.Fatalf("Pools() = %d, %v, want 2", len(pools), err)
	}
	vdevs, err := s.Vdevs(ctx, pools[0].ID)
	if err != nil || len(vdevs) != 4 {
		t.Errorf("Vdevs() = %d, %v, want the tree replaced, not appended", len(vdevs), err)
	}
}

func TestIngestRejectsWholeReport(t *testing.T) {
	ctx := context.Background()
	in, s := newTestIngester(t)

	r := hostReport()
	r.Pools[1].Properties["health"] = "SUSPENDED"
	r.Datasets[0].Properties["compression"] = "brotli"
	r.Datasets = append(r.Datasets, datasetReport("zroot/ROOT"))

	_, err := in.Ingest(ctx, r)
	if !models.IsValidationError(err) {
		t.Fatalf("Ingest() error = %v, want validation error", err)
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("Ingest() returned %d errors, want 3: %v", n, err)
	}

	_, found, err := s.GetHost(ctx, "nas01")
	if err != nil || found {
		t.Errorf("GetHost() = %v, %v, want nothing stored", found, err)
	}
}

func TestIngestRollsBack(t *testing.T) {
	ctx := context.Background()
	in, s := newTestIngester(t)

	if _, err := in.Ingest(ctx, hostReport()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	// a second host claiming tank's guid passes decoding but fails on write
	r := hostReport()
	r.Hostname = "nas02"
	_, err := in.Ingest(ctx, r)
	if !models.IsValidationError(err) {
		t.Fatalf("Ingest() error = %v, want validation error", err)
	}

	_, found, err := s.GetHost(ctx, "nas02")
	if err != nil || found {
		t.Errorf("GetHost(nas02) = %v, %v, want rolled back", found, err)
	}
}

func TestIngestRequiresHostname(t *testing.T) {
	in, _ := newTestIngester(t)
	r := hostReport()
	r.Hostname = ""
	var ve *models.ValidationError
	_, err := in.Ingest(context.Background(), r)
	if !errors.As(err, &ve) || ve.Record != "host" {
		t.Errorf("Ingest() error = %v, want host validation error", err)
	}
}

func TestIngestRejectsBadVdevs(t *testing.T) {
	in, _ := newTestIngester(t)
	r := hostReport()
	r.Pools[0].Vdevs[0].Children[0].Children[1].Name = ""
	r.Pools[0].Vdevs[0].ReadErrors = -1

	_, err := in.Ingest(context.Background(), r)
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Ingest() error = %v, want validation error", err)
	}
	if len(ve.Fields()) != 2 {
		t.Errorf("Fields() = %v, want 2", ve.Fields())
	}
}

func TestIngestPoolAndDataset(t *testing.T) {
	ctx := context.Background()
	in, s := newTestIngester(t)

	if _, _, err := in.IngestPool(ctx, "nas01", poolReport("tank", "1001", "ONLINE")); !errors.Is(err, store.ErrUnknownHost) {
		t.Fatalf("IngestPool() error = %v, want %v", err, store.ErrUnknownHost)
	}

	if _, err := in.Ingest(ctx, &report.HostReport{Hostname: "nas01"}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	pool, created, err := in.IngestPool(ctx, "nas01", poolReport("tank", "1001", "FAULTED"))
	if err != nil || !created {
		t.Fatalf("IngestPool() = %v, %v", created, err)
	}
	if pool.Health != models.HealthFaulted {
		t.Errorf("Health = %v, want %v", pool.Health, models.HealthFaulted)
	}
	host, _, err := s.GetHost(ctx, "nas01")
	if err != nil || host.Status != models.StatusFaulted {
		t.Errorf("host status = %v, %v, want %v", host.Status, err, models.StatusFaulted)
	}

	d, created, err := in.IngestDataset(ctx, "nas01", datasetReport("tank/data", "hourly-1"))
	if err != nil || !created {
		t.Fatalf("IngestDataset() = %v, %v", created, err)
	}
	last, found, err := s.LastSnapshot(ctx, d.ID)
	if err != nil || !found || last.Name != "hourly-1" {
		t.Errorf("LastSnapshot() = %v, %v, %v, want hourly-1", last, found, err)
	}
}
