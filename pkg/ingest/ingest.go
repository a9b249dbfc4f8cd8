// Package ingest turns agent reports into stored records. A report is
// decoded and validated in full before anything is written, then written
// in one transaction.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
	"github.com/runningman84/zfs-monitor/pkg/parser"
	"github.com/runningman84/zfs-monitor/pkg/report"
	"github.com/runningman84/zfs-monitor/pkg/store"
)

// Ingester writes reports to a store
type Ingester struct {
	store *store.Store
}

// New creates an Ingester writing to s
func New(s *store.Store) *Ingester {
	return &Ingester{store: s}
}

// Result describes a stored report
type Result struct {
	// Created is true when the report created the host
	Created bool         `json:"created"`
	Host    *models.Host `json:"host"`
	report.Counts
}

type decodedPool struct {
	pool *models.Pool
	tree []*models.VdevNode
}

type decodedDataset struct {
	dataset *models.Dataset
	snaps   []models.Snapshot
}

type decoded struct {
	host     *models.Host
	pools    []decodedPool
	datasets []decodedDataset
}

// decode converts the whole report. All validation errors are returned
// together.
func decode(r *report.HostReport) (*decoded, error) {
	var errs error
	out := &decoded{host: r.Host()}
	if r.Hostname == "" {
		errs = multierr.Append(errs, &models.ValidationError{
			Record: "host",
			Err:    &models.FieldError{Field: "hostname", Reason: "is required"},
		})
	} else if len(r.Hostname) > 255 {
		errs = multierr.Append(errs, &models.ValidationError{
			Record: "host",
			Key:    r.Hostname,
			Err:    &models.FieldError{Field: "hostname", Reason: "must be at most 255 characters"},
		})
	}

	seen := make(map[string]bool)
	for _, pr := range r.Pools {
		pool, err := parser.DecodePool(r.Hostname, pr)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if seen["pool/"+pool.Name] {
			errs = multierr.Append(errs, duplicate("pool", pool.Name))
			continue
		}
		seen["pool/"+pool.Name] = true
		if err := validateTree(pool.Name, pr.Vdevs); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out.pools = append(out.pools, decodedPool{pool: pool, tree: report.Tree(pr.Vdevs)})
	}

	for _, dr := range r.Datasets {
		d, snaps, err := parser.DecodeDataset(r.Hostname, dr)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if seen["dataset/"+d.Name] {
			errs = multierr.Append(errs, duplicate("dataset", d.Name))
			continue
		}
		seen["dataset/"+d.Name] = true
		out.datasets = append(out.datasets, decodedDataset{dataset: d, snaps: snaps})
	}

	if errs != nil {
		return nil, errs
	}
	return out, nil
}

func duplicate(record, name string) error {
	return &models.ValidationError{
		Record: record,
		Key:    name,
		Err:    &models.FieldError{Field: "name", Reason: "reported more than once"},
	}
}

// validateTree checks reported vdevs before they are linked to a pool
func validateTree(pool string, vdevs []report.VdevReport) error {
	var errs error
	var walk func(path string, vdevs []report.VdevReport)
	walk = func(path string, vdevs []report.VdevReport) {
		for _, v := range vdevs {
			key := path + "/" + v.Name
			if v.Name == "" {
				errs = multierr.Append(errs, &models.FieldError{Field: "vdevs", Reason: fmt.Sprintf("vdev without name under %s", path)})
			}
			if v.ReadErrors < 0 || v.WriteErrors < 0 || v.ChecksumErrors < 0 {
				errs = multierr.Append(errs, &models.FieldError{Field: "vdevs", Reason: fmt.Sprintf("negative error counter on %s", key)})
			}
			walk(key, v.Children)
		}
	}
	walk(pool, vdevs)
	if errs != nil {
		return &models.ValidationError{Record: "pool", Key: pool, Err: errs}
	}
	return nil
}

// Ingest stores a host report. Pools and datasets the host no longer
// reports are kept.
func (i *Ingester) Ingest(ctx context.Context, r *report.HostReport) (*Result, error) {
	d, err := decode(r)
	if err != nil {
		return nil, err
	}

	result := &Result{Counts: r.Counts()}
	err = i.store.Transaction(ctx, func(tx *store.Store) error {
		created, err := tx.SaveHost(ctx, d.host)
		if err != nil {
			return err
		}
		result.Created = created

		for _, p := range d.pools {
			if _, err := tx.SavePool(ctx, r.Hostname, p.pool, p.tree); err != nil {
				return err
			}
		}
		for _, ds := range d.datasets {
			if _, err := tx.SaveDataset(ctx, r.Hostname, ds.dataset, ds.snaps); err != nil {
				return err
			}
		}

		host, err := tx.RefreshHost(ctx, r.Hostname)
		if err != nil {
			return err
		}
		result.Host = host
		return nil
	})
	if err != nil {
		return nil, err
	}

	klog.Infof("Stored report from %s: %d pools, %d vdevs, %d datasets, %d snapshots (status %s)",
		r.Hostname, result.Pools, result.Vdevs, result.Datasets, result.Snapshots, result.Host.Status)
	return result, nil
}

// IngestPool stores one pool of an existing host
func (i *Ingester) IngestPool(ctx context.Context, hostname string, pr report.PoolReport) (*models.Pool, bool, error) {
	pool, err := parser.DecodePool(hostname, pr)
	if err != nil {
		return nil, false, err
	}
	if err := validateTree(pool.Name, pr.Vdevs); err != nil {
		return nil, false, err
	}
	created, err := i.store.SavePool(ctx, hostname, pool, report.Tree(pr.Vdevs))
	if err != nil {
		return nil, false, err
	}
	klog.V(1).Infof("Stored pool %s of %s", pool.Name, hostname)
	return pool, created, nil
}

// IngestDataset stores one dataset of an existing host with the snapshots
// reported for it
func (i *Ingester) IngestDataset(ctx context.Context, hostname string, dr report.DatasetReport) (*models.Dataset, bool, error) {
	d, snaps, err := parser.DecodeDataset(hostname, dr)
	if err != nil {
		return nil, false, err
	}
	created, err := i.store.SaveDataset(ctx, hostname, d, snaps)
	if err != nil {
		return nil, false, err
	}
	klog.V(1).Infof("Stored dataset %s of %s with %d snapshots", d.Name, hostname, len(snaps))
	return d, created, nil
}
