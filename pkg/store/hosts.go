package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

// SaveHost creates the host or merges it into the stored one by
// hostname. Non-empty descriptive fields overwrite stored values; the
// status is always recomputed by the host's save hook. On return h holds
// the persisted record without associations.
func (s *Store) SaveHost(ctx context.Context, h *models.Host) (created bool, err error) {
	if h.Hostname == "" {
		return false, &models.ValidationError{
			Record: "host",
			Err:    &models.FieldError{Field: "hostname", Reason: "is required"},
		}
	}

	existing, found, err := s.findHost(ctx, h.Hostname)
	if err != nil {
		return false, err
	}

	db := s.db.WithContext(ctx).Omit(clause.Associations)
	if !found {
		h.ID = 0
		h.LastUpdate = s.now()
		if err := db.Create(h).Error; err != nil {
			return false, saveError("host", h.Hostname, "hostname", err)
		}
		klog.V(1).Infof("Created host %s (status %s)", h.Hostname, h.Status)
		return true, nil
	}

	mergeHost(existing, h)
	existing.LastUpdate = s.now()
	if err := db.Save(existing).Error; err != nil {
		return false, saveError("host", h.Hostname, "hostname", err)
	}
	*h = *existing
	klog.V(1).Infof("Updated host %s (status %s)", h.Hostname, h.Status)
	return false, nil
}

func mergeHost(dst, src *models.Host) {
	if src.HostDescription != "" {
		dst.HostDescription = src.HostDescription
	}
	if src.UserDescription != "" {
		dst.UserDescription = src.UserDescription
	}
	if src.SSHUser != "" {
		dst.SSHUser = src.SSHUser
	}
	if src.SSHKey != "" {
		dst.SSHKey = src.SSHKey
	}
}

// GetHost returns the host with its pools and datasets, both ordered by
// name. Snapshots are not loaded.
func (s *Store) GetHost(ctx context.Context, hostname string) (*models.Host, bool, error) {
	var hosts []models.Host
	err := s.db.WithContext(ctx).
		Preload("Pools", func(db *gorm.DB) *gorm.DB { return db.Order("name") }).
		Preload("Datasets", func(db *gorm.DB) *gorm.DB { return db.Order("name") }).
		Where("hostname = ?", hostname).
		Limit(1).
		Find(&hosts).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to get host %s: %w", hostname, err)
	}
	if len(hosts) == 0 {
		return nil, false, nil
	}
	return &hosts[0], true, nil
}

// Hosts returns every host ordered by hostname
func (s *Store) Hosts(ctx context.Context) ([]models.Host, error) {
	var hosts []models.Host
	if err := s.db.WithContext(ctx).Order("hostname").Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	return hosts, nil
}

// DeleteHost removes the host and everything it owns: pools, vdevs,
// datasets and snapshots. It reports whether the host existed.
func (s *Store) DeleteHost(ctx context.Context, hostname string) (bool, error) {
	deleted := false
	err := s.Transaction(ctx, func(tx *Store) error {
		host, found, err := tx.findHost(ctx, hostname)
		if err != nil || !found {
			return err
		}

		db := tx.db.WithContext(ctx)
		pools := db.Model(&models.Pool{}).Select("id").Where("host_id = ?", host.ID)
		datasets := db.Model(&models.Dataset{}).Select("id").Where("host_id = ?", host.ID)

		steps := []struct {
			what string
			run  func() error
		}{
			{"vdevs", func() error { return db.Where("pool_id IN (?)", pools).Delete(&models.Vdev{}).Error }},
			{"pools", func() error { return db.Where("host_id = ?", host.ID).Delete(&models.Pool{}).Error }},
			{"snapshots", func() error { return db.Where("dataset_id IN (?)", datasets).Delete(&models.Snapshot{}).Error }},
			{"datasets", func() error { return db.Where("host_id = ?", host.ID).Delete(&models.Dataset{}).Error }},
			{"host", func() error { return db.Delete(&models.Host{}, host.ID).Error }},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("failed to delete %s of host %s: %w", step.what, hostname, err)
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		klog.Infof("Deleted host %s", hostname)
	}
	return deleted, nil
}

// RefreshHost stamps the host's lastupdate and saves it, which
// recomputes its status from the stored pools
func (s *Store) RefreshHost(ctx context.Context, hostname string) (*models.Host, error) {
	host, err := s.requireHost(ctx, hostname)
	if err != nil {
		return nil, err
	}
	return host, s.refreshHost(ctx, host)
}

func (s *Store) refreshHost(ctx context.Context, host *models.Host) error {
	previous := host.Status
	host.LastUpdate = s.now()
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(host).Error; err != nil {
		return saveError("host", host.Hostname, "hostname", err)
	}
	if host.Status != previous {
		klog.Infof("Host %s status changed from %s to %s", host.Hostname, previous, host.Status)
	}
	return nil
}

// findHost looks a host up by hostname without associations
func (s *Store) findHost(ctx context.Context, hostname string) (*models.Host, bool, error) {
	var hosts []models.Host
	err := s.db.WithContext(ctx).Where("hostname = ?", hostname).Limit(1).Find(&hosts).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up host %s: %w", hostname, err)
	}
	if len(hosts) == 0 {
		return nil, false, nil
	}
	return &hosts[0], true, nil
}

// requireHost is findHost with a missing host reported as ErrUnknownHost
func (s *Store) requireHost(ctx context.Context, hostname string) (*models.Host, error) {
	host, found, err := s.findHost(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, hostname)
	}
	return host, nil
}
