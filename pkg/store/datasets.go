package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

// SaveDataset upserts a dataset of the named host by dsuniqueid and then
// upserts each snapshot by name. Snapshots not in snaps are kept.
func (s *Store) SaveDataset(ctx context.Context, hostname string, d *models.Dataset, snaps []models.Snapshot) (created bool, err error) {
	err = s.Transaction(ctx, func(tx *Store) error {
		host, err := tx.requireHost(ctx, hostname)
		if err != nil {
			return err
		}

		created, err = tx.saveDataset(ctx, host, d)
		if err != nil {
			return err
		}
		for i := range snaps {
			if _, err := tx.saveSnapshot(ctx, d, &snaps[i]); err != nil {
				return err
			}
		}
		return tx.refreshHost(ctx, host)
	})
	return created, err
}

func (s *Store) saveDataset(ctx context.Context, host *models.Host, d *models.Dataset) (bool, error) {
	d.HostID = host.ID
	if d.DSUniqueID == "" {
		d.DSUniqueID = models.UniqueID(host.Hostname, d.Name)
	}

	existing, found, err := s.findDataset(ctx, d.DSUniqueID)
	if err != nil {
		return false, err
	}
	if found && existing.HostID != host.ID {
		return false, &models.ValidationError{
			Record: "dataset",
			Key:    d.Name,
			Err:    &models.FieldError{Field: "dsuniqueid", Reason: "belongs to another host"},
		}
	}

	d.ID = 0
	if found {
		d.ID = existing.ID
	}
	d.LastUpdate = s.now()
	db := s.db.WithContext(ctx).Omit(clause.Associations)
	if found {
		err = db.Save(d).Error
	} else {
		err = db.Create(d).Error
	}
	if err != nil {
		return false, saveError("dataset", d.Name, "dsuniqueid", err)
	}
	klog.V(1).Infof("Saved %s %s of host %s", d.Type, d.Name, host.Hostname)
	return !found, nil
}

// SaveSnapshot upserts a snapshot of the dataset with the given
// dsuniqueid by snapshot name
func (s *Store) SaveSnapshot(ctx context.Context, dsuniqueid string, snap *models.Snapshot) (created bool, err error) {
	err = s.Transaction(ctx, func(tx *Store) error {
		d, found, err := tx.findDataset(ctx, dsuniqueid)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownDataset, dsuniqueid)
		}
		created, err = tx.saveSnapshot(ctx, d, snap)
		return err
	})
	return created, err
}

func (s *Store) saveSnapshot(ctx context.Context, d *models.Dataset, snap *models.Snapshot) (bool, error) {
	snap.DatasetID = d.ID

	var existing []models.Snapshot
	err := s.db.WithContext(ctx).
		Select("id").
		Where("dataset_id = ? AND name = ?", d.ID, snap.Name).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up snapshot %s@%s: %w", d.Name, snap.Name, err)
	}
	found := len(existing) > 0

	snap.ID = 0
	if found {
		snap.ID = existing[0].ID
	}
	snap.LastUpdate = s.now()
	db := s.db.WithContext(ctx)
	if found {
		err = db.Save(snap).Error
	} else {
		err = db.Create(snap).Error
	}
	if err != nil {
		return false, saveError("snapshot", d.Name+"@"+snap.Name, "name", err)
	}
	return !found, nil
}

// GetDataset looks a dataset up by dsuniqueid and attaches its snapshots,
// most recent first
func (s *Store) GetDataset(ctx context.Context, dsuniqueid string) (*models.Dataset, bool, error) {
	var datasets []models.Dataset
	err := s.db.WithContext(ctx).
		Preload("Snapshots", func(db *gorm.DB) *gorm.DB { return db.Order("creation DESC, id DESC") }).
		Where("dsuniqueid = ?", dsuniqueid).
		Limit(1).
		Find(&datasets).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to get dataset %s: %w", dsuniqueid, err)
	}
	if len(datasets) == 0 {
		return nil, false, nil
	}
	return &datasets[0], true, nil
}

func (s *Store) findDataset(ctx context.Context, dsuniqueid string) (*models.Dataset, bool, error) {
	var datasets []models.Dataset
	err := s.db.WithContext(ctx).Where("dsuniqueid = ?", dsuniqueid).Limit(1).Find(&datasets).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up dataset %s: %w", dsuniqueid, err)
	}
	if len(datasets) == 0 {
		return nil, false, nil
	}
	return &datasets[0], true, nil
}

// Datasets returns the host's datasets by name without snapshots
func (s *Store) Datasets(ctx context.Context, hostID uint) ([]models.Dataset, error) {
	var datasets []models.Dataset
	if err := s.db.WithContext(ctx).Where("host_id = ?", hostID).Order("name").Find(&datasets).Error; err != nil {
		return nil, fmt.Errorf("failed to list datasets of host %d: %w", hostID, err)
	}
	return datasets, nil
}

// Snapshots returns the dataset's snapshots, most recent first
func (s *Store) Snapshots(ctx context.Context, datasetID uint) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("creation DESC, id DESC").
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots of dataset %d: %w", datasetID, err)
	}
	return snaps, nil
}

// LastSnapshot returns the dataset's most recent snapshot. Equal creation
// times go to the higher id.
func (s *Store) LastSnapshot(ctx context.Context, datasetID uint) (*models.Snapshot, bool, error) {
	var snaps []models.Snapshot
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("creation DESC, id DESC").
		Limit(1).
		Find(&snaps).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to get last snapshot of dataset %d: %w", datasetID, err)
	}
	if len(snaps) == 0 {
		return nil, false, nil
	}
	return &snaps[0], true, nil
}

// LastSnapshotTime returns the creation time of the dataset's most recent
// snapshot, or models.SnapshotEpoch when it has none
func (s *Store) LastSnapshotTime(ctx context.Context, datasetID uint) (time.Time, error) {
	snap, found, err := s.LastSnapshot(ctx, datasetID)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return models.SnapshotEpoch, nil
	}
	return snap.Creation, nil
}
