package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

// SavePool upserts a pool of the named host by dsuniqueid and, when tree
// is not nil, replaces its vdev topology. The host's status is
// recomputed afterwards.
func (s *Store) SavePool(ctx context.Context, hostname string, p *models.Pool, tree []*models.VdevNode) (created bool, err error) {
	err = s.Transaction(ctx, func(tx *Store) error {
		host, err := tx.requireHost(ctx, hostname)
		if err != nil {
			return err
		}

		created, err = tx.savePool(ctx, host, p)
		if err != nil {
			return err
		}
		if tree != nil {
			if err := tx.ReplaceVdevTree(ctx, p.ID, tree); err != nil {
				return err
			}
		}
		return tx.refreshHost(ctx, host)
	})
	return created, err
}

func (s *Store) savePool(ctx context.Context, host *models.Host, p *models.Pool) (bool, error) {
	p.HostID = host.ID
	if p.DSUniqueID == "" {
		p.DSUniqueID = models.UniqueID(host.Hostname, p.Name)
	}

	existing, found, err := s.GetPool(ctx, p.DSUniqueID)
	if err != nil {
		return false, err
	}

	// guid is unique across the fleet; reject it before the database does
	var owners []models.Pool
	err = s.db.WithContext(ctx).
		Select("id", "name", "dsuniqueid").
		Where("guid = ? AND dsuniqueid <> ?", p.GUID, p.DSUniqueID).
		Limit(1).
		Find(&owners).Error
	if err != nil {
		return false, fmt.Errorf("failed to check guid of pool %s: %w", p.Name, err)
	}
	if len(owners) > 0 {
		return false, &models.ValidationError{
			Record: "pool",
			Key:    p.Name,
			Err:    &models.FieldError{Field: "guid", Reason: fmt.Sprintf("already used by pool %s", owners[0].Name)},
		}
	}

	if found && existing.HostID != host.ID {
		return false, &models.ValidationError{
			Record: "pool",
			Key:    p.Name,
			Err:    &models.FieldError{Field: "dsuniqueid", Reason: "belongs to another host"},
		}
	}

	p.ID = 0
	if found {
		p.ID = existing.ID
	}
	p.LastUpdate = s.now()
	db := s.db.WithContext(ctx).Omit(clause.Associations)
	if found {
		err = db.Save(p).Error
	} else {
		err = db.Create(p).Error
	}
	if err != nil {
		return false, saveError("pool", p.Name, "dsuniqueid", err)
	}
	klog.V(1).Infof("Saved pool %s of host %s (health %s)", p.Name, host.Hostname, p.Health)
	return !found, nil
}

// GetPool looks a pool up by dsuniqueid
func (s *Store) GetPool(ctx context.Context, dsuniqueid string) (*models.Pool, bool, error) {
	var pools []models.Pool
	err := s.db.WithContext(ctx).Where("dsuniqueid = ?", dsuniqueid).Limit(1).Find(&pools).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to get pool %s: %w", dsuniqueid, err)
	}
	if len(pools) == 0 {
		return nil, false, nil
	}
	return &pools[0], true, nil
}

// Pools returns the host's pools in stored order
func (s *Store) Pools(ctx context.Context, hostID uint) ([]models.Pool, error) {
	return s.pools(ctx, hostID, "id", "", nil)
}

// UnhealthyPools returns the host's pools that are not online, by name
func (s *Store) UnhealthyPools(ctx context.Context, hostID uint) ([]models.Pool, error) {
	return s.pools(ctx, hostID, "name", "health <> ?", string(models.HealthOnline))
}

// DegradedPools returns the host's degraded pools, by name
func (s *Store) DegradedPools(ctx context.Context, hostID uint) ([]models.Pool, error) {
	return s.pools(ctx, hostID, "name", "health = ?", string(models.HealthDegraded))
}

// FaultedPools returns the host's faulted or unavailable pools, by name
func (s *Store) FaultedPools(ctx context.Context, hostID uint) ([]models.Pool, error) {
	return s.pools(ctx, hostID, "name", "health IN ?", []string{string(models.HealthFaulted), string(models.HealthUnavail)})
}

func (s *Store) pools(ctx context.Context, hostID uint, order, cond string, arg interface{}) ([]models.Pool, error) {
	db := s.db.WithContext(ctx).Where("host_id = ?", hostID)
	if cond != "" {
		db = db.Where(cond, arg)
	}
	var pools []models.Pool
	if err := db.Order(order).Find(&pools).Error; err != nil {
		return nil, fmt.Errorf("failed to list pools of host %d: %w", hostID, err)
	}
	return pools, nil
}

// ReplaceVdevTree deletes the pool's vdevs and inserts roots and their
// descendants, parents first. Ids and parent links of the given nodes
// are assigned by the insert.
func (s *Store) ReplaceVdevTree(ctx context.Context, poolID uint, roots []*models.VdevNode) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Where("pool_id = ?", poolID).Delete(&models.Vdev{}).Error; err != nil {
			return fmt.Errorf("failed to clear vdevs of pool %d: %w", poolID, err)
		}
		now := tx.now()
		var insert func(node *models.VdevNode, parent *uint) error
		insert = func(node *models.VdevNode, parent *uint) error {
			node.ID = 0
			node.PoolID = poolID
			node.ParentID = parent
			node.LastUpdate = now
			if err := tx.db.WithContext(ctx).Omit(clause.Associations).Create(&node.Vdev).Error; err != nil {
				return saveError("vdev", node.Name, "name", err)
			}
			id := node.ID
			for _, child := range node.Children {
				if err := insert(child, &id); err != nil {
					return err
				}
			}
			return nil
		}
		for _, root := range roots {
			if err := insert(root, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddVdev inserts a single vdev. Its pool must exist and its parent, if
// any, must belong to the same pool.
func (s *Store) AddVdev(ctx context.Context, v *models.Vdev) error {
	var pools []models.Pool
	if err := s.db.WithContext(ctx).Select("id").Where("id = ?", v.PoolID).Limit(1).Find(&pools).Error; err != nil {
		return fmt.Errorf("failed to look up pool %d: %w", v.PoolID, err)
	}
	if len(pools) == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownPool, v.PoolID)
	}

	if v.ParentID != nil {
		var parents []models.Vdev
		err := s.db.WithContext(ctx).
			Select("id").
			Where("id = ? AND pool_id = ?", *v.ParentID, v.PoolID).
			Limit(1).
			Find(&parents).Error
		if err != nil {
			return fmt.Errorf("failed to look up parent vdev %d: %w", *v.ParentID, err)
		}
		if len(parents) == 0 {
			return fmt.Errorf("%w: %d in pool %d", ErrUnknownParent, *v.ParentID, v.PoolID)
		}
	}

	v.ID = 0
	v.LastUpdate = s.now()
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(v).Error; err != nil {
		return saveError("vdev", v.Name, "name", err)
	}
	return nil
}

// DeleteVdev removes the vdev with the given id and its whole subtree.
// It reports whether the vdev existed.
func (s *Store) DeleteVdev(ctx context.Context, id uint) (bool, error) {
	deleted := false
	err := s.Transaction(ctx, func(tx *Store) error {
		db := tx.db.WithContext(ctx)

		var roots []uint
		if err := db.Model(&models.Vdev{}).Where("id = ?", id).Pluck("id", &roots).Error; err != nil {
			return fmt.Errorf("failed to look up vdev %d: %w", id, err)
		}
		if len(roots) == 0 {
			return nil
		}

		ids := roots
		frontier := roots
		for len(frontier) > 0 {
			var children []uint
			if err := db.Model(&models.Vdev{}).Where("parent_id IN ?", frontier).Pluck("id", &children).Error; err != nil {
				return fmt.Errorf("failed to walk subtree of vdev %d: %w", id, err)
			}
			ids = append(ids, children...)
			frontier = children
		}

		if err := db.Where("id IN ?", ids).Delete(&models.Vdev{}).Error; err != nil {
			return fmt.Errorf("failed to delete vdev %d: %w", id, err)
		}
		klog.V(1).Infof("Deleted vdev %d and %d descendants", id, len(ids)-1)
		deleted = true
		return nil
	})
	return deleted, err
}

// Vdevs returns the pool's vdev records in stored order
func (s *Store) Vdevs(ctx context.Context, poolID uint) ([]models.Vdev, error) {
	var vdevs []models.Vdev
	if err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Order("id").Find(&vdevs).Error; err != nil {
		return nil, fmt.Errorf("failed to list vdevs of pool %d: %w", poolID, err)
	}
	return vdevs, nil
}

// VdevTree returns the pool's vdevs linked into a forest
func (s *Store) VdevTree(ctx context.Context, poolID uint) ([]*models.VdevNode, error) {
	vdevs, err := s.Vdevs(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return models.BuildVdevForest(vdevs)
}
