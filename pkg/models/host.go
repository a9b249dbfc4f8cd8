package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Host is a monitored machine. Status is derived from its pools and is
// recomputed before every save.
type Host struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Hostname        string     `gorm:"size:255;not null;uniqueIndex" json:"hostname"`
	HostDescription string     `gorm:"column:hostdescription;type:text" json:"hostdescription,omitempty"`
	UserDescription string     `gorm:"column:userdescription;type:text" json:"userdescription,omitempty"`
	LastUpdate      time.Time  `gorm:"column:lastupdate;index" json:"lastupdate"`
	SSHUser         string     `gorm:"column:ssh_user;size:255" json:"ssh_user,omitempty"`
	SSHKey          string     `gorm:"column:ssh_key;type:text" json:"-"`
	Status          HostStatus `gorm:"size:16;not null;index" json:"status"`
	Pools           []Pool     `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"pools,omitempty"`
	Datasets        []Dataset  `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"datasets,omitempty"`
}

// RollupHealth derives a host status from its pools in the given order.
// The first pool that is not online decides: degraded means errored,
// anything else means faulted. A later, worse pool does not change the
// result.
func RollupHealth(pools []Pool) HostStatus {
	for i := range pools {
		if pools[i].IsOnline() {
			continue
		}
		if pools[i].Health == HealthDegraded {
			return StatusErrored
		}
		return StatusFaulted
	}
	return StatusHealthy
}

// CheckHealth recomputes Status from the attached pools
func (h *Host) CheckHealth() {
	h.Status = RollupHealth(h.Pools)
}

// BeforeSave recomputes the status from the host's persisted pools, in
// stored order, then validates the host. A host that was never
// persisted uses its attached pools.
func (h *Host) BeforeSave(tx *gorm.DB) error {
	if h.ID == 0 {
		h.CheckHealth()
		return h.Validate()
	}

	var pools []Pool
	err := tx.Session(&gorm.Session{NewDB: true}).
		Select("id", "name", "health").
		Where("host_id = ?", h.ID).
		Order("id").
		Find(&pools).Error
	if err != nil {
		return fmt.Errorf("failed to load pools of host %s: %w", h.Hostname, err)
	}
	h.Status = RollupHealth(pools)
	return h.Validate()
}

// Validate checks the host's write-time constraints
func (h *Host) Validate() error {
	v := &validator{}
	v.required("hostname", h.Hostname)
	if len(h.Hostname) > 255 {
		v.fail("hostname", "must be at most 255 characters")
	}
	checkEnum(v, "status", h.Status, HostStatusValues, true)
	return v.result("host", h.Hostname)
}

// UniqueID returns the dsuniqueid for a pool or dataset: the hex SHA-1
// of the hostname followed by the resource name.
func UniqueID(hostname, name string) string {
	sum := sha1.Sum([]byte(hostname + name))
	return hex.EncodeToString(sum[:])
}
