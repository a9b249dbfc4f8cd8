package models

import (
	"time"

	"gorm.io/gorm"
)

// Pool is one ZFS pool's configuration, capacity and health as last
// reported by its host. Tunables are stored as the agent reported them.
type Pool struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	HostID     uint      `gorm:"not null;index" json:"host_id"`
	LastUpdate time.Time `gorm:"column:lastupdate" json:"lastupdate"`

	Name       string `gorm:"size:255;not null" json:"name"`
	DSUniqueID string `gorm:"column:dsuniqueid;size:64;not null;uniqueIndex" json:"dsuniqueid"`
	GUID       string `gorm:"column:guid;size:64;not null;uniqueIndex" json:"guid"`

	// Capacity in bytes; Cap is the percentage allocated
	Size  int64 `gorm:"not null" json:"size"`
	Cap   int64 `gorm:"not null" json:"cap"`
	Free  int64 `gorm:"not null" json:"free"`
	Alloc int64 `gorm:"not null" json:"alloc"`

	Health Health `gorm:"size:16;not null;index" json:"health"`
	State  string `gorm:"size:64" json:"state,omitempty"`
	Scan   string `gorm:"size:255" json:"scan,omitempty"`
	Errors string `gorm:"column:z_errors" json:"errors,omitempty"`

	Altroot    string   `gorm:"size:255" json:"altroot"`
	Version    int64    `json:"version"`
	Bootfs     string   `gorm:"size:255" json:"bootfs,omitempty"`
	Delegation *bool    `json:"delegation,omitempty"`
	Replace    *bool    `json:"autoreplace,omitempty"`
	Cachefile  string   `gorm:"size:255" json:"cachefile"`
	Failmode   FailMode `gorm:"size:16" json:"failmode,omitempty"`
	ListSnaps  bool     `gorm:"column:listsnaps" json:"listsnapshots"`
	Expand     *bool    `json:"autoexpand,omitempty"`
	DedupDitto int64    `gorm:"column:dedupditto" json:"dedupditto"`
	DedupRatio float64  `gorm:"column:dedup" json:"dedupratio"`
	ReadOnly   *bool    `gorm:"column:rdonly" json:"readonly,omitempty"`

	Vdevs []Vdev `gorm:"foreignKey:PoolID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeSave rejects invalid pools at write time
func (p *Pool) BeforeSave(tx *gorm.DB) error {
	return p.Validate()
}

// Validate checks the pool's write-time constraints
func (p *Pool) Validate() error {
	v := &validator{}
	v.required("name", p.Name)
	v.required("dsuniqueid", p.DSUniqueID)
	v.required("guid", p.GUID)
	v.nonNegative("size", p.Size)
	v.nonNegative("free", p.Free)
	v.nonNegative("alloc", p.Alloc)
	v.between("cap", p.Cap, 0, 100)
	v.nonNegative("version", p.Version)
	v.nonNegative("dedupditto", p.DedupDitto)
	if p.DedupRatio < 0 {
		v.fail("dedupratio", "must not be negative")
	}
	checkEnum(v, "health", p.Health, HealthValues, true)
	checkEnum(v, "failmode", p.Failmode, FailModeValues, false)
	return v.result("pool", p.Name)
}

// IsOnline reports whether the pool is fully online
func (p *Pool) IsOnline() bool {
	return p.Health == HealthOnline
}
