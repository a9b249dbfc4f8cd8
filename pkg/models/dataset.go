package models

import (
	"time"

	"gorm.io/gorm"
)

// DatasetProperties is the property set shared by datasets and their
// snapshots. Pointer fields are properties zfs may print as "-".
type DatasetProperties struct {
	Type     DatasetType `gorm:"size:16;not null" json:"type"`
	Creation time.Time   `gorm:"not null" json:"creation"`

	Used          int64 `gorm:"not null" json:"used"`
	Avail         int64 `gorm:"not null" json:"avail"`
	Refer         int64 `gorm:"not null" json:"refer"`
	UsedSnap      int64 `gorm:"column:usedsnap;not null" json:"usedsnap"`
	UsedDS        int64 `gorm:"column:usedds;not null" json:"usedds"`
	UsedChild     int64 `gorm:"column:usedchild;not null" json:"usedchild"`
	UsedRefreserv int64 `gorm:"column:usedrefreserv;not null" json:"usedrefreserv"`

	Volsize   *int64 `json:"volsize,omitempty"`
	Quota     *int64 `json:"quota,omitempty"`
	Reserv    *int64 `json:"reserv,omitempty"`
	Volblock  *int64 `json:"volblock,omitempty"`
	Recsize   *int64 `json:"recsize,omitempty"`
	Refquota  *int64 `json:"refquota,omitempty"`
	Refreserv *int64 `json:"refreserv,omitempty"`
	Version   *int64 `json:"version,omitempty"`
	UserRefs  *int64 `gorm:"column:userrefs" json:"userrefs,omitempty"`

	Ratio    float64 `json:"ratio"`
	Mounted  bool    `gorm:"not null" json:"mounted"`
	Origin   string  `gorm:"size:255" json:"origin"`
	ShareNFS string  `gorm:"column:sharenfs;size:2048" json:"sharenfs,omitempty"`
	MLSLabel string  `gorm:"column:mlslabel;size:255" json:"mlslabel,omitempty"`

	Compress       Compression   `gorm:"size:16;not null" json:"compress"`
	Snapdir        SnapDir       `gorm:"size:16" json:"snapdir,omitempty"`
	ACLInherit     ACLInherit    `gorm:"column:aclinherit;size:16" json:"aclinherit,omitempty"`
	Canmount       CanMount      `gorm:"size:16" json:"canmount,omitempty"`
	Normalization  Normalization `gorm:"size:16" json:"normalization,omitempty"`
	Case           Case          `gorm:"column:casesensitivity;size:16" json:"case,omitempty"`
	PrimaryCache   CachePolicy   `gorm:"column:primarycache;size:16" json:"primarycache,omitempty"`
	SecondaryCache CachePolicy   `gorm:"column:secondarycache;size:16" json:"secondarycache,omitempty"`
	Sync           SyncPolicy    `gorm:"size:16" json:"sync,omitempty"`

	Crypt             Crypt       `gorm:"size:16" json:"crypt,omitempty"`
	KeySourceFormat   KeyFormat   `gorm:"column:keysourceformat;size:16" json:"keysourceformat,omitempty"`
	KeySourceLocation KeyLocation `gorm:"column:keysourcelocation;size:16" json:"keysourcelocation,omitempty"`
	KeyStatus         KeyStatus   `gorm:"column:keystatus;size:16" json:"keystatus,omitempty"`
	RekeyDate         *time.Time  `gorm:"column:rekeydate" json:"rekeydate,omitempty"`

	Atime        *bool `json:"atime,omitempty"`
	Devices      *bool `json:"devices,omitempty"`
	Exec         *bool `json:"exec,omitempty"`
	Setuid       *bool `json:"setuid,omitempty"`
	ReadOnly     *bool `gorm:"column:rdonly" json:"readonly,omitempty"`
	Zoned        *bool `json:"zoned,omitempty"`
	Xattr        *bool `json:"xattr,omitempty"`
	UTF8Only     *bool `gorm:"column:utf8only" json:"utf8only,omitempty"`
	Vscan        *bool `json:"vscan,omitempty"`
	Nbmand       *bool `json:"nbmand,omitempty"`
	ShareSMB     *bool `gorm:"column:sharesmb" json:"sharesmb,omitempty"`
	DeferDestroy *bool `gorm:"column:defer_destroy" json:"defer_destroy,omitempty"`
	Rstchown     *bool `json:"rstchown,omitempty"`

	CaimanInstall string `gorm:"column:caimaninstall;size:255" json:"caimaninstall,omitempty"`
	LibbeUUID     string `gorm:"column:libbeuuid;size:255" json:"libbeuuid,omitempty"`
}

func (p *DatasetProperties) validate(v *validator) {
	checkEnum(v, "type", p.Type, DatasetTypeValues, true)
	if p.Creation.IsZero() {
		v.fail("creation", "is required")
	}
	v.nonNegative("used", p.Used)
	v.nonNegative("avail", p.Avail)
	v.nonNegative("refer", p.Refer)
	v.nonNegative("usedsnap", p.UsedSnap)
	v.nonNegative("usedds", p.UsedDS)
	v.nonNegative("usedchild", p.UsedChild)
	v.nonNegative("usedrefreserv", p.UsedRefreserv)
	v.optNonNegative("volsize", p.Volsize)
	v.optNonNegative("quota", p.Quota)
	v.optNonNegative("reserv", p.Reserv)
	v.optNonNegative("volblock", p.Volblock)
	v.optNonNegative("recsize", p.Recsize)
	v.optNonNegative("refquota", p.Refquota)
	v.optNonNegative("refreserv", p.Refreserv)
	v.optNonNegative("userrefs", p.UserRefs)
	if p.Version != nil && *p.Version < 1 {
		v.fail("version", "must be at least 1")
	}
	if p.Ratio < 0 {
		v.fail("ratio", "must not be negative")
	}

	checkEnum(v, "compress", p.Compress, CompressionValues, true)
	checkEnum(v, "snapdir", p.Snapdir, SnapDirValues, false)
	checkEnum(v, "aclinherit", p.ACLInherit, ACLInheritValues, false)
	checkEnum(v, "canmount", p.Canmount, CanMountValues, false)
	checkEnum(v, "normalization", p.Normalization, NormalizationValues, false)
	checkEnum(v, "case", p.Case, CaseValues, false)
	checkEnum(v, "primarycache", p.PrimaryCache, CachePolicyValues, false)
	checkEnum(v, "secondarycache", p.SecondaryCache, CachePolicyValues, false)
	checkEnum(v, "sync", p.Sync, SyncPolicyValues, false)
	checkEnum(v, "crypt", p.Crypt, CryptValues, false)
	checkEnum(v, "keysourceformat", p.KeySourceFormat, KeyFormatValues, false)
	checkEnum(v, "keysourcelocation", p.KeySourceLocation, KeyLocationValues, false)
	checkEnum(v, "keystatus", p.KeyStatus, KeyStatusValues, false)
}

// Dataset is one filesystem or volume of a host
type Dataset struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	HostID     uint      `gorm:"not null;index" json:"host_id"`
	LastUpdate time.Time `gorm:"column:lastupdate" json:"lastupdate"`

	Name       string `gorm:"size:255;not null" json:"name"`
	DSUniqueID string `gorm:"column:dsuniqueid;size:64;not null;uniqueIndex" json:"dsuniqueid"`

	DatasetProperties `gorm:"embedded"`

	// Structural properties, required on datasets
	Mountpoint string   `gorm:"size:255;not null" json:"mountpoint"`
	Copies     int64    `gorm:"not null" json:"copies"`
	Checksum   Checksum `gorm:"size:16;not null" json:"checksum"`
	LogBias    LogBias  `gorm:"column:logbias;size:16;not null" json:"logbias"`
	Dedup      Dedup    `gorm:"size:16;not null" json:"dedup"`

	Snapshots []Snapshot `gorm:"foreignKey:DatasetID;constraint:OnDelete:CASCADE" json:"snapshots,omitempty"`
}

// BeforeSave rejects invalid datasets at write time
func (d *Dataset) BeforeSave(tx *gorm.DB) error {
	return d.Validate()
}

// Validate checks the dataset's write-time constraints
func (d *Dataset) Validate() error {
	v := &validator{}
	v.required("name", d.Name)
	v.required("dsuniqueid", d.DSUniqueID)
	d.DatasetProperties.validate(v)
	v.required("mountpoint", d.Mountpoint)
	v.between("copies", d.Copies, 1, 3)
	checkEnum(v, "checksum", d.Checksum, ChecksumValues, true)
	checkEnum(v, "logbias", d.LogBias, LogBiasValues, true)
	checkEnum(v, "dedup", d.Dedup, DedupValues, true)
	return v.result("dataset", d.Name)
}

// IsFS reports whether the dataset is a filesystem
func (d *Dataset) IsFS() bool {
	return d.Type == TypeFilesystem
}

// IsVol reports whether the dataset is a volume
func (d *Dataset) IsVol() bool {
	return d.Type == TypeVolume
}

// IsSnap reports whether the dataset is a snapshot
func (d *Dataset) IsSnap() bool {
	return d.Type == TypeSnapshot
}

// IsMounted is true only for mounted filesystems
func (d *Dataset) IsMounted() bool {
	return d.Type == TypeFilesystem && d.Mounted
}

// SnapshotEpoch is returned as the last snapshot time of a dataset
// without snapshots
var SnapshotEpoch = time.Unix(0, 0).UTC()

// LastSnapshot returns the attached snapshot with the latest creation
// time, or nil. Ties go to the higher id.
func (d *Dataset) LastSnapshot() *Snapshot {
	var last *Snapshot
	for i := range d.Snapshots {
		s := &d.Snapshots[i]
		if last == nil || s.Creation.After(last.Creation) ||
			(s.Creation.Equal(last.Creation) && s.ID > last.ID) {
			last = s
		}
	}
	return last
}

// LastSnapshotTime returns the creation time of LastSnapshot, or
// SnapshotEpoch when there are no snapshots
func (d *Dataset) LastSnapshotTime() time.Time {
	if last := d.LastSnapshot(); last != nil {
		return last.Creation
	}
	return SnapshotEpoch
}

// Snapshot is a dataset's state captured when the snapshot was taken.
// Structural properties that do not apply to every snapshot are optional.
type Snapshot struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DatasetID  uint      `gorm:"not null;uniqueIndex:idx_snapshot_dataset_name" json:"dataset_id"`
	LastUpdate time.Time `gorm:"column:lastupdate" json:"lastupdate"`

	Name string `gorm:"size:255;not null;uniqueIndex:idx_snapshot_dataset_name" json:"name"`

	DatasetProperties `gorm:"embedded"`

	Mountpoint *string   `gorm:"size:255" json:"mountpoint,omitempty"`
	Copies     *int64    `json:"copies,omitempty"`
	Checksum   *Checksum `gorm:"size:16" json:"checksum,omitempty"`
	LogBias    *LogBias  `gorm:"column:logbias;size:16" json:"logbias,omitempty"`
	Dedup      *Dedup    `gorm:"size:16" json:"dedup,omitempty"`
}

// BeforeSave rejects invalid snapshots at write time
func (s *Snapshot) BeforeSave(tx *gorm.DB) error {
	return s.Validate()
}

// Validate checks the snapshot's write-time constraints
func (s *Snapshot) Validate() error {
	v := &validator{}
	v.required("name", s.Name)
	s.DatasetProperties.validate(v)
	if s.Copies != nil {
		v.between("copies", *s.Copies, 1, 3)
	}
	if s.Checksum != nil {
		checkEnum(v, "checksum", *s.Checksum, ChecksumValues, false)
	}
	if s.LogBias != nil {
		checkEnum(v, "logbias", *s.LogBias, LogBiasValues, false)
	}
	if s.Dedup != nil {
		checkEnum(v, "dedup", *s.Dedup, DedupValues, false)
	}
	return v.result("snapshot", s.Name)
}
