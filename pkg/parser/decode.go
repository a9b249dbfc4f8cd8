package parser

import (
	"strings"

	"github.com/runningman84/zfs-monitor/pkg/models"
	"github.com/runningman84/zfs-monitor/pkg/report"
)

// DecodePool converts a reported pool into a pool record of the host.
// All property errors are returned together as a *models.ValidationError.
func DecodePool(hostname string, r report.PoolReport) (*models.Pool, error) {
	p := newProps(r.Properties, poolAliases)
	name := r.Name
	if name == "" {
		name = p.optStr("name")
	}

	pool := &models.Pool{
		Name:       name,
		DSUniqueID: models.UniqueID(hostname, name),
		GUID:       p.optStr("guid"),
		Size:       p.size("size"),
		Cap:        p.integer("cap", 0),
		Free:       p.size("free"),
		Alloc:      p.size("alloc"),
		State:      p.optStr("state"),
		Scan:       p.optStr("scan"),
		Errors:     p.optStr("errors"),
		Altroot:    p.str("altroot", "-"),
		Version:    p.integer("version", 0),
		Bootfs:     p.optStr("bootfs"),
		Delegation: p.optBool("delegation"),
		Replace:    p.optBool("replace"),
		Cachefile:  p.str("cachefile", "-"),
		Failmode:   enum(p, "failmode", models.FailModeValues, ""),
		ListSnaps:  p.boolean("listsnaps"),
		Expand:     p.optBool("expand"),
		DedupDitto: p.integer("dedupditto", 0),
		DedupRatio: p.ratio("dedup", 1.0),
		ReadOnly:   p.optBool("rdonly"),
	}

	if v, ok := p.lookup("health"); ok {
		health, err := models.ParseHealth(v)
		if err != nil {
			p.fail("health", "%v", err)
		}
		pool.Health = health
	} else {
		p.fail("health", "is required")
	}
	if pool.GUID == "" {
		p.fail("guid", "is required")
	}
	if name == "" {
		p.fail("name", "is required")
	}

	if p.err != nil {
		return nil, &models.ValidationError{Record: "pool", Key: name, Err: p.err}
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return pool, nil
}

// DecodeDataset converts a reported filesystem or volume into a dataset
// record of the host, together with its decoded snapshots
func DecodeDataset(hostname string, r report.DatasetReport) (*models.Dataset, []models.Snapshot, error) {
	p := newProps(r.Properties, datasetAliases)
	name := r.Name
	if name == "" {
		name = p.optStr("name")
	}

	d := &models.Dataset{
		Name:              name,
		DSUniqueID:        models.UniqueID(hostname, name),
		DatasetProperties: decodeProperties(p),
		Mountpoint:        noneIfUnset(p.optStr("mountpoint")),
		Copies:            p.integer("copies", 1),
		Checksum:          enum(p, "checksum", models.ChecksumValues, models.ChecksumAuto),
		LogBias:           enum(p, "logbias", models.LogBiasValues, models.LogBiasLatency),
		Dedup:             enum(p, "dedup", models.DedupValues, models.DedupOff),
	}
	if name == "" {
		p.fail("name", "is required")
	}
	if p.err != nil {
		return nil, nil, &models.ValidationError{Record: "dataset", Key: name, Err: p.err}
	}
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	snaps := make([]models.Snapshot, 0, len(r.Snapshots))
	for _, sr := range r.Snapshots {
		s, err := DecodeSnapshot(sr)
		if err != nil {
			return nil, nil, err
		}
		snaps = append(snaps, *s)
	}
	return d, snaps, nil
}

// DecodeSnapshot converts a reported snapshot. A full "dataset@snap" name
// is reduced to the part after the @.
func DecodeSnapshot(r report.SnapshotReport) (*models.Snapshot, error) {
	p := newProps(r.Properties, datasetAliases)
	name := r.Name
	if name == "" {
		name = p.optStr("name")
	}
	if i := strings.LastIndex(name, "@"); i >= 0 {
		name = name[i+1:]
	}

	dp := decodeProperties(p)
	if _, ok := p.lookup("type"); !ok {
		dp.Type = models.TypeSnapshot
	}
	s := &models.Snapshot{
		Name:              name,
		DatasetProperties: dp,
		Copies:            p.optInteger("copies"),
		Checksum:          optEnum(p, "checksum", models.ChecksumValues),
		LogBias:           optEnum(p, "logbias", models.LogBiasValues),
		Dedup:             optEnum(p, "dedup", models.DedupValues),
	}
	if mp, ok := p.lookup("mountpoint"); ok {
		s.Mountpoint = &mp
	}
	if name == "" {
		p.fail("name", "is required")
	}
	if p.err != nil {
		return nil, &models.ValidationError{Record: "snapshot", Key: name, Err: p.err}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// decodeProperties decodes the property set shared by datasets and
// snapshots. Errors accumulate in p.
func decodeProperties(p *props) models.DatasetProperties {
	dp := models.DatasetProperties{
		Type:     enum(p, "type", models.DatasetTypeValues, ""),
		Creation: p.timestamp("creation"),

		Used:          p.size("used"),
		Avail:         sizeOrZero(p, "avail"),
		Refer:         p.size("refer"),
		UsedSnap:      sizeOrZero(p, "usedsnap"),
		UsedDS:        sizeOrZero(p, "usedds"),
		UsedChild:     sizeOrZero(p, "usedchild"),
		UsedRefreserv: sizeOrZero(p, "usedrefreserv"),

		Volsize:   p.optSize("volsize"),
		Quota:     p.optSize("quota"),
		Reserv:    p.optSize("reserv"),
		Volblock:  p.optSize("volblock"),
		Recsize:   p.optSize("recsize"),
		Refquota:  p.optSize("refquota"),
		Refreserv: p.optSize("refreserv"),
		Version:   p.optInteger("version"),
		UserRefs:  p.optInteger("userrefs"),

		Ratio:    p.ratio("ratio", 1.0),
		Mounted:  p.boolean("mounted"),
		Origin:   p.str("origin", "-"),
		ShareNFS: p.optStr("sharenfs"),
		MLSLabel: p.optStr("mlslabel"),

		Compress:       enum(p, "compress", models.CompressionValues, models.CompressOff),
		Snapdir:        enum(p, "snapdir", models.SnapDirValues, models.SnapDirNA),
		ACLInherit:     enum(p, "aclinherit", models.ACLInheritValues, models.ACLNA),
		Canmount:       enum(p, "canmount", models.CanMountValues, ""),
		Normalization:  enum(p, "normalization", models.NormalizationValues, ""),
		Case:           enum(p, "case", models.CaseValues, ""),
		PrimaryCache:   enum(p, "primarycache", models.CachePolicyValues, ""),
		SecondaryCache: enum(p, "secondarycache", models.CachePolicyValues, ""),
		Sync:           enum(p, "sync", models.SyncPolicyValues, ""),

		KeyStatus: enum(p, "keystatus", models.KeyStatusValues, ""),
		RekeyDate: p.optTimestamp("rekeydate"),

		Atime:        p.optBool("atime"),
		Devices:      p.optBool("devices"),
		Exec:         p.optBool("exec"),
		Setuid:       p.optBool("setuid"),
		ReadOnly:     p.optBool("rdonly"),
		Zoned:        p.optBool("zoned"),
		Xattr:        p.optBool("xattr"),
		UTF8Only:     p.optBool("utf8only"),
		Vscan:        p.optBool("vscan"),
		Nbmand:       p.optBool("nbmand"),
		ShareSMB:     optShare(p, "sharesmb"),
		DeferDestroy: p.optBool("defer_destroy"),
		Rstchown:     p.optBool("rstchown"),

		CaimanInstall: p.optStr("caimaninstall"),
		LibbeUUID:     p.optStr("libbeuuid"),
	}
	if dp.Atime == nil {
		atime := true
		dp.Atime = &atime
	}
	decodeEncryption(p, &dp)
	return dp
}

func noneIfUnset(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// sizeOrZero decodes a size that zfs may omit for snapshots and volumes
func sizeOrZero(p *props, key string) int64 {
	if _, ok := p.lookup(key); !ok {
		return 0
	}
	return p.size(key)
}

// optShare decodes sharesmb and similar properties that hold either
// on/off or share options; any options mean the share is on
func optShare(p *props, key string) *bool {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	b, err := ParseBool(v)
	if err != nil {
		b = true
	}
	return &b
}

// decodeEncryption handles both the Solaris keysource property
// ("format,location") and the OpenZFS keyformat/keylocation pair
func decodeEncryption(p *props, dp *models.DatasetProperties) {
	if v, ok := p.lookup("crypt"); ok && strings.EqualFold(v, "on") {
		dp.Crypt = models.CryptAES128CCM
	} else {
		dp.Crypt = enum(p, "crypt", models.CryptValues, "")
	}

	format := p.optStr("keysourceformat")
	location := p.optStr("keysourcelocation")
	if ks, ok := p.lookup("keysource"); ok {
		f, l, _ := strings.Cut(ks, ",")
		format, location = f, l
	}
	if strings.HasPrefix(location, "file://") {
		location = string(models.KeyLocationFile)
	}

	if format != "" {
		kf, err := models.ParseEnum("keysourceformat", format, models.KeyFormatValues)
		if err != nil {
			p.fail("keysourceformat", "%v", err)
		}
		dp.KeySourceFormat = kf
	}
	if location != "" {
		kl, err := models.ParseEnum("keysourcelocation", location, models.KeyLocationValues)
		if err != nil {
			p.fail("keysourcelocation", "%v", err)
		}
		dp.KeySourceLocation = kl
	}
}
