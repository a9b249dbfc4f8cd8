package models

import (
	"fmt"
	"strings"
)

// Health is the health of a pool as reported by zpool
type Health string

const (
	HealthOnline   Health = "online"
	HealthDegraded Health = "degraded"
	HealthFaulted  Health = "faulted"
	HealthUnavail  Health = "unavail"
)

// HealthValues lists every recognized pool health
var HealthValues = []Health{HealthOnline, HealthDegraded, HealthFaulted, HealthUnavail}

// HostStatus is the rolled up status of a host, derived from its pools
type HostStatus string

const (
	StatusHealthy HostStatus = "healthy"
	StatusErrored HostStatus = "errored"
	StatusFaulted HostStatus = "faulted"
)

// HostStatusValues lists every host status, least severe first
var HostStatusValues = []HostStatus{StatusHealthy, StatusErrored, StatusFaulted}

// Rank orders host statuses by severity. Queries that sort by status
// descending put faulted hosts first.
func (s HostStatus) Rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusErrored:
		return 1
	case StatusFaulted:
		return 2
	default:
		return -1
	}
}

// FailMode controls pool behavior on catastrophic failure
type FailMode string

const (
	FailModeWait     FailMode = "wait"
	FailModeContinue FailMode = "continue"
	FailModePanic    FailMode = "panic"
)

var FailModeValues = []FailMode{FailModeWait, FailModeContinue, FailModePanic}

// DatasetType is the kind of a ZFS dataset
type DatasetType string

const (
	TypeFilesystem DatasetType = "filesystem"
	TypeVolume     DatasetType = "volume"
	TypeSnapshot   DatasetType = "snapshot"
)

var DatasetTypeValues = []DatasetType{TypeFilesystem, TypeVolume, TypeSnapshot}

// Checksum is the checksum algorithm of a dataset
type Checksum string

const (
	ChecksumOn        Checksum = "on"
	ChecksumAuto      Checksum = "auto"
	ChecksumFletcher2 Checksum = "fletcher2"
	ChecksumFletcher4 Checksum = "fletcher4"
	ChecksumSHA256    Checksum = "sha256"
	ChecksumSHA256Mac Checksum = "sha256mac"
	ChecksumSHA512    Checksum = "sha512"
	ChecksumSkein     Checksum = "skein"
	ChecksumEdonr     Checksum = "edonr"
	ChecksumBlake3    Checksum = "blake3"
	ChecksumNoParity  Checksum = "noparity"
	ChecksumOff       Checksum = "off"
)

var ChecksumValues = []Checksum{
	ChecksumOn, ChecksumAuto, ChecksumFletcher2, ChecksumFletcher4, ChecksumSHA256,
	ChecksumSHA256Mac, ChecksumSHA512, ChecksumSkein, ChecksumEdonr, ChecksumBlake3,
	ChecksumNoParity, ChecksumOff,
}

// Compression is the compression algorithm of a dataset
type Compression string

const (
	CompressOn   Compression = "on"
	CompressOff  Compression = "off"
	CompressLZJB Compression = "lzjb"
	CompressGzip Compression = "gzip"
	CompressZLE  Compression = "zle"
	CompressLZ4  Compression = "lz4"
	CompressZstd Compression = "zstd"
)

var CompressionValues = []Compression{
	CompressOn, CompressOff, CompressLZJB, CompressGzip, CompressZLE, CompressLZ4, CompressZstd,
	"gzip-1", "gzip-2", "gzip-3", "gzip-4", "gzip-5", "gzip-6", "gzip-7", "gzip-8", "gzip-9",
	"zstd-fast",
}

// SnapDir controls visibility of the .zfs directory
type SnapDir string

const (
	SnapDirHidden  SnapDir = "hidden"
	SnapDirVisible SnapDir = "visible"
	SnapDirNA      SnapDir = "na"
)

var SnapDirValues = []SnapDir{SnapDirHidden, SnapDirVisible, SnapDirNA}

// ACLInherit controls how ACL entries are inherited
type ACLInherit string

const (
	ACLDiscard      ACLInherit = "discard"
	ACLNoAllow      ACLInherit = "noallow"
	ACLRestricted   ACLInherit = "restricted"
	ACLPassthrough  ACLInherit = "passthrough"
	ACLPassthroughX ACLInherit = "passthrough-x"
	ACLNA           ACLInherit = "na"
)

var ACLInheritValues = []ACLInherit{ACLDiscard, ACLNoAllow, ACLRestricted, ACLPassthrough, ACLPassthroughX, ACLNA}

// CanMount controls whether a filesystem can be mounted
type CanMount string

const (
	CanMountOn     CanMount = "on"
	CanMountOff    CanMount = "off"
	CanMountNoAuto CanMount = "noauto"
	CanMountNA     CanMount = "na"
)

var CanMountValues = []CanMount{CanMountOn, CanMountOff, CanMountNoAuto, CanMountNA}

// Normalization is the unicode normalization applied to file names
type Normalization string

const (
	NormalizationNA     Normalization = "na"
	NormalizationNone   Normalization = "none"
	NormalizationFormC  Normalization = "formC"
	NormalizationFormD  Normalization = "formD"
	NormalizationFormKC Normalization = "formKC"
	NormalizationFormKD Normalization = "formKD"
)

var NormalizationValues = []Normalization{
	NormalizationNA, NormalizationNone, NormalizationFormC, NormalizationFormD, NormalizationFormKC, NormalizationFormKD,
}

// Case is the file name matching behavior of a filesystem
type Case string

const (
	CaseSensitive   Case = "sensitive"
	CaseInsensitive Case = "insensitive"
	CaseMixed       Case = "mixed"
	CaseNA          Case = "na"
)

var CaseValues = []Case{CaseSensitive, CaseInsensitive, CaseMixed, CaseNA}

// CachePolicy controls what the ARC or L2ARC caches for a dataset
type CachePolicy string

const (
	CacheAll      CachePolicy = "all"
	CacheNone     CachePolicy = "none"
	CacheMetadata CachePolicy = "metadata"
)

var CachePolicyValues = []CachePolicy{CacheAll, CacheNone, CacheMetadata}

// LogBias hints how synchronous requests are handled
type LogBias string

const (
	LogBiasLatency    LogBias = "latency"
	LogBiasThroughput LogBias = "throughput"
)

var LogBiasValues = []LogBias{LogBiasLatency, LogBiasThroughput}

// Dedup controls deduplication of a dataset
type Dedup string

const (
	DedupOn     Dedup = "on"
	DedupOff    Dedup = "off"
	DedupVerify Dedup = "verify"
	DedupSHA256 Dedup = "sha256"
)

var DedupValues = []Dedup{DedupOn, DedupOff, DedupVerify, DedupSHA256}

// SyncPolicy controls synchronous transaction behavior
type SyncPolicy string

const (
	SyncStandard SyncPolicy = "standard"
	SyncAlways   SyncPolicy = "always"
	SyncDisabled SyncPolicy = "disabled"
)

var SyncPolicyValues = []SyncPolicy{SyncStandard, SyncAlways, SyncDisabled}

// Crypt is the encryption algorithm of a dataset
type Crypt string

const (
	CryptOff       Crypt = "off"
	CryptAES128CCM Crypt = "aes-128-ccm"
	CryptAES192CCM Crypt = "aes-192-ccm"
	CryptAES256CCM Crypt = "aes-256-ccm"
	CryptAES128GCM Crypt = "aes-128-gcm"
	CryptAES192GCM Crypt = "aes-192-gcm"
	CryptAES256GCM Crypt = "aes-256-gcm"
)

var CryptValues = []Crypt{CryptOff, CryptAES128CCM, CryptAES192CCM, CryptAES256CCM, CryptAES128GCM, CryptAES192GCM, CryptAES256GCM}

// KeyFormat is the format of the key wrapping dataset keys
type KeyFormat string

const (
	KeyFormatNone       KeyFormat = "none"
	KeyFormatRaw        KeyFormat = "raw"
	KeyFormatHex        KeyFormat = "hex"
	KeyFormatPassphrase KeyFormat = "passphrase"
)

var KeyFormatValues = []KeyFormat{KeyFormatNone, KeyFormatRaw, KeyFormatHex, KeyFormatPassphrase}

// KeyLocation is where the wrapping key is read from
type KeyLocation string

const (
	KeyLocationNone   KeyLocation = "none"
	KeyLocationPrompt KeyLocation = "prompt"
	KeyLocationFile   KeyLocation = "file"
)

var KeyLocationValues = []KeyLocation{KeyLocationNone, KeyLocationPrompt, KeyLocationFile}

// KeyStatus is the availability of a dataset's encryption key
type KeyStatus string

const (
	KeyStatusNone        KeyStatus = "none"
	KeyStatusUnavailable KeyStatus = "unavailable"
	KeyStatusAvailable   KeyStatus = "available"
)

var KeyStatusValues = []KeyStatus{KeyStatusNone, KeyStatusUnavailable, KeyStatusAvailable}

// ParseEnum matches s against values case-insensitively and returns the
// canonical spelling. Unrecognized values are an error.
func ParseEnum[T ~string](kind, s string, values []T) (T, error) {
	s = strings.TrimSpace(s)
	for _, v := range values {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unrecognized %s %q", kind, s)
}

// IsOneOf reports whether v is exactly one of values
func IsOneOf[T ~string](v T, values []T) bool {
	for _, candidate := range values {
		if v == candidate {
			return true
		}
	}
	return false
}

// ParseHealth parses a pool health such as "ONLINE" or "degraded"
func ParseHealth(s string) (Health, error) {
	return ParseEnum("health", s, HealthValues)
}
