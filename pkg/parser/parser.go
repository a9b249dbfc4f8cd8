package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/runningman84/zfs-monitor/pkg/report"
)

// OutputVersion is the header of every zfs/zpool -j document
type OutputVersion struct {
	Command   string `json:"command"`
	VersMajor int    `json:"vers_major"`
	VersMinor int    `json:"vers_minor"`
}

// ZFSProperty represents a ZFS property value
type ZFSProperty struct {
	Value  string `json:"value"`
	Source struct {
		Type string `json:"type"`
		Data string `json:"data"`
	} `json:"source"`
}

// ZFSDatasetJSON represents a filesystem, volume or snapshot in zfs list -j
// and zfs get -j output
type ZFSDatasetJSON struct {
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Pool         string                 `json:"pool"`
	Dataset      string                 `json:"dataset,omitempty"`
	SnapshotName string                 `json:"snapshot_name,omitempty"`
	Properties   map[string]ZFSProperty `json:"properties,omitempty"`
}

// ZFSDatasetResponse represents the root response from zfs list -j
type ZFSDatasetResponse struct {
	OutputVersion OutputVersion             `json:"output_version"`
	Datasets      map[string]ZFSDatasetJSON `json:"datasets"`
}

// ParseDatasetsJSON parses zfs list -j -t all -o all output into dataset
// reports ordered by name, each with its snapshots ordered by name.
// Snapshots whose dataset is not part of the output are dropped.
func ParseDatasetsJSON(data []byte) ([]report.DatasetReport, error) {
	var response ZFSDatasetResponse

	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	byName := make(map[string]*report.DatasetReport)
	var snapshots []ZFSDatasetJSON
	for key, ds := range response.Datasets {
		if ds.Name == "" {
			ds.Name = key
		}
		switch strings.ToUpper(ds.Type) {
		case "FILESYSTEM", "VOLUME":
			byName[ds.Name] = &report.DatasetReport{
				Name:       ds.Name,
				Properties: flatten(ds.Properties, "type", ds.Type),
			}
		case "SNAPSHOT":
			snapshots = append(snapshots, ds)
		}
	}

	for _, snap := range snapshots {
		dataset, name := snap.Dataset, snap.SnapshotName
		if dataset == "" || name == "" {
			dataset, name, _ = strings.Cut(snap.Name, "@")
		}
		parent, ok := byName[dataset]
		if !ok {
			klog.Warningf("Dropping snapshot %s: dataset %s not in output", snap.Name, dataset)
			continue
		}
		parent.Snapshots = append(parent.Snapshots, report.SnapshotReport{
			Name:       name,
			Properties: flatten(snap.Properties, "type", snap.Type),
		})
	}

	datasets := make([]report.DatasetReport, 0, len(byName))
	for _, ds := range byName {
		sort.Slice(ds.Snapshots, func(i, j int) bool {
			return ds.Snapshots[i].Name < ds.Snapshots[j].Name
		})
		datasets = append(datasets, *ds)
	}
	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].Name < datasets[j].Name
	})
	return datasets, nil
}

// flatten reduces -j properties to their values. Extra key/value pairs
// are added when the property map does not already carry them.
func flatten(properties map[string]ZFSProperty, extra ...string) map[string]string {
	out := make(map[string]string, len(properties)+len(extra)/2)
	for k, v := range properties {
		out[k] = v.Value
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if _, ok := out[extra[i]]; !ok && extra[i+1] != "" {
			out[extra[i]] = extra[i+1]
		}
	}
	return out
}

// ZPoolGetJSON represents one pool in zpool get -j output
type ZPoolGetJSON struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	State      string                 `json:"state"`
	PoolGUID   string                 `json:"pool_guid"`
	Properties map[string]ZFSProperty `json:"properties"`
}

// ZPoolGetResponse represents the root response from zpool get -j
type ZPoolGetResponse struct {
	OutputVersion OutputVersion           `json:"output_version"`
	Pools         map[string]ZPoolGetJSON `json:"pools"`
}

// ParsePoolPropertiesJSON parses zpool get -j all output into property
// values keyed by pool name
func ParsePoolPropertiesJSON(data []byte) (map[string]map[string]string, error) {
	var response ZPoolGetResponse

	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	pools := make(map[string]map[string]string, len(response.Pools))
	for poolName, pool := range response.Pools {
		pools[poolName] = flatten(pool.Properties, "name", poolName, "guid", pool.PoolGUID, "health", pool.State)
	}
	return pools, nil
}

// ZPoolStatusVdevJSON represents a vdev in the pool
type ZPoolStatusVdevJSON struct {
	Name           string                         `json:"name"`
	VdevType       string                         `json:"vdev_type"`
	State          string                         `json:"state"`
	AllocSpace     string                         `json:"alloc_space,omitempty"`
	TotalSpace     string                         `json:"total_space,omitempty"`
	ReadErrors     string                         `json:"read_errors,omitempty"`
	WriteErrors    string                         `json:"write_errors,omitempty"`
	ChecksumErrors string                         `json:"checksum_errors,omitempty"`
	Vdevs          map[string]ZPoolStatusVdevJSON `json:"vdevs,omitempty"`
}

// ZPoolStatusJSON represents zpool status in JSON format
type ZPoolStatusJSON struct {
	Name       string                         `json:"name"`
	State      string                         `json:"state"`
	PoolGUID   string                         `json:"pool_guid"`
	Status     string                         `json:"status"`
	Action     string                         `json:"action"`
	ErrorCount string                         `json:"error_count"`
	Scan       *ZPoolStatusScanJSON           `json:"scan,omitempty"`
	ScanStats  *ZPoolStatusScanJSON           `json:"scan_stats,omitempty"` // Real zpool uses scan_stats
	Vdevs      map[string]ZPoolStatusVdevJSON `json:"vdevs,omitempty"`

	// Auxiliary vdev classes are listed beside the main tree
	Logs    map[string]ZPoolStatusVdevJSON `json:"logs,omitempty"`
	L2Cache map[string]ZPoolStatusVdevJSON `json:"l2cache,omitempty"`
	Spares  map[string]ZPoolStatusVdevJSON `json:"spares,omitempty"`
	Special map[string]ZPoolStatusVdevJSON `json:"special,omitempty"`
	Dedup   map[string]ZPoolStatusVdevJSON `json:"dedup,omitempty"`
}

// ZPoolStatusScanJSON represents the scan/scrub information
type ZPoolStatusScanJSON struct {
	Function  string      `json:"function"`   // "scrub"/"SCRUB" or "resilver"/"RESILVER"
	State     string      `json:"state"`      // "finished"/"FINISHED", "in_progress", etc.
	StartTime interface{} `json:"start_time"` // Can be int64 or string
	EndTime   interface{} `json:"end_time"`   // Can be int64 or string
}

// ZPoolStatusResponse represents the root response from zpool status -j
type ZPoolStatusResponse struct {
	OutputVersion OutputVersion              `json:"output_version"`
	Pools         map[string]ZPoolStatusJSON `json:"pools"`
}

// PoolStatus is the part of zpool status a pool report needs
type PoolStatus struct {
	Name          string
	GUID          string
	State         string
	Status        string
	Action        string
	ErrorCount    string
	ScrubFunction string
	ScrubState    string
	LastScrubTime int64
	Vdevs         []report.VdevReport
}

// ScanSummary describes the last scrub or resilver
func (ps *PoolStatus) ScanSummary() string {
	if ps.ScrubState == "none" || ps.ScrubFunction == "" {
		return "none requested"
	}
	summary := ps.ScrubFunction + " " + strings.ReplaceAll(ps.ScrubState, "_", " ")
	if ps.LastScrubTime > 0 {
		summary += " " + time.Unix(ps.LastScrubTime, 0).UTC().Format(time.RFC3339)
	}
	return summary
}

// ErrorsSummary describes the pool's data errors like zpool status does
func (ps *PoolStatus) ErrorsSummary() string {
	if ps.ErrorCount == "" || ps.ErrorCount == "0" {
		return "No known data errors"
	}
	return ps.ErrorCount + " data errors"
}

// ParsePoolStatusJSON parses zpool status JSON output
func ParsePoolStatusJSON(data []byte) (map[string]*PoolStatus, error) {
	var response ZPoolStatusResponse

	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	statusMap := make(map[string]*PoolStatus)
	for poolName, pool := range response.Pools {
		ps := &PoolStatus{
			Name:       pool.Name,
			GUID:       pool.PoolGUID,
			State:      pool.State,
			Status:     pool.Status,
			Action:     pool.Action,
			ErrorCount: pool.ErrorCount,
		}
		if ps.Name == "" {
			ps.Name = poolName
		}

		vdevs, err := vdevForest(pool)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", poolName, err)
		}
		ps.Vdevs = vdevs

		// Parse scrub information - check both scan and scan_stats fields
		scanInfo := pool.Scan
		if scanInfo == nil {
			scanInfo = pool.ScanStats
		}

		if scanInfo != nil {
			ps.ScrubFunction = strings.ToLower(scanInfo.Function)
			ps.ScrubState = strings.ToLower(scanInfo.State)

			// End time when finished, start time while running
			ps.LastScrubTime = scanTime(scanInfo.EndTime)
			if ps.LastScrubTime == 0 {
				ps.LastScrubTime = scanTime(scanInfo.StartTime)
			}
		} else {
			ps.ScrubState = "none"
		}

		statusMap[poolName] = ps
	}

	return statusMap, nil
}

// scanTime reads a scan timestamp that is either unix seconds or a
// string like "Sat Jan 24 17:52:19 2026"
func scanTime(v interface{}) int64 {
	switch v := v.(type) {
	case float64:
		return int64(v)
	case string:
		if t, err := ParseTime(v); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// vdevForest returns the main vdev tree followed by one root per
// auxiliary class that has devices
func vdevForest(pool ZPoolStatusJSON) ([]report.VdevReport, error) {
	roots, err := vdevChildren(pool.Vdevs)
	if err != nil {
		return nil, err
	}
	classes := []struct {
		name  string
		vdevs map[string]ZPoolStatusVdevJSON
	}{
		{"logs", pool.Logs},
		{"dedup", pool.Dedup},
		{"special", pool.Special},
		{"cache", pool.L2Cache},
		{"spares", pool.Spares},
	}
	for _, class := range classes {
		if len(class.vdevs) == 0 {
			continue
		}
		children, err := vdevChildren(class.vdevs)
		if err != nil {
			return nil, err
		}
		roots = append(roots, report.VdevReport{Name: class.name, Children: children})
	}
	return roots, nil
}

func vdevChildren(vdevs map[string]ZPoolStatusVdevJSON) ([]report.VdevReport, error) {
	if len(vdevs) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(vdevs))
	for name := range vdevs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]report.VdevReport, 0, len(names))
	for _, key := range names {
		v := vdevs[key]
		r := report.VdevReport{Name: v.Name, State: v.State}
		if r.Name == "" {
			r.Name = key
		}
		counters := []struct {
			field string
			raw   string
			dst   *int64
		}{
			{"read_errors", v.ReadErrors, &r.ReadErrors},
			{"write_errors", v.WriteErrors, &r.WriteErrors},
			{"checksum_errors", v.ChecksumErrors, &r.ChecksumErrors},
		}
		for _, c := range counters {
			if c.raw == "" || c.raw == "-" {
				continue
			}
			n, err := ParseSize(c.raw)
			if err != nil {
				return nil, fmt.Errorf("vdev %s: invalid %s %q", r.Name, c.field, c.raw)
			}
			*c.dst = n
		}
		children, err := vdevChildren(v.Vdevs)
		if err != nil {
			return nil, err
		}
		r.Children = children
		out = append(out, r)
	}
	return out, nil
}

// PoolReports merges zpool get properties with zpool status output into
// pool reports ordered by name. Either input may be nil.
func PoolReports(properties map[string]map[string]string, status map[string]*PoolStatus) []report.PoolReport {
	names := make(map[string]struct{}, len(properties)+len(status))
	for name := range properties {
		names[name] = struct{}{}
	}
	for name := range status {
		names[name] = struct{}{}
	}

	pools := make([]report.PoolReport, 0, len(names))
	for name := range names {
		props := make(map[string]string, len(properties[name])+4)
		for k, v := range properties[name] {
			props[k] = v
		}
		pr := report.PoolReport{Name: name, Properties: props}
		if ps, ok := status[name]; ok {
			props["state"] = ps.State
			props["scan"] = ps.ScanSummary()
			props["errors"] = ps.ErrorsSummary()
			setDefault(props, "health", ps.State)
			setDefault(props, "guid", ps.GUID)
			pr.Vdevs = ps.Vdevs
		}
		pools = append(pools, pr)
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Name < pools[j].Name
	})
	return pools
}

func setDefault(m map[string]string, key, value string) {
	if v, ok := m[key]; (!ok || v == "" || v == "-") && value != "" {
		m[key] = value
	}
}
