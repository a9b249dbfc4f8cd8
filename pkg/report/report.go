// Package report defines what agents send: one host with the pools and
// datasets it currently has. Pool and dataset properties travel as the
// raw strings zpool and zfs print and are decoded by package parser.
package report

import "github.com/runningman84/zfs-monitor/pkg/models"

// HostReport is the full state of one host
type HostReport struct {
	Hostname        string          `json:"hostname,omitempty"`
	HostDescription string          `json:"hostdescription,omitempty"`
	UserDescription string          `json:"userdescription,omitempty"`
	SSHUser         string          `json:"ssh_user,omitempty"`
	SSHKey          string          `json:"ssh_key,omitempty"`
	Pools           []PoolReport    `json:"pools,omitempty"`
	Datasets        []DatasetReport `json:"datasets,omitempty"`
}

// Host returns the host record described by the report, without pools
// or datasets
func (r *HostReport) Host() *models.Host {
	return &models.Host{
		Hostname:        r.Hostname,
		HostDescription: r.HostDescription,
		UserDescription: r.UserDescription,
		SSHUser:         r.SSHUser,
		SSHKey:          r.SSHKey,
	}
}

// PoolReport is one pool. Properties are keyed by zpool property name
// (long or short form), plus "state", "scan" and "errors" from zpool
// status.
type PoolReport struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties"`
	// Vdevs is the device topology; nil leaves the stored topology alone
	Vdevs []VdevReport `json:"vdevs,omitempty"`
}

// VdevReport is one node of a pool's device tree
type VdevReport struct {
	Name           string       `json:"name"`
	State          string       `json:"state,omitempty"`
	ReadErrors     int64        `json:"read_errors"`
	WriteErrors    int64        `json:"write_errors"`
	ChecksumErrors int64        `json:"checksum_errors"`
	Children       []VdevReport `json:"children,omitempty"`
}

// Tree converts a reported vdev forest into unsaved vdev nodes
func Tree(vdevs []VdevReport) []*models.VdevNode {
	if vdevs == nil {
		return nil
	}
	nodes := make([]*models.VdevNode, 0, len(vdevs))
	for _, v := range vdevs {
		nodes = append(nodes, &models.VdevNode{
			Vdev: models.Vdev{
				Name:           v.Name,
				State:          v.State,
				ReadErrors:     v.ReadErrors,
				WriteErrors:    v.WriteErrors,
				ChecksumErrors: v.ChecksumErrors,
			},
			Children: Tree(v.Children),
		})
	}
	return nodes
}

// DatasetReport is one filesystem or volume with the snapshots it
// currently has. Properties are keyed by zfs property name.
type DatasetReport struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties"`
	Snapshots  []SnapshotReport  `json:"snapshots,omitempty"`
}

// SnapshotReport is one snapshot of a dataset. Name is the part after
// the @.
type SnapshotReport struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties"`
}

// Counts summarizes what a report contains
type Counts struct {
	Pools     int `json:"pools"`
	Vdevs     int `json:"vdevs"`
	Datasets  int `json:"datasets"`
	Snapshots int `json:"snapshots"`
}

// Counts returns the number of records the report describes
func (r *HostReport) Counts() Counts {
	c := Counts{Pools: len(r.Pools), Datasets: len(r.Datasets)}
	var countVdevs func([]VdevReport)
	countVdevs = func(vdevs []VdevReport) {
		for _, v := range vdevs {
			c.Vdevs++
			countVdevs(v.Children)
		}
	}
	for _, p := range r.Pools {
		countVdevs(p.Vdevs)
	}
	for _, d := range r.Datasets {
		c.Snapshots += len(d.Snapshots)
	}
	return c
}
