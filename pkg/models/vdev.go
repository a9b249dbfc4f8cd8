package models

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Vdev is one node of a pool's device topology. Nodes are stored flat
// and linked by ParentID; roots have no parent.
type Vdev struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PoolID     uint      `gorm:"not null;index" json:"pool_id"`
	ParentID   *uint     `gorm:"index" json:"parent_id,omitempty"`
	LastUpdate time.Time `gorm:"column:lastupdate" json:"lastupdate"`

	Name           string `gorm:"size:255;not null" json:"name"`
	State          string `gorm:"size:64" json:"state,omitempty"`
	ReadErrors     int64  `gorm:"not null;default:0" json:"read_errors"`
	WriteErrors    int64  `gorm:"not null;default:0" json:"write_errors"`
	ChecksumErrors int64  `gorm:"column:cksum_errors;not null;default:0" json:"checksum_errors"`

	Subvdevs []Vdev `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeSave rejects invalid vdevs at write time
func (v *Vdev) BeforeSave(tx *gorm.DB) error {
	return v.Validate()
}

// Validate checks the vdev's write-time constraints
func (v *Vdev) Validate() error {
	val := &validator{}
	val.required("name", v.Name)
	if v.PoolID == 0 {
		val.fail("pool_id", "is required")
	}
	if v.ParentID != nil && v.ID != 0 && *v.ParentID == v.ID {
		val.fail("parent_id", "must not reference itself")
	}
	val.nonNegative("read_errors", v.ReadErrors)
	val.nonNegative("write_errors", v.WriteErrors)
	val.nonNegative("checksum_errors", v.ChecksumErrors)
	return val.result("vdev", v.Name)
}

// HasErrors reports whether any error counter is non-zero
func (v *Vdev) HasErrors() bool {
	return v.ReadErrors > 0 || v.WriteErrors > 0 || v.ChecksumErrors > 0
}

// VdevNode is a Vdev with its children resolved
type VdevNode struct {
	Vdev
	Children []*VdevNode `json:"children,omitempty"`
}

// Walk visits n and its descendants depth first, parents before children
func (n *VdevNode) Walk(fn func(node *VdevNode, depth int)) {
	n.walk(fn, 0)
}

func (n *VdevNode) walk(fn func(node *VdevNode, depth int), depth int) {
	fn(n, depth)
	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// BuildVdevForest links flat vdev records of a single pool into trees.
// Roots and children are ordered by id. A parent id that is missing,
// belongs to another pool, or forms a cycle is an error.
func BuildVdevForest(vdevs []Vdev) ([]*VdevNode, error) {
	nodes := make(map[uint]*VdevNode, len(vdevs))
	for i := range vdevs {
		if _, dup := nodes[vdevs[i].ID]; dup {
			return nil, fmt.Errorf("duplicate vdev id %d", vdevs[i].ID)
		}
		nodes[vdevs[i].ID] = &VdevNode{Vdev: vdevs[i]}
	}

	var roots []*VdevNode
	for _, node := range nodes {
		if node.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*node.ParentID]
		if !ok {
			return nil, fmt.Errorf("vdev %d (%s) references unknown parent %d", node.ID, node.Name, *node.ParentID)
		}
		if parent.PoolID != node.PoolID {
			return nil, fmt.Errorf("vdev %d (%s) and its parent %d belong to different pools", node.ID, node.Name, parent.ID)
		}
		parent.Children = append(parent.Children, node)
	}

	// Every node must be reachable from a root, otherwise it sits on a cycle
	reached := 0
	for _, root := range roots {
		root.Walk(func(*VdevNode, int) { reached++ })
	}
	if reached != len(nodes) {
		return nil, fmt.Errorf("vdev graph contains a cycle (%d of %d nodes reachable from a root)", reached, len(nodes))
	}

	sortNodes(roots)
	for _, node := range nodes {
		sortNodes(node.Children)
	}
	return roots, nil
}

func sortNodes(nodes []*VdevNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
}
