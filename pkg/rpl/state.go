package rpl

import (
	"net/netip"
	"sync"
)

// Lollipop counter parameters (RFC 6550 section 7.2).
const (
	CounterMax         = 255
	CounterLowerRegion = 127
	CounterSeqWindow   = 16
	CounterInit        = CounterMax - CounterSeqWindow + 1
)

// DefaultMinHopRankIncrease is used when an instance carries no configuration.
const DefaultMinHopRankIncrease = 256

// NodeStatus is the role of the local node inside a DODAG.
type NodeStatus uint8

const (
	NodeNormal NodeStatus = iota
	LeafNode
	RootNode
)

// Parent is a parent candidate, as held in the parent table.
type Parent struct {
	Addr netip.Addr
	Rank uint16
	DTSN uint8
}

// DODAG is the DODAG an instance participates in.
type DODAG struct {
	ID         netip.Addr
	Version    uint8
	MyRank     uint16
	DTSN       uint8
	NodeStatus NodeStatus
	// Parents are ordered best-first.
	Parents []Parent
}

// Instance is one RPL instance slot. State 0 means the slot is unused.
type Instance struct {
	ID            uint8
	State         uint8
	MOP           uint8
	MinHopRankInc uint16
	DODAG         DODAG
}

// Active reports whether the instance slot is in use.
func (i Instance) Active() bool { return i.State != 0 }

// State gives read access to the live routing state of the RPL engine.
type State interface {
	Instances() []Instance
}

// Table is a snapshot holder implementing State. Writers swap the whole
// snapshot; readers get a copy.
type Table struct {
	mu        sync.RWMutex
	instances []Instance
}

// NewTable creates a table holding the given instances.
func NewTable(instances ...Instance) *Table {
	t := &Table{}
	t.Replace(instances)
	return t
}

// Replace swaps the snapshot.
func (t *Table) Replace(instances []Instance) {
	snapshot := cloneInstances(instances)
	t.mu.Lock()
	t.instances = snapshot
	t.mu.Unlock()
}

// Instances returns a copy of the current snapshot.
func (t *Table) Instances() []Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneInstances(t.instances)
}

func cloneInstances(in []Instance) []Instance {
	out := make([]Instance, len(in))
	copy(out, in)
	for i := range out {
		out[i].DODAG.Parents = append([]Parent(nil), in[i].DODAG.Parents...)
	}
	return out
}

// IsRoot reports whether the local node is root of any active DODAG.
func IsRoot(instances []Instance) bool {
	for _, inst := range instances {
		if inst.Active() && inst.DODAG.NodeStatus == RootNode {
			return true
		}
	}
	return false
}

// CounterGreaterThan compares two lollipop counters. A counter in the lower
// (circular) region is always newer than one in the upper (linear) region.
// Within one region a counter is newer when it leads by less than
// CounterSeqWindow, wrapping at CounterLowerRegion.
func CounterGreaterThan(a, b uint8) bool {
	x, y := int(a), int(b)
	switch {
	case x > CounterLowerRegion && y > CounterLowerRegion:
		return counterLeads(x, y)
	case x > CounterLowerRegion:
		return false
	case y > CounterLowerRegion:
		return true
	default:
		return counterLeads(x, y)
	}
}

func counterLeads(x, y int) bool {
	if x < y {
		return CounterLowerRegion+1-y+x < CounterSeqWindow
	}
	return x > y && x-y < CounterSeqWindow
}

// DAGRank is the integer part of a rank for the given MinHopRankIncrease.
func DAGRank(rank, minHopRankInc uint16) uint16 {
	if minHopRankInc == 0 {
		minHopRankInc = DefaultMinHopRankIncrease
	}
	return rank / minHopRankInc
}
