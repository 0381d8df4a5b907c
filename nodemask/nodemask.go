// Package nodemask implements the bounded bitset used to represent
// participant and connectivity sets across the cluster (MAX_NODES <= 16).
package nodemask

import "math/bits"

// MaxNodes is the hard ceiling on node id (node ids are 1-indexed to match
// the wire format and the catalog; node i is stored in 0-indexed bit i-1).
const MaxNodes = 16

// Mask is a bounded bitset over node ids [1, MaxNodes]. Bit i (1-indexed)
// corresponds to node i.
type Mask uint16

// Empty is the mask with no nodes set.
const Empty Mask = 0

// Of builds a Mask from a list of node ids.
func Of(nodeIDs ...int) Mask {
	var m Mask
	for _, id := range nodeIDs {
		m = m.Set(id)
	}
	return m
}

// Set returns m with nodeID added.
func (m Mask) Set(nodeID int) Mask {
	if nodeID < 1 || nodeID > MaxNodes {
		return m
	}
	return m | (1 << (nodeID - 1))
}

// Clear returns m with nodeID removed.
func (m Mask) Clear(nodeID int) Mask {
	if nodeID < 1 || nodeID > MaxNodes {
		return m
	}
	return m &^ (1 << (nodeID - 1))
}

// Has reports whether nodeID is a member of m.
func (m Mask) Has(nodeID int) bool {
	if nodeID < 1 || nodeID > MaxNodes {
		return false
	}
	return m&(1<<(nodeID-1)) != 0
}

// Union returns the set union of m and other.
func (m Mask) Union(other Mask) Mask {
	return m | other
}

// Intersect returns the set intersection of m and other.
func (m Mask) Intersect(other Mask) Mask {
	return m & other
}

// Difference returns m with every member of other removed.
func (m Mask) Difference(other Mask) Mask {
	return m &^ other
}

// Popcount returns the number of nodes set in m.
func (m Mask) Popcount() int {
	return bits.OnesCount16(uint16(m))
}

// IsEmpty reports whether m has no members.
func (m Mask) IsEmpty() bool {
	return m == Empty
}

// LowestSet returns the lowest-numbered node id in m, or 0 if m is empty.
func (m Mask) LowestSet() int {
	if m == 0 {
		return 0
	}
	return bits.TrailingZeros16(uint16(m)) + 1
}

// Nodes returns the sorted list of node ids set in m.
func (m Mask) Nodes() []int {
	nodes := make([]int, 0, m.Popcount())
	for id := 1; id <= MaxNodes; id++ {
		if m.Has(id) {
			nodes = append(nodes, id)
		}
	}
	return nodes
}

// Subset reports whether every member of m is also a member of other.
func (m Mask) Subset(other Mask) bool {
	return m&other == m
}
