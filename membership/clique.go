package membership

import "github.com/mtmcore/mtmcore/nodemask"

// largestClique returns the largest fully-connected subset of
// {1..maxNodes} containing self, given a symmetric-once-merged adjacency
// view: adjacency[i] is node i's reported reachability. An edge (i, j) is
// considered present only when each side's mask has the other set,
// matching the "merge into a symmetric adjacency matrix" step.
//
// maxNodes is bounded by nodemask.MaxNodes, so brute-force subset
// enumeration is exact and cheap: at most 2^15 candidate subsets.
func largestClique(self, maxNodes int, adjacency map[int]nodemask.Mask) nodemask.Mask {
	candidates := make([]int, 0, maxNodes)
	for id := 1; id <= maxNodes; id++ {
		if id == self {
			continue
		}
		if _, known := adjacency[id]; known {
			candidates = append(candidates, id)
		}
	}

	connected := func(a, b int) bool {
		if a == b {
			return true
		}
		ma, ok := adjacency[a]
		if !ok {
			return false
		}
		mb, ok := adjacency[b]
		if !ok {
			return false
		}
		return ma.Has(b) && mb.Has(a)
	}

	best := nodemask.Of(self)
	n := len(candidates)

	// Enumerate subsets of candidates in increasing size order isn't
	// necessary for correctness; plain subset-bitmask search below just
	// tracks the best clique seen, and ties are broken afterward.
	var bestSet []int
	for subset := 0; subset < (1 << n); subset++ {
		members := make([]int, 0, n)
		ok := true
		for i := 0; i < n && ok; i++ {
			if subset&(1<<i) == 0 {
				continue
			}
			candidate := candidates[i]
			for _, m := range members {
				if !connected(candidate, m) {
					ok = false
					break
				}
			}
			if ok {
				members = append(members, candidate)
			}
		}
		if !ok {
			continue
		}

		if len(members)+1 > len(bestSet)+1 {
			bestSet = append([]int{}, members...)
		} else if len(members)+1 == len(bestSet)+1 {
			if lexLess(sortedWithSelf(self, members), sortedWithSelf(self, bestSet)) {
				bestSet = append([]int{}, members...)
			}
		}
	}

	best = nodemask.Of(self).Union(nodemask.Of(bestSet...))
	return best
}

// sortedWithSelf inserts self into members (already ascending) to produce
// the full ascending member list, without assuming self is either the
// smallest or largest id in the clique.
func sortedWithSelf(self int, members []int) []int {
	full := make([]int, 0, len(members)+1)
	inserted := false
	for _, m := range members {
		if !inserted && self < m {
			full = append(full, self)
			inserted = true
		}
		full = append(full, m)
	}
	if !inserted {
		full = append(full, self)
	}
	return full
}

// lexLess compares two ascending node-id lists lexicographically, the
// tie-break spec.md §4.2 requires: the first differing element decides,
// and a shorter list that is a prefix of a longer one sorts first.
func lexLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
