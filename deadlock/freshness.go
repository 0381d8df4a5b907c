package deadlock

import lru "github.com/hashicorp/golang-lru/v2"

// freshnessCache tracks the highest recovery_count seen per contributing
// node. A contribution tagged with a lower recovery_count than one
// already seen is a stale message from before that peer's last restart
// and must be discarded, per the detector's freshness rule.
type freshnessCache struct {
	seen *lru.Cache[int, uint64]
}

func newFreshnessCache(size int) *freshnessCache {
	c, err := lru.New[int, uint64](size)
	if err != nil {
		// size <= 0 is a programming error, not a runtime condition.
		panic(err)
	}
	return &freshnessCache{seen: c}
}

// admit reports whether recoveryCount is at least as new as anything
// already recorded for nodeID, updating the high-water mark either way
// it is accepted.
func (f *freshnessCache) admit(nodeID int, recoveryCount uint64) bool {
	if v, ok := f.seen.Get(nodeID); ok && recoveryCount < v {
		return false
	}
	f.seen.Add(nodeID, recoveryCount)
	return true
}
