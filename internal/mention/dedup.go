package mention

import "sync"

// DefaultDedupThreshold 是触发整体清空的条目数。
const DefaultDedupThreshold = 1000

// DedupSet remembers processed mention ids. Housekeeping clears the whole set
// once it grows past the threshold, so a very old mention can be seen again.
type DedupSet struct {
	mu        sync.Mutex
	ids       map[string]struct{}
	threshold int
}

// NewDedupSet 创建去重集合。
func NewDedupSet(threshold int) *DedupSet {
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}
	return &DedupSet{ids: make(map[string]struct{}), threshold: threshold}
}

// Seen reports whether id was already processed.
func (d *DedupSet) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Add marks id as processed.
func (d *DedupSet) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = struct{}{}
}

// Len returns the number of remembered ids.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

// Housekeep clears the set when it holds more than the threshold and reports
// whether it did.
func (d *DedupSet) Housekeep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ids) <= d.threshold {
		return false
	}
	d.ids = make(map[string]struct{})
	return true
}
