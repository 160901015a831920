package store

import (
	"sync"
	"time"
)

// IDAllocator hands out the _id values that order document versions. IDs
// follow the millisecond clock but always advance by at least 1, so two
// writes of the same _key within one millisecond still order correctly.
type IDAllocator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDAllocator returns an allocator seeded from the wall clock.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{now: time.Now}
}

// Next returns the next id.
func (a *IDAllocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.now().UnixMilli()
	if id <= a.last {
		id = a.last + 1
	}
	a.last = id
	return id
}
