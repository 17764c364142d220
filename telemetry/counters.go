// Package telemetry keeps named debug counters and persists snapshots of them.
package telemetry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Counters is a set of named static debug counters. It is safe for
// concurrent use. A nil *Counters ignores increments.
type Counters struct {
	counts sync.Map // string -> *uint64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{}
}

// Inc increments the named counter.
func (c *Counters) Inc(name string) {
	c.Add(name, 1)
}

// Incf increments the counter named by a format string.
func (c *Counters) Incf(format string, args ...any) {
	c.Add(fmt.Sprintf(format, args...), 1)
}

// Add adds n to the named counter.
func (c *Counters) Add(name string, n uint64) {
	if c == nil {
		return
	}
	val, _ := c.counts.LoadOrStore(name, new(uint64))
	atomic.AddUint64(val.(*uint64), n)
}

// Get returns the current value of the named counter.
func (c *Counters) Get(name string) uint64 {
	if c == nil {
		return 0
	}
	if val, ok := c.counts.Load(name); ok {
		return atomic.LoadUint64(val.(*uint64))
	}
	return 0
}

// Snapshot returns a copy of every counter.
func (c *Counters) Snapshot() Snapshot {
	s := make(Snapshot)
	if c == nil {
		return s
	}
	c.counts.Range(func(k, v any) bool {
		s[k.(string)] = atomic.LoadUint64(v.(*uint64))
		return true
	})
	return s
}

// Merge adds every counter of s into c.
func (c *Counters) Merge(s Snapshot) {
	for name, n := range s {
		c.Add(name, n)
	}
}

// Reset clears every counter.
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	c.counts.Range(func(k, _ any) bool {
		c.counts.Delete(k)
		return true
	})
}

// Snapshot is a point-in-time copy of counter values.
type Snapshot map[string]uint64

// Names returns the counter names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
