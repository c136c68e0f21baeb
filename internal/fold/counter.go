// Package fold implements scope-scoped aggregation: a fold accumulates
// every product produced under a data cell into one result, emitted once
// a store-counter confirms every expected contribution has arrived.
// Modeled on declared_fold.hpp and store_counters.hpp/cpp of the
// dataflow framework this scheduler's design is grounded in.
package fold

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cellflow/cellflow/internal/flowmsg"
)

// Counter tracks, for one fold scope, how many contributions have
// arrived per child layer against how many were promised by the flush
// message for that scope. It reports complete exactly once.
type Counter struct {
	mu           sync.Mutex
	counts       map[uint64]int
	flushCounts  *flowmsg.FlushCounts
	originalID   flowmsg.MessageID
	haveFlush    bool
	readyToFlush bool
}

func newCounter() *Counter {
	return &Counter{counts: make(map[uint64]int), readyToFlush: true}
}

// Increment records one more contribution at childLayerHash.
func (c *Counter) Increment(childLayerHash uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[childLayerHash]++
}

// SetFlushValue records the expected per-layer counts for this scope,
// captured from the flush message that closed it.
func (c *Counter) SetFlushValue(counts *flowmsg.FlushCounts, originalID flowmsg.MessageID) {
	if counts == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushCounts = counts
	c.originalID = originalID
	c.haveFlush = true
}

// OriginalMessageID returns the message id the closing flush carried.
func (c *Counter) OriginalMessageID() flowmsg.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.originalID
}

// IsComplete reports whether every expected contribution has arrived.
// It returns true at most once per Counter: the first true result flips
// an internal latch so a racing second caller never double-fires.
func (c *Counter) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyToFlush {
		return false
	}
	if !c.haveFlush {
		return false
	}
	if len(c.counts) == 0 && !c.flushCounts.Empty() {
		return false
	}
	for layerHash, got := range c.counts {
		want, ok := c.flushCounts.CountFor(layerHash)
		if !ok || want != got {
			return false
		}
	}
	c.readyToFlush = false
	return true
}

// Counters is a concurrent registry of per-scope Counter instances,
// keyed by the scope's index hash.
type Counters struct {
	byHash *xsync.MapOf[uint64, *Counter]
}

// NewCounters returns an empty registry.
func NewCounters() *Counters {
	return &Counters{byHash: xsync.NewMapOf[uint64, *Counter]()}
}

// CounterFor returns the Counter for hash, creating it on first use.
func (c *Counters) CounterFor(hash uint64) *Counter {
	counter, _ := c.byHash.LoadOrCompute(hash, newCounter)
	return counter
}

// DoneWith returns and removes the Counter for hash if it reports
// complete; otherwise it returns nil and leaves the entry in place.
func (c *Counters) DoneWith(hash uint64) *Counter {
	counter, ok := c.byHash.Load(hash)
	if !ok {
		return nil
	}
	if !counter.IsComplete() {
		return nil
	}
	c.byHash.Delete(hash)
	return counter
}
