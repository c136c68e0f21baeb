package driver

import (
	"context"
	"sync"

	"github.com/cellflow/cellflow/internal/cellindex"
)

// Driver yields the data cells a graph should be driven through, one at
// a time. Next returns false once the source is exhausted.
type Driver interface {
	Next(ctx context.Context) (*cellindex.Index, bool)
	Stop()
}

// SequenceDriver replays a precomputed slice of indices, such as one
// built by LayerGenerator. Safe for a single consumer; Stop causes any
// later Next call to return false immediately.
type SequenceDriver struct {
	mu      sync.Mutex
	indices []*cellindex.Index
	pos     int
	stopped bool
}

// NewSequenceDriver wraps a precomputed index sequence.
func NewSequenceDriver(indices []*cellindex.Index) *SequenceDriver {
	return &SequenceDriver{indices: indices}
}

// Next returns the next index in sequence, or false when exhausted or
// stopped.
func (d *SequenceDriver) Next(ctx context.Context) (*cellindex.Index, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.pos >= len(d.indices) {
		return nil, false
	}
	idx := d.indices[d.pos]
	d.pos++
	return idx, true
}

// Stop halts the driver; any in-flight or future Next call returns
// false.
func (d *SequenceDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

// Pump drives every index from drv through route until exhausted or ctx
// is canceled, then drains the router's remaining open scopes. It
// returns the first error route reports, if any, after draining.
func Pump(ctx context.Context, drv Driver, route func(*cellindex.Index) error, drain func()) error {
	var firstErr error
	for {
		select {
		case <-ctx.Done():
			drv.Stop()
		default:
		}
		idx, ok := drv.Next(ctx)
		if !ok {
			break
		}
		if err := route(idx); err != nil && firstErr == nil {
			firstErr = err
			drv.Stop()
		}
	}
	drain()
	return firstErr
}
