package graphrun

import "sync/atomic"

// Metrics accumulates counters for one graph's lifetime. Safe for
// concurrent use; every field is updated with atomic operations so node
// goroutines never contend on a lock just to report progress.
type Metrics struct {
	executionCount atomic.Int64
	seenCellCount  atomic.Int64
	errorCount     atomic.Int64
}

// ExecutionCount returns how many node invocations have completed,
// successfully or not.
func (m *Metrics) ExecutionCount() int64 { return m.executionCount.Load() }

// SeenCellCount returns how many routed data cells were announced to a
// registered provider; cells at a layer with no provider are not counted.
func (m *Metrics) SeenCellCount() int64 { return m.seenCellCount.Load() }

// ErrorCount returns how many node invocations returned an error.
func (m *Metrics) ErrorCount() int64 { return m.errorCount.Load() }

func (m *Metrics) recordExecution(err error) {
	m.executionCount.Add(1)
	if err != nil {
		m.errorCount.Add(1)
	}
}

func (m *Metrics) recordCellSeen() {
	m.seenCellCount.Add(1)
}
