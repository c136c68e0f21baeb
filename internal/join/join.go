// Package join implements the multi-layer join: data arriving from
// several independent input families is correlated by shared message id
// and emitted once every family has contributed. Modeled on
// multilayer_join_node.hpp of the dataflow framework this scheduler's
// design is grounded in, using message-id tag matching rather than
// index comparison so branches that went through independent repeaters
// still line up correctly.
package join

import (
	"sync"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

// EmitFunc delivers a completed join: one product store per slot, in
// slot-declaration order, plus the index the join fired at.
type EmitFunc func(idx *cellindex.Index, id flowmsg.MessageID, stores []*flowmsg.ProductStore)

type pendingJoin struct {
	stores []*flowmsg.ProductStore
	index  *cellindex.Index
	count  int
}

// MultiLayerJoin correlates SlotNames-many independent inputs by message
// id. Register it once per router.JoinSlot group; each slot's routed
// traffic should call PutData on the matching slot index as data arrives.
type MultiLayerJoin struct {
	Name      string
	SlotNames []string
	Emit      EmitFunc

	mu      sync.Mutex
	pending map[flowmsg.MessageID]*pendingJoin
}

// New constructs a join across the given slot names, in output order.
func New(name string, slotNames []string, emit EmitFunc) *MultiLayerJoin {
	return &MultiLayerJoin{
		Name:      name,
		SlotNames: slotNames,
		Emit:      emit,
		pending:   make(map[flowmsg.MessageID]*pendingJoin),
	}
}

// PutData supplies the data for slot slotIndex under message id. Once
// every slot has a contribution for that id the join fires and the
// pending state for id is discarded.
func (j *MultiLayerJoin) PutData(slotIndex int, idx *cellindex.Index, id flowmsg.MessageID, store *flowmsg.ProductStore) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p, ok := j.pending[id]
	if !ok {
		p = &pendingJoin{stores: make([]*flowmsg.ProductStore, len(j.SlotNames)), index: idx}
		j.pending[id] = p
	}
	if p.stores[slotIndex] == nil {
		p.count++
	}
	p.stores[slotIndex] = store
	if idx.Depth() > p.index.Depth() {
		p.index = idx
	}

	if p.count == len(j.SlotNames) {
		delete(j.pending, id)
		j.Emit(p.index, id, p.stores)
	}
}

// PutEndToken has the shape of router.JoinNode's PutEndToken (a
// graphrun adapter forwards to it), discarding any join still
// incomplete for a scope that has fully closed — its inputs will never
// all arrive.
func (j *MultiLayerJoin) PutEndToken(idx *cellindex.Index, count int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, p := range j.pending {
		if p.index.Equal(idx) {
			delete(j.pending, id)
		}
	}
}

// SlotIndex returns the position of layerName in SlotNames, or -1.
func (j *MultiLayerJoin) SlotIndex(layerName string) int {
	for i, name := range j.SlotNames {
		if name == layerName {
			return i
		}
	}
	return -1
}
