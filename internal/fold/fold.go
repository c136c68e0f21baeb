package fold

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

// Func folds one input product store into the running accumulator for
// its enclosing scope. It returns the new accumulator value.
type Func func(acc any, idx *cellindex.Index, in *flowmsg.ProductStore) (any, error)

// EmitFunc delivers a completed fold result at the scope it closed.
type EmitFunc func(scopeIndex *cellindex.Index, result any, originalID flowmsg.MessageID)

// Fold aggregates every contribution under each instance of
// PartitionLayer into a single result, emitted once that scope's
// Counter confirms completeness.
type Fold struct {
	Name           string
	PartitionLayer string
	ResultProduct  string
	Init           func() any
	FoldFn         Func
	Emit           EmitFunc

	counters     *Counters
	accumulators *xsync.MapOf[uint64, any]
}

// New constructs a Fold. Init supplies the zero accumulator for a scope
// that is about to receive its first contribution.
func New(name, partitionLayer, resultProduct string, init func() any, foldFn Func, emit EmitFunc) *Fold {
	return &Fold{
		Name:           name,
		PartitionLayer: partitionLayer,
		ResultProduct:  resultProduct,
		Init:           init,
		FoldFn:         foldFn,
		Emit:           emit,
		counters:       NewCounters(),
		accumulators:   xsync.NewMapOf[uint64, any](),
	}
}

// HandleInput folds one contribution in, then checks whether its scope
// is now complete. idx is the contribution's own index; its ancestor at
// PartitionLayer identifies which running fold it belongs to. A
// contribution whose chain has no such ancestor is outside this fold's
// scope and is silently dropped, matching the upstream framework's
// behavior for folds that only cover part of the hierarchy.
func (f *Fold) HandleInput(idx *cellindex.Index, in *flowmsg.ProductStore) error {
	scopeIdx := idx.ParentAt(f.PartitionLayer)
	if scopeIdx == nil {
		return nil
	}

	prev, _ := f.accumulators.LoadOrCompute(scopeIdx.Hash(), f.Init)
	next, err := f.FoldFn(prev, idx, in)
	if err != nil {
		return cferrors.WrapUser(f.Name, err)
	}
	f.accumulators.Store(scopeIdx.Hash(), next)

	f.counters.CounterFor(scopeIdx.Hash()).Increment(idx.LayerHash())
	f.emitIfDone(scopeIdx)
	return nil
}

// HandleFlush records the expected contribution counts for the scope a
// closing FlushMessage describes, then checks for completion. Messages
// for any layer other than PartitionLayer are ignored.
func (f *Fold) HandleFlush(msg flowmsg.FlushMessage) {
	if msg.Index.LayerName() != f.PartitionLayer {
		return
	}
	f.counters.CounterFor(msg.Index.Hash()).SetFlushValue(msg.Counts, msg.OriginalID)
	f.emitIfDone(msg.Index)
}

func (f *Fold) emitIfDone(scopeIdx *cellindex.Index) {
	counter := f.counters.DoneWith(scopeIdx.Hash())
	if counter == nil {
		return
	}
	acc, ok := f.accumulators.LoadAndDelete(scopeIdx.Hash())
	if !ok {
		acc = f.Init()
	}
	f.Emit(scopeIdx, acc, counter.OriginalMessageID())
}
