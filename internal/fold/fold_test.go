package fold

import (
	"testing"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

func TestFoldEmitsOnceAllChildrenArrive(t *testing.T) {
	run := cellindex.Base().MakeChild(0, "run")
	e0 := run.MakeChild(0, "event")
	e1 := run.MakeChild(1, "event")
	e2 := run.MakeChild(2, "event")

	var emittedResult any
	var emittedCount int
	f := New("sum", "run", "total",
		func() any { return 0 },
		func(acc any, idx *cellindex.Index, in *flowmsg.ProductStore) (any, error) {
			v, _ := in.Get("n")
			return acc.(int) + v.(int), nil
		},
		func(scopeIdx *cellindex.Index, result any, originalID flowmsg.MessageID) {
			emittedResult = result
			emittedCount++
		},
	)

	mk := func(idx *cellindex.Index, n int) *flowmsg.ProductStore {
		s := flowmsg.NewProductStore(idx, "gen")
		s.Put("n", n)
		s.Seal()
		return s
	}

	if err := f.HandleInput(e0, mk(e0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := f.HandleInput(e1, mk(e1, 2)); err != nil {
		t.Fatal(err)
	}
	if emittedCount != 0 {
		t.Fatalf("fold emitted before flush arrived: count=%d", emittedCount)
	}

	if err := f.HandleInput(e2, mk(e2, 3)); err != nil {
		t.Fatal(err)
	}

	counts := flowmsg.NewFlushCounts(map[uint64]int{e0.LayerHash(): 3})
	f.HandleFlush(flowmsg.FlushMessage{Index: run, Counts: counts, OriginalID: 77})

	if emittedCount != 1 {
		t.Fatalf("expected exactly 1 emission, got %d", emittedCount)
	}
	if emittedResult.(int) != 6 {
		t.Fatalf("expected folded sum 6, got %v", emittedResult)
	}
}

func TestFoldDropsContributionsOutsidePartition(t *testing.T) {
	other := cellindex.Base().MakeChild(0, "otherlayer").MakeChild(0, "event")
	calls := 0
	f := New("sum", "run", "total",
		func() any { return 0 },
		func(acc any, idx *cellindex.Index, in *flowmsg.ProductStore) (any, error) {
			calls++
			return acc, nil
		},
		func(*cellindex.Index, any, flowmsg.MessageID) {},
	)
	s := flowmsg.NewProductStore(other, "gen")
	s.Seal()
	if err := f.HandleInput(other, s); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatal("fold function should not run for data outside its partition layer")
	}
}
