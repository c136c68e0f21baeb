package router

import (
	"testing"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

type recordingProvider struct {
	layer      string
	indices    []*cellindex.Index
	endTokens  []*cellindex.Index
	flushes    []flowmsg.FlushMessage
}

func (p *recordingProvider) LayerName() string { return p.layer }
func (p *recordingProvider) PutIndex(idx *cellindex.Index, id flowmsg.MessageID, cache bool) {
	p.indices = append(p.indices, idx)
}
func (p *recordingProvider) PutEndToken(idx *cellindex.Index, count int) {
	p.endTokens = append(p.endTokens, idx)
}
func (p *recordingProvider) PutFlush(msg flowmsg.FlushMessage) {
	p.flushes = append(p.flushes, msg)
}

func TestRouteAnnouncesMatchingProvider(t *testing.T) {
	r := New()
	provider := &recordingProvider{layer: "event"}
	r.RegisterProvider(provider, 0)

	run := cellindex.Base().MakeChild(0, "run")
	evt := run.MakeChild(0, "event")

	if _, err := r.Route(run); err != nil {
		t.Fatalf("Route(run) error: %v", err)
	}
	if _, err := r.Route(evt); err != nil {
		t.Fatalf("Route(event) error: %v", err)
	}
	if len(provider.indices) != 1 {
		t.Fatalf("expected 1 index announcement, got %d", len(provider.indices))
	}
	if !provider.indices[0].Equal(evt) {
		t.Fatal("provider received wrong index")
	}
}

func TestBackoutClosesDeeperScopesAndEmitsFlush(t *testing.T) {
	r := New()
	provider := &recordingProvider{layer: "event"}
	r.RegisterProvider(provider, 0)

	run := cellindex.Base().MakeChild(0, "run")
	evt0 := run.MakeChild(0, "event")
	evt1 := run.MakeChild(1, "event")

	if _, err := r.Route(run); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Route(evt0); err != nil {
		t.Fatal(err)
	}
	// routing a sibling at the same depth must close evt0's scope first.
	if _, err := r.Route(evt1); err != nil {
		t.Fatal(err)
	}

	if len(provider.endTokens) != 1 {
		t.Fatalf("expected 1 end token from closing evt0, got %d", len(provider.endTokens))
	}
	if len(provider.flushes) != 1 {
		t.Fatalf("expected 1 flush from closing evt0, got %d", len(provider.flushes))
	}

	r.Drain()
	if len(provider.endTokens) != 2 {
		t.Fatalf("expected 2 end tokens after Drain, got %d", len(provider.endTokens))
	}
}

func TestDrainFlushCountsReflectChildren(t *testing.T) {
	r := New()
	provider := &recordingProvider{layer: "run"}
	r.RegisterProvider(provider, 0)

	run := cellindex.Base().MakeChild(0, "run")
	if _, err := r.Route(run); err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		if _, err := r.Route(run.MakeChild(i, "event")); err != nil {
			t.Fatal(err)
		}
	}
	r.Drain()

	if len(provider.flushes) != 1 {
		t.Fatalf("expected 1 flush for run scope, got %d", len(provider.flushes))
	}
	counts := provider.flushes[0].Counts
	n, ok := counts.CountFor(run.MakeChild(0, "event").LayerHash())
	if !ok || n != 3 {
		t.Fatalf("expected 3 event children recorded, got %d (ok=%v)", n, ok)
	}
}

type recordingJoinNode struct {
	name      string
	indices   []*cellindex.Index
	caches    []bool
	endTokens []int
}

func (n *recordingJoinNode) PutIndex(idx *cellindex.Index, id flowmsg.MessageID, cache bool) {
	n.indices = append(n.indices, idx)
	n.caches = append(n.caches, cache)
}

func (n *recordingJoinNode) PutEndToken(idx *cellindex.Index, count int) {
	n.endTokens = append(n.endTokens, count)
}

// TestRegisterJoinRoutesExactAndParentSlots exercises a join spanning two
// layers (run, event): the run slot should only ever see cache=true
// announcements resolved to the run's own index, the event slot should
// only ever see cache=false announcements at its own index, and the run
// slot's end token count should reflect how many events referenced it,
// not a hardcoded 1.
func TestRegisterJoinRoutesExactAndParentSlots(t *testing.T) {
	r := New()
	runSlot := &recordingJoinNode{name: "run"}
	evtSlot := &recordingJoinNode{name: "event"}
	r.RegisterJoin([]JoinSlot{
		{LayerName: "run", Node: runSlot},
		{LayerName: "event", Node: evtSlot},
	})

	run := cellindex.Base().MakeChild(0, "run")
	if _, err := r.Route(run); err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		if _, err := r.Route(run.MakeChild(i, "event")); err != nil {
			t.Fatal(err)
		}
	}
	r.Drain()

	if len(runSlot.indices) != 3 {
		t.Fatalf("expected run slot routed once per event (each resolved to the run's own index), got %d", len(runSlot.indices))
	}
	if !runSlot.caches[0] {
		t.Fatal("run slot is coarser than the routed index; expected cache=true")
	}
	if !runSlot.indices[0].Equal(run) {
		t.Fatal("run slot should have been routed the run's own index, not a finer one")
	}

	if len(evtSlot.indices) != 3 {
		t.Fatalf("expected event slot routed once per event, got %d", len(evtSlot.indices))
	}
	for _, c := range evtSlot.caches {
		if c {
			t.Fatal("event slot exactly matches the routed index; expected cache=false")
		}
	}

	if len(runSlot.endTokens) != 1 || runSlot.endTokens[0] != 3 {
		t.Fatalf("expected run slot end token count 3 (one per event), got %v", runSlot.endTokens)
	}
	if len(evtSlot.endTokens) != 0 {
		t.Fatalf("expected no end tokens on the exact-match event slot (its counter only tracks coarser, parent-matched routings, which never happen for its own layer), got %v", evtSlot.endTokens)
	}
}

// TestRegisterJoinSkipsEndTokenWhenNothingRouted ensures a slot that was
// never referenced during its scope's lifetime produces no end token at
// all, rather than a spurious zero-count one.
func TestRegisterJoinSkipsEndTokenWhenNothingRouted(t *testing.T) {
	r := New()
	runSlot := &recordingJoinNode{name: "run"}
	evtSlot := &recordingJoinNode{name: "event"}
	r.RegisterJoin([]JoinSlot{
		{LayerName: "run", Node: runSlot},
		{LayerName: "event", Node: evtSlot},
	})

	run := cellindex.Base().MakeChild(0, "run")
	if _, err := r.Route(run); err != nil {
		t.Fatal(err)
	}
	// no events routed under this run at all
	r.Drain()

	if len(runSlot.endTokens) != 0 {
		t.Fatalf("expected no end token for a run scope that saw no events, got %v", runSlot.endTokens)
	}
}
