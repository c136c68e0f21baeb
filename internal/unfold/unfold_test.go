package unfold

import (
	"testing"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/flowmsg"
	"github.com/cellflow/cellflow/internal/router"
)

func TestUnfoldRoutesEachChildAndAccountsForFlush(t *testing.T) {
	r := router.New()
	run := cellindex.Base().MakeChild(0, "run")
	if _, err := r.Route(run); err != nil {
		t.Fatal(err)
	}

	var flushes []flowmsg.FlushMessage
	r.RegisterFlushSink("run", router.FlushSinkFunc(func(msg flowmsg.FlushMessage) {
		flushes = append(flushes, msg)
	}))

	var emittedIDs []flowmsg.MessageID
	u := New("split", "event", "value",
		func(parent *cellindex.Index, in *flowmsg.ProductStore) ([]any, error) {
			return []any{10, 20, 30}, nil
		},
		r.Route,
		func(child *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) {
			emittedIDs = append(emittedIDs, id)
		},
	)

	parentStore := flowmsg.NewProductStore(run, "gen")
	parentStore.Seal()
	if err := u.HandleInput(run, parentStore); err != nil {
		t.Fatal(err)
	}
	if len(emittedIDs) != 3 {
		t.Fatalf("expected 3 children emitted, got %d", len(emittedIDs))
	}

	r.Drain()
	if len(flushes) != 1 {
		t.Fatalf("expected 1 flush for the run scope, got %d", len(flushes))
	}
	n, ok := flushes[0].Counts.CountFor(run.MakeChild(0, "event").LayerHash())
	if !ok || n != 3 {
		t.Fatalf("expected flush to account for 3 unfolded children, got %d (ok=%v)", n, ok)
	}
}
