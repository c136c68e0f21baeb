package repeater

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/cellflow/cellflow/internal/flowmsg"
)

func TestReplayToMultipleRequesters(t *testing.T) {
	var emitted []flowmsg.MessageID
	r := New("t", func(store *flowmsg.ProductStore, id flowmsg.MessageID) {
		emitted = append(emitted, id)
	}, zerolog.Nop())

	const key = uint64(42)
	store := flowmsg.NewProductStore(nil, "producer")

	// two consumers ask for the data before it exists.
	r.PutIndex(key, 1, true)
	r.PutIndex(key, 2, true)
	if len(emitted) != 0 {
		t.Fatalf("expected no emissions before data arrives, got %d", len(emitted))
	}

	r.PutData(key, store, 99)
	if len(emitted) != 2 {
		t.Fatalf("expected 2 replayed emissions, got %d", len(emitted))
	}

	// a third consumer arrives after the data is cached; gets it immediately.
	r.PutIndex(key, 3, true)
	if len(emitted) != 3 {
		t.Fatalf("expected 3rd emission after late request, got %d", len(emitted))
	}

	r.PutEndToken(key, 3)
	if _, ok := r.cache[key]; ok {
		t.Fatal("expected cache entry to be evicted after flush and full drain")
	}
}

func TestPassThroughAfterUncachedIndex(t *testing.T) {
	var emitted []flowmsg.MessageID
	r := New("t", func(store *flowmsg.ProductStore, id flowmsg.MessageID) {
		emitted = append(emitted, id)
	}, zerolog.Nop())

	const key = uint64(7)
	r.PutIndex(key, 1, false) // signals permanent pass-through

	store := flowmsg.NewProductStore(nil, "producer")
	r.PutData(key, store, 50)
	if len(emitted) != 1 || emitted[0] != 50 {
		t.Fatalf("expected pass-through emission with original id, got %v", emitted)
	}
	if r.cacheEnabled {
		t.Fatal("expected repeater to be in pass-through mode")
	}
}

func TestCachedDataFlushedOnUncachedTransition(t *testing.T) {
	var emitted []flowmsg.MessageID
	r := New("t", func(store *flowmsg.ProductStore, id flowmsg.MessageID) {
		emitted = append(emitted, id)
	}, zerolog.Nop())

	const key = uint64(13)
	store := flowmsg.NewProductStore(nil, "producer")

	// data is cached under its own id while still in caching mode.
	r.PutData(key, store, 77)
	if len(emitted) != 0 {
		t.Fatalf("expected no emission while caching, got %d", len(emitted))
	}

	// a later uncached index announcement transitions to pass-through and
	// must flush the cached entry under its own original id, not the
	// transitioning request's id.
	r.PutIndex(key, 999, false)
	if len(emitted) != 1 || emitted[0] != 77 {
		t.Fatalf("expected single emission with cached data's own id 77, got %v", emitted)
	}
	if r.cacheEnabled {
		t.Fatal("expected repeater to be in pass-through mode")
	}
}

// TestPassThroughTransitionDoesNotDoubleEmit reproduces the sequence
// where an outstanding replay (drained while still caching) and a
// transition-time catch-up emission land on the same key: the entry
// must be erased unconditionally on transition, not re-emitted again
// once the later end-token brings its counter back to zero.
func TestPassThroughTransitionDoesNotDoubleEmit(t *testing.T) {
	var emitted []flowmsg.MessageID
	r := New("t", func(store *flowmsg.ProductStore, id flowmsg.MessageID) {
		emitted = append(emitted, id)
	}, zerolog.Nop())

	const key = uint64(21)
	store := flowmsg.NewProductStore(nil, "producer")

	// queued, no data yet.
	r.PutIndex(key, 1, true)
	// drains the queued id=1; counter=1, hasData=true.
	r.PutData(key, store, 99)
	if len(emitted) != 1 || emitted[0] != 1 {
		t.Fatalf("expected single drained emission with id 1, got %v", emitted)
	}

	// transition: catch-up emits id=99, counter=2.
	r.PutIndex(key, 2, false)
	if len(emitted) != 2 || emitted[1] != 99 {
		t.Fatalf("expected transition catch-up emission with id 99, got %v", emitted)
	}

	// counter back to 0; must not re-emit.
	r.PutEndToken(key, 2)
	if len(emitted) != 2 {
		t.Fatalf("expected no further emissions after end token, got %v", emitted)
	}
	if _, ok := r.cache[key]; ok {
		t.Fatal("expected cache entry to be gone after pass-through transition")
	}
}
