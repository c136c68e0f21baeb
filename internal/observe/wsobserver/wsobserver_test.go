package wsobserver

import (
	"context"
	"testing"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/flowmsg"
	"github.com/cellflow/cellflow/internal/logging"
)

func TestBroadcastWithNoConnectionsIsANoop(t *testing.T) {
	h := New(logging.Nop())
	if err := h.Broadcast(Event{IndexPath: "[run:0]"}); err != nil {
		t.Fatalf("broadcast with no connections should not error, got %v", err)
	}
}

func TestEmitMatchesObserveFuncShape(t *testing.T) {
	h := New(logging.Nop())

	idx := cellindex.Base().MakeChild(0, "run")
	store := flowmsg.NewProductStore(idx, "gen")
	store.Put("total", 6)
	store.Seal()

	if err := h.Emit(context.Background(), idx, store); err != nil {
		t.Fatalf("emit with no connected clients should not error, got %v", err)
	}
}
