package driver

import (
	"context"
	"testing"

	"github.com/cellflow/cellflow/internal/cellindex"
)

func TestLayerGeneratorDepthFirstOrder(t *testing.T) {
	lg := NewLayerGenerator()
	lg.AddLayer("run", "", 2)
	lg.AddLayer("event", "run", 2)

	got := lg.Build()
	want := []string{
		"[run:0]",
		"[event:0, run:0]",
		"[event:1, run:0]",
		"[run:1]",
		"[event:0, run:1]",
		"[event:1, run:1]",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d indices, want %d", len(got), len(want))
	}
	for i, idx := range got {
		if idx.String() != want[i] {
			t.Fatalf("index %d = %s, want %s", i, idx.String(), want[i])
		}
	}
}

func TestPumpDrainsAfterExhaustion(t *testing.T) {
	lg := NewLayerGenerator()
	lg.AddLayer("run", "", 1)
	lg.AddLayer("event", "run", 3)
	indices := lg.Build()

	drv := NewSequenceDriver(indices)
	var routed []*cellindex.Index
	drained := false

	err := Pump(context.Background(), drv,
		func(idx *cellindex.Index) error {
			routed = append(routed, idx)
			return nil
		},
		func() { drained = true },
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(routed) != len(indices) {
		t.Fatalf("routed %d indices, want %d", len(routed), len(indices))
	}
	if !drained {
		t.Fatal("expected drain to be called after pump exhausts the driver")
	}
}

func TestPumpStopsOnFirstError(t *testing.T) {
	lg := NewLayerGenerator()
	lg.AddLayer("run", "", 5)
	indices := lg.Build()
	drv := NewSequenceDriver(indices)

	calls := 0
	wantErr := errTest{}
	err := Pump(context.Background(), drv,
		func(idx *cellindex.Index) error {
			calls++
			if calls == 2 {
				return wantErr
			}
			return nil
		},
		func() {},
	)
	if err != wantErr {
		t.Fatalf("expected pump to surface the first route error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected pump to stop after the failing call, got %d calls", calls)
	}
}

type errTest struct{}

func (errTest) Error() string { return "test error" }
