package cellindex

import "testing"

func TestBaseIndex(t *testing.T) {
	b := Base()
	if b.HasParent() {
		t.Fatal("base index must have no parent")
	}
	if b.Depth() != 0 {
		t.Fatalf("base depth = %d, want 0", b.Depth())
	}
	if b.Number() != MaxNumber {
		t.Fatalf("base number = %d, want MaxNumber", b.Number())
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Base().MakeChild(0, "run").MakeChild(1, "event")
	b := Base().MakeChild(0, "run").MakeChild(1, "event")
	if a.Hash() != b.Hash() {
		t.Fatalf("equal chains produced different hashes: %x vs %x", a.Hash(), b.Hash())
	}
	if a.LayerHash() != b.LayerHash() {
		t.Fatalf("equal chains produced different layer hashes")
	}
	if !a.Equal(b) {
		t.Fatal("structurally identical indices should be Equal")
	}
}

func TestHashSensitiveToNumberAndLayer(t *testing.T) {
	run := Base().MakeChild(0, "run")
	a := run.MakeChild(1, "event")
	b := run.MakeChild(2, "event")
	if a.Hash() == b.Hash() {
		t.Fatal("different numbers at the same layer must hash differently")
	}

	c := run.MakeChild(1, "subrun")
	if a.LayerHash() == c.LayerHash() {
		t.Fatal("different layer names must produce different layer hashes")
	}
}

func TestLayerHashSharedAcrossSiblingSubtrees(t *testing.T) {
	run1 := Base().MakeChild(0, "run")
	run2 := Base().MakeChild(1, "run")
	e1 := run1.MakeChild(5, "event")
	e2 := run2.MakeChild(5, "event")
	if e1.LayerHash() != e2.LayerHash() {
		t.Fatal("same position in the hierarchy must share layer hash regardless of ancestor numbers")
	}
	if e1.Hash() == e2.Hash() {
		t.Fatal("different ancestor numbers must still produce different content hashes")
	}
}

func TestParentAtNearestAncestor(t *testing.T) {
	idx := Base().MakeChild(0, "run").MakeChild(0, "subrun").MakeChild(3, "event")

	if p := idx.ParentAt("run"); p == nil || p.Number() != 0 || p.LayerName() != "run" {
		t.Fatalf("ParentAt(run) = %v, want run layer ancestor", p)
	}
	if p := idx.ParentAt("subrun"); p == nil || p.LayerName() != "subrun" {
		t.Fatalf("ParentAt(subrun) did not find nearest subrun ancestor")
	}
	if p := idx.ParentAt("nonexistent"); p != nil {
		t.Fatalf("ParentAt(nonexistent) = %v, want nil", p)
	}

	direct := idx.Parent()
	if direct == nil || direct.LayerName() != "subrun" {
		t.Fatalf("Parent() = %v, want direct subrun parent", direct)
	}
}

func TestLayerPath(t *testing.T) {
	idx := Base().MakeChild(0, "run").MakeChild(1, "subrun").MakeChild(2, "event")
	want := "/job/run/subrun/event"
	if got := idx.LayerPath(); got != want {
		t.Fatalf("LayerPath() = %q, want %q", got, want)
	}
	if got := Base().LayerPath(); got != "/job" {
		t.Fatalf("Base().LayerPath() = %q, want /job", got)
	}
}

func TestLess(t *testing.T) {
	run := Base().MakeChild(0, "run")
	a := run.MakeChild(1, "event")
	b := run.MakeChild(2, "event")
	if !a.Less(b) {
		t.Fatal("event 1 should sort before event 2")
	}
	if b.Less(a) {
		t.Fatal("event 2 should not sort before event 1")
	}

	run0 := Base().MakeChild(0, "run")
	run1 := Base().MakeChild(1, "run")
	e0 := run0.MakeChild(9, "event")
	e1 := run1.MakeChild(0, "event")
	if !e0.Less(e1) {
		t.Fatal("ordering should compare the outermost differing number first")
	}
}

func TestString(t *testing.T) {
	idx := Base().MakeChild(0, "run").MakeChild(3, "event")
	want := "[event:3, run:0]"
	if got := idx.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got := Base().String(); got != "[]" {
		t.Fatalf("Base().String() = %q, want []", got)
	}
}

func TestHashHexLength(t *testing.T) {
	idx := Base().MakeChild(0, "run")
	if got := idx.HashHex(); len(got) != 16 {
		t.Fatalf("HashHex() length = %d, want 16 (8 bytes hex-encoded)", len(got))
	}
}
