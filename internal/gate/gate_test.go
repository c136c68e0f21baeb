package gate

import (
	"testing"

	"github.com/cellflow/cellflow/internal/flowmsg"
)

func TestEvaluatorCompilesAndCaches(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Eval("pt > 10", map[string]any{"pt": 15.0})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected predicate to pass")
	}
	ok, err = e.Eval("pt > 10", map[string]any{"pt": 5.0})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected predicate to fail")
	}
}

func TestEvaluatorRejectsNonBoolResult(t *testing.T) {
	e := NewEvaluator()
	if _, err := e.Eval("1 + 1", nil); err == nil {
		t.Fatal("expected error compiling a non-bool expression with AsBool()")
	}
}

func TestGateANDsAllVerdicts(t *testing.T) {
	var passed, failed []flowmsg.MessageID
	g := New("both", 2,
		func(id flowmsg.MessageID) { passed = append(passed, id) },
		func(id flowmsg.MessageID) { failed = append(failed, id) },
	)

	g.PutVerdict(1, true)
	g.PutVerdict(1, true)
	if len(passed) != 1 || len(failed) != 0 {
		t.Fatalf("expected message 1 to pass, got passed=%v failed=%v", passed, failed)
	}

	g.PutVerdict(2, true)
	g.PutVerdict(2, false)
	if len(failed) != 1 {
		t.Fatalf("expected message 2 to fail, got failed=%v", failed)
	}
}

func TestGateConsumesAllVerdictsEvenAfterFailureKnown(t *testing.T) {
	calls := 0
	g := New("both", 3,
		func(flowmsg.MessageID) { calls++ },
		func(flowmsg.MessageID) { calls++ },
	)
	g.PutVerdict(1, false)
	if len(g.pending) != 1 {
		t.Fatal("gate must keep buffering until Arity verdicts arrive, even once the AND is already false")
	}
	g.PutVerdict(1, true)
	g.PutVerdict(1, true)
	if calls != 1 {
		t.Fatalf("expected exactly one fire after all verdicts consumed, got %d", calls)
	}
	if len(g.pending) != 0 {
		t.Fatal("pending state must be cleared once decided")
	}
}
