package gate

import (
	"sync"

	"github.com/cellflow/cellflow/internal/flowmsg"
)

type verdictState struct {
	result  bool
	arrived int
}

// Gate combines N independently-evaluated predicate verdicts for the
// same message into one AND decision. Every verdict is consumed even
// after the combined result is already known to be false, so a slow
// predicate can't leave a stray pending entry behind.
type Gate struct {
	Name    string
	Arity   int
	OnPass  func(id flowmsg.MessageID)
	OnFail  func(id flowmsg.MessageID)

	mu      sync.Mutex
	pending map[flowmsg.MessageID]*verdictState
}

// New constructs a Gate requiring arity verdicts per message before
// deciding.
func New(name string, arity int, onPass, onFail func(id flowmsg.MessageID)) *Gate {
	return &Gate{
		Name:    name,
		Arity:   arity,
		OnPass:  onPass,
		OnFail:  onFail,
		pending: make(map[flowmsg.MessageID]*verdictState),
	}
}

// PutVerdict records one predicate's decision for id. Once Arity
// verdicts have arrived for id, the combined AND result fires and the
// pending state is discarded.
func (g *Gate) PutVerdict(id flowmsg.MessageID, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, exists := g.pending[id]
	if !exists {
		s = &verdictState{result: true}
		g.pending[id] = s
	}
	s.result = s.result && ok
	s.arrived++

	if s.arrived < g.Arity {
		return
	}
	delete(g.pending, id)
	if s.result {
		g.OnPass(id)
	} else {
		g.OnFail(id)
	}
}
