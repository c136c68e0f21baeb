// Package router implements the index-routing contract: as the driver
// opens and closes data cells, the router announces each cell to the
// nodes that provide products at it, arms multi-layer joins once every
// branch they need is present, and emits end-tokens and flush messages
// when a scope closes. Modeled on the index_router of the dataflow
// framework this scheduler's design is grounded in.
package router

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

// ProviderNode receives index announcements for the single layer it was
// registered under, plus the end-token emitted when that scope closes.
type ProviderNode interface {
	LayerName() string
	PutIndex(idx *cellindex.Index, id flowmsg.MessageID, cache bool)
	PutEndToken(idx *cellindex.Index, count int)
	PutFlush(msg flowmsg.FlushMessage)
}

// FlushSink receives the flush message closing any scope at the layer
// it was registered for, independent of whether a ProviderNode is also
// registered there — a fold aggregates over a layer's closure even when
// nothing provides root data at that exact layer.
type FlushSink interface {
	PutFlush(msg flowmsg.FlushMessage)
}

// FlushSinkFunc adapts a plain function to FlushSink.
type FlushSinkFunc func(msg flowmsg.FlushMessage)

// PutFlush calls f.
func (f FlushSinkFunc) PutFlush(msg flowmsg.FlushMessage) { f(msg) }

// JoinSlot is one input family of a registered multi-layer join.
type JoinSlot struct {
	LayerName string
	Node      JoinNode
}

// JoinNode receives index and end-token traffic for one slot of a
// multi-layer join. cache mirrors the upstream framework's index_message
// cache flag: false for a slot whose layer exactly matches the routed
// index (no caching needed, the slot already sees one message per
// arrival), true for a slot whose layer is a coarser ancestor of the
// routed index (its product must be cached and replayed for every finer
// arrival — see internal/repeater).
type JoinNode interface {
	PutIndex(idx *cellindex.Index, id flowmsg.MessageID, cache bool)
	PutEndToken(idx *cellindex.Index, count int)
}

type providerBinding struct {
	layerHash uint64 // 0 means "matches any index at this layer name"
	node      ProviderNode
}

// joinRegistration is one RegisterJoin call's slots, plus one
// accumulated end-token counter per slot: the number of parent-matched
// (coarser) routings the slot has seen since its own layer's scope last
// closed. This mirrors multilayer_slot::counter_ in the framework this
// design is grounded in — a single running tally per slot, not one per
// scope instance, since only one scope at a given layer is ever open at
// a time.
type joinRegistration struct {
	slots    []JoinSlot
	counters []int
}

// slotRef identifies one slot of one registered join.
type slotRef struct {
	reg  *joinRegistration
	slot int
}

// Router is the sole owner of message-id assignment and scope lifetime
// for one graph execution.
type Router struct {
	providers map[string][]*providerBinding
	joins     []*joinRegistration

	nextMessageID uint64

	scopes []*scope

	matchedBroadcasters *xsync.MapOf[uint64, *providerBinding]
	matchedRouting      *xsync.MapOf[uint64, []slotRef]
	matchedFlushing     *xsync.MapOf[uint64, []slotRef]

	flushSinks map[string][]FlushSink
}

type scope struct {
	index       *cellindex.Index
	flushCounts map[uint64]int
	originalID  flowmsg.MessageID
}

// New creates an empty router.
func New() *Router {
	return &Router{
		providers:           make(map[string][]*providerBinding),
		matchedBroadcasters: xsync.NewMapOf[uint64, *providerBinding](),
		matchedRouting:      xsync.NewMapOf[uint64, []slotRef](),
		matchedFlushing:     xsync.NewMapOf[uint64, []slotRef](),
		flushSinks:          make(map[string][]FlushSink),
	}
}

// RegisterFlushSink arranges for sink to receive the flush message
// closing every scope at layerName, in addition to whatever
// ProviderNode happens to be bound there.
func (r *Router) RegisterFlushSink(layerName string, sink FlushSink) {
	r.flushSinks[layerName] = append(r.flushSinks[layerName], sink)
}

// RegisterProvider binds node to its declared layer. layerHash, if
// non-zero, disambiguates providers sharing a layer name but occupying
// different positions in the hierarchy; pass 0 to match any index at
// that layer name.
func (r *Router) RegisterProvider(node ProviderNode, layerHash uint64) {
	name := node.LayerName()
	r.providers[name] = append(r.providers[name], &providerBinding{layerHash: layerHash, node: node})
}

// RegisterJoin groups slots as one multi-layer join; the join is routed
// to only once every slot has a matching index somewhere in the current
// scope chain.
func (r *Router) RegisterJoin(slots []JoinSlot) {
	r.joins = append(r.joins, &joinRegistration{slots: slots, counters: make([]int, len(slots))})
}

// Route opens a new data cell at idx: it closes any scopes the driver has
// backed out of, assigns a message id, announces idx to matching
// providers and joins, and pushes a new open scope.
func (r *Router) Route(idx *cellindex.Index) (flowmsg.MessageID, error) {
	r.backoutTo(idx.Depth())

	id := flowmsg.MessageID(atomic.AddUint64(&r.nextMessageID, 1))

	if err := r.sendToProviders(idx, id); err != nil {
		return 0, err
	}
	r.sendToJoins(idx, id)

	r.scopes = append(r.scopes, &scope{index: idx, flushCounts: make(map[uint64]int), originalID: id})
	if parent := idx.Parent(); parent != nil {
		r.noteChild(parent, idx.LayerHash())
	}
	return id, nil
}

// Drain closes every remaining open scope, in innermost-first order, as
// the run finishes.
func (r *Router) Drain() {
	r.backoutTo(0)
}

// backoutTo closes every open scope whose depth is at least newDepth,
// innermost first, emitting its end-tokens and flush message.
func (r *Router) backoutTo(newDepth uint64) {
	for len(r.scopes) > 0 && r.scopes[len(r.scopes)-1].index.Depth() >= newDepth {
		last := r.scopes[len(r.scopes)-1]
		r.scopes = r.scopes[:len(r.scopes)-1]
		r.closeScope(last)
	}
}

func (r *Router) closeScope(s *scope) {
	idx := s.index

	if bindings, ok := r.matchedBroadcasters.Load(idx.LayerHash()); ok && bindings != nil {
		bindings.node.PutEndToken(idx, 1)
	}

	if refs, ok := r.matchedFlushing.Load(idx.LayerHash()); ok {
		for _, ref := range refs {
			n := ref.reg.counters[ref.slot]
			ref.reg.counters[ref.slot] = 0
			if n == 0 {
				// No coarser-layer routing referenced this slot during its
				// scope's lifetime; nothing to report (matches the upstream
				// framework's multilayer_slot::put_end_token early return).
				continue
			}
			ref.reg.slots[ref.slot].Node.PutEndToken(idx, n)
		}
	}

	var counts *flowmsg.FlushCounts
	if len(s.flushCounts) > 0 {
		counts = flowmsg.NewFlushCounts(s.flushCounts)
	}
	msg := flowmsg.FlushMessage{Index: idx, Counts: counts, OriginalID: s.originalID}

	if binding, ok := r.matchedBroadcasters.Load(idx.LayerHash()); ok && binding != nil {
		binding.node.PutFlush(msg)
	}
	for _, sink := range r.flushSinks[idx.LayerName()] {
		sink.PutFlush(msg)
	}
}

// noteChild records, on the scope owning parent, that one more child at
// childLayerHash was produced — the expected-count side of fold
// completion.
func (r *Router) noteChild(parent *cellindex.Index, childLayerHash uint64) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if r.scopes[i].index.Equal(parent) {
			r.scopes[i].flushCounts[childLayerHash]++
			return
		}
	}
}

func (r *Router) sendToProviders(idx *cellindex.Index, id flowmsg.MessageID) error {
	binding, cached := r.matchedBroadcasters.Load(idx.LayerHash())
	if !cached {
		var err error
		binding, err = r.resolveProvider(idx)
		if err != nil {
			return err
		}
		r.matchedBroadcasters.Store(idx.LayerHash(), binding)
	}
	if binding != nil {
		binding.node.PutIndex(idx, id, true)
	}
	return nil
}

func (r *Router) resolveProvider(idx *cellindex.Index) (*providerBinding, error) {
	candidates := r.providers[idx.LayerName()]
	if len(candidates) == 0 {
		return nil, nil
	}
	var exact []*providerBinding
	var wildcard *providerBinding
	for _, c := range candidates {
		switch {
		case c.layerHash == idx.LayerHash():
			exact = append(exact, c)
		case c.layerHash == 0:
			wildcard = c
		}
	}
	switch {
	case len(exact) == 1:
		return exact[0], nil
	case len(exact) > 1:
		return nil, cferrors.NewMisconfiguration("ambiguous provider for layer %q at hash %x: %d candidates", idx.LayerName(), idx.LayerHash(), len(exact))
	case wildcard != nil:
		return wildcard, nil
	default:
		return nil, nil
	}
}

// sendToJoins delivers idx's routing announcement to every join slot
// that should see it. A slot whose layer exactly matches idx gets idx
// itself with cache=false (it needs no replay: one announcement, one
// arrival). A slot whose layer is a coarser ancestor of idx gets that
// ancestor index with cache=true (its product, cached by a repeater,
// must be replayed under this finer id) and has its end-token counter
// bumped so the ancestor's own scope close later reports how many finer
// arrivals referenced it.
func (r *Router) sendToJoins(idx *cellindex.Index, id flowmsg.MessageID) {
	routing, ok := r.matchedRouting.Load(idx.LayerHash())
	if !ok {
		var flushing []slotRef
		routing, flushing = r.computeJoinMatch(idx)
		r.matchedRouting.Store(idx.LayerHash(), routing)
		r.matchedFlushing.Store(idx.LayerHash(), flushing)
	}
	for _, ref := range routing {
		slot := ref.reg.slots[ref.slot]
		if slot.LayerName == idx.LayerName() {
			slot.Node.PutIndex(idx, id, false)
			continue
		}
		parent := idx.ParentAt(slot.LayerName)
		ref.reg.counters[ref.slot]++
		slot.Node.PutIndex(parent, id, true)
	}
}

// computeJoinMatch is only consulted on a cache miss; its result is
// memoized in matchedRouting/matchedFlushing keyed by layer hash so
// repeated indices at the same hierarchy position skip the scan.
//
// Per slot: an exact match means idx occupies that slot's layer exactly;
// a parent match means idx has an ancestor at that slot's layer. Routing
// (every slot of a join, exact or parent) fires only when the join has
// at least one exact match AND every one of its slots matched somehow —
// otherwise this index is irrelevant to that join and nothing is sent.
// Flushing is tracked per slot independent of whether its join routed at
// all: any slot whose layer exactly matches idx is added, because that
// slot's own scope is about to open (and, later, close) regardless of
// whether the rest of its join ever completes.
func (r *Router) computeJoinMatch(idx *cellindex.Index) (routing, flushing []slotRef) {
	for _, reg := range r.joins {
		hasExact := false
		matched := 0
		var regMatches []slotRef
		for i, slot := range reg.slots {
			switch {
			case slot.LayerName == idx.LayerName():
				hasExact = true
				matched++
				ref := slotRef{reg: reg, slot: i}
				flushing = append(flushing, ref)
				regMatches = append(regMatches, ref)
			case idx.ParentAt(slot.LayerName) != nil:
				matched++
				regMatches = append(regMatches, slotRef{reg: reg, slot: i})
			}
		}
		if hasExact && matched == len(reg.slots) {
			routing = append(routing, regMatches...)
		}
	}
	return routing, flushing
}
