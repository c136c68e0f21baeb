// Package flowmsg defines the product containers and message envelopes
// that travel between nodes in the execution graph.
package flowmsg

import (
	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
)

// Products is an insertion-ordered bag of named values produced at one
// data cell. Lookups by name that miss report a cferrors.KindNoSuchProduct
// error.
type Products struct {
	order []string
	byKey map[string]any
}

// NewProducts returns an empty product bag.
func NewProducts() *Products {
	return &Products{byKey: make(map[string]any)}
}

// Put inserts or overwrites a named product, recording insertion order for
// first-time keys.
func (p *Products) Put(name string, value any) {
	if _, ok := p.byKey[name]; !ok {
		p.order = append(p.order, name)
	}
	p.byKey[name] = value
}

// Get returns the product registered under name, or a NoSuchProduct error.
func (p *Products) Get(name string) (any, error) {
	v, ok := p.byKey[name]
	if !ok {
		return nil, cferrors.NewNoSuchProduct(name)
	}
	return v, nil
}

// Names returns product names in insertion order.
func (p *Products) Names() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len reports the number of distinct products in the bag.
func (p *Products) Len() int { return len(p.order) }

// ProductStore bundles an index with the products published at it. Once
// Seal is called the store is immutable; further Put calls panic.
type ProductStore struct {
	Index    *cellindex.Index
	Source   string
	products *Products
	sealed   bool
}

// NewProductStore creates a writable store at idx, attributing products to
// source (the node name that will populate it).
func NewProductStore(idx *cellindex.Index, source string) *ProductStore {
	return &ProductStore{Index: idx, Source: source, products: NewProducts()}
}

// Put adds a product to the store. Panics if the store has been sealed.
func (s *ProductStore) Put(name string, value any) {
	if s.sealed {
		panic("flowmsg: Put on sealed ProductStore " + s.Index.String())
	}
	s.products.Put(name, value)
}

// Get retrieves a product by name.
func (s *ProductStore) Get(name string) (any, error) {
	return s.products.Get(name)
}

// Names lists products in insertion order.
func (s *ProductStore) Names() []string { return s.products.Names() }

// Seal marks the store immutable. Idempotent.
func (s *ProductStore) Seal() { s.sealed = true }

// Sealed reports whether the store has been sealed.
func (s *ProductStore) Sealed() bool { return s.sealed }

// MessageID uniquely identifies a single traversal of a message through
// the graph. Monotonically assigned by the router.
type MessageID uint64

// Message wraps a sealed ProductStore as it is routed through the graph.
type Message struct {
	Store *ProductStore
	ID    MessageID
}

// EndToken signals that count distinct messages descending from Index have
// all been delivered to a given consumer; used to drive completion
// detection without retaining product data.
type EndToken struct {
	Index *cellindex.Index
	Count int
}

// FlushCounts records, per child layer hash, how many data cells were
// produced under a scope — the expected-count side of fold completion.
type FlushCounts struct {
	byLayerHash map[uint64]int
}

// NewFlushCounts builds a FlushCounts from an explicit map.
func NewFlushCounts(counts map[uint64]int) *FlushCounts {
	cp := make(map[uint64]int, len(counts))
	for k, v := range counts {
		cp[k] = v
	}
	return &FlushCounts{byLayerHash: cp}
}

// CountFor returns the expected count for layerHash and whether it was
// recorded at all.
func (f *FlushCounts) CountFor(layerHash uint64) (int, bool) {
	if f == nil {
		return 0, false
	}
	n, ok := f.byLayerHash[layerHash]
	return n, ok
}

// Empty reports whether no counts were recorded (a scope that produced no
// children at all).
func (f *FlushCounts) Empty() bool { return f == nil || len(f.byLayerHash) == 0 }

// FlushMessage closes out a scope, carrying the expected per-layer counts
// so a fold can recognize when it has seen every contribution.
type FlushMessage struct {
	Index      *cellindex.Index
	Counts     *FlushCounts
	OriginalID MessageID
}

// MoreDerived returns whichever of a, b has the deeper index, preferring a
// on a tie. Used when two messages race and only the more specific one
// should continue downstream.
func MoreDerived(a, b Message) Message {
	if b.Store.Index.Depth() > a.Store.Index.Depth() {
		return b
	}
	return a
}
