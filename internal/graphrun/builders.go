package graphrun

import (
	"context"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/flowmsg"
	"github.com/cellflow/cellflow/internal/fold"
	"github.com/cellflow/cellflow/internal/gate"
	"github.com/cellflow/cellflow/internal/router"
	"github.com/cellflow/cellflow/internal/unfold"
)

// ProvideBuilder declaratively configures a root data source before
// Register finalizes it.
type ProvideBuilder struct {
	graph         *Graph
	name          string
	layerName     string
	layerHash     uint64
	outputs       []string
}

// Provide begins declaring a node that produces the root data for a
// hierarchy layer.
func (g *Graph) Provide(name string) *ProvideBuilder {
	return &ProvideBuilder{graph: g, name: name}
}

// AtLayer declares which hierarchy layer this provider announces data
// for. layerHash disambiguates layers that share a name at different
// positions in the hierarchy; pass 0 to match any occurrence.
func (b *ProvideBuilder) AtLayer(layerName string, layerHash uint64) *ProvideBuilder {
	b.layerName = layerName
	b.layerHash = layerHash
	return b
}

// OutputProducts records which product names this node is expected to
// populate, for documentation only; it is not validated and does not
// affect routing.
func (b *ProvideBuilder) OutputProducts(names ...string) *ProvideBuilder {
	b.outputs = append(b.outputs, names...)
	return b
}

// Register finalizes the provider with fn and wires it into the router.
func (b *ProvideBuilder) Register(fn ProvideFunc) error {
	if b.layerName == "" {
		return cferrors.NewMisconfiguration("provide %q: AtLayer must be called before Register", b.name)
	}
	adapter := &providerAdapter{layerName: b.layerName, graph: b.graph, fn: fn, source: b.name, limiter: b.graph.limiterFor(b.name)}
	b.graph.router.RegisterProvider(adapter, b.layerHash)
	b.graph.providers[b.name] = adapter
	return nil
}

// TransformBuilder declaratively configures a node that consumes one
// family's data and produces another.
type TransformBuilder struct {
	graph        *Graph
	name         string
	inputFamily  string
	outputFamily string
	outputs      []string
}

// Transform begins declaring a data-mapping node.
func (g *Graph) Transform(name string) *TransformBuilder {
	return &TransformBuilder{graph: g, name: name}
}

// InputFamily declares which dispatch family feeds this node.
func (b *TransformBuilder) InputFamily(family string) *TransformBuilder {
	b.inputFamily = family
	return b
}

// OutputFamily declares which dispatch family this node's result is
// published under. Defaults to InputFamily (in-place enrichment) if
// never called.
func (b *TransformBuilder) OutputFamily(family string) *TransformBuilder {
	b.outputFamily = family
	return b
}

// OutputProducts records expected product names, for documentation only.
func (b *TransformBuilder) OutputProducts(names ...string) *TransformBuilder {
	b.outputs = append(b.outputs, names...)
	return b
}

// Register finalizes the transform with fn.
func (b *TransformBuilder) Register(fn TransformFunc) error {
	if b.inputFamily == "" {
		return cferrors.NewMisconfiguration("transform %q: InputFamily must be called before Register", b.name)
	}
	outFamily := b.outputFamily
	if outFamily == "" {
		outFamily = b.inputFamily
	}
	b.graph.subscribe(b.inputFamily, b.name, func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
		out, err := fn(ctx, idx, store)
		if err != nil {
			return cferrors.WrapUser(b.name, err)
		}
		out.Seal()
		b.graph.dispatch(outFamily, idx, out, id)
		return nil
	})
	return nil
}

// ObserveBuilder declaratively configures a terminal sink node.
type ObserveBuilder struct {
	graph  *Graph
	name   string
	family string
}

// Observe begins declaring a terminal sink node.
func (g *Graph) Observe(name string) *ObserveBuilder {
	return &ObserveBuilder{graph: g, name: name}
}

// InputFamily declares which dispatch family feeds this sink.
func (b *ObserveBuilder) InputFamily(family string) *ObserveBuilder {
	b.family = family
	return b
}

// Register finalizes the sink with fn.
func (b *ObserveBuilder) Register(fn ObserveFunc) error {
	if b.family == "" {
		return cferrors.NewMisconfiguration("observe %q: InputFamily must be called before Register", b.name)
	}
	b.graph.subscribe(b.family, b.name, func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
		if err := fn(ctx, idx, store); err != nil {
			return cferrors.WrapUser(b.name, err)
		}
		return nil
	})
	return nil
}

// PredicateBuilder declaratively configures a gated pass-through: data
// flows to PassFamily only if every declared condition evaluates true.
type PredicateBuilder struct {
	graph       *Graph
	name        string
	inputFamily string
	passFamily  string
	conditions  []string
	envFn       func(idx *cellindex.Index, store *flowmsg.ProductStore) map[string]any
}

// Predicate begins declaring a gate node.
func (g *Graph) Predicate(name string) *PredicateBuilder {
	return &PredicateBuilder{graph: g, name: name}
}

// InputFamily declares which dispatch family feeds this gate.
func (b *PredicateBuilder) InputFamily(family string) *PredicateBuilder {
	b.inputFamily = family
	return b
}

// PassFamily declares which dispatch family cells are republished under
// once every condition passes.
func (b *PredicateBuilder) PassFamily(family string) *PredicateBuilder {
	b.passFamily = family
	return b
}

// When adds one boolean expr-lang condition; all conditions must pass.
func (b *PredicateBuilder) When(expr string) *PredicateBuilder {
	b.conditions = append(b.conditions, expr)
	return b
}

// WithEnv supplies the function that builds the expr-lang evaluation
// environment from a data cell's index and product store.
func (b *PredicateBuilder) WithEnv(fn func(idx *cellindex.Index, store *flowmsg.ProductStore) map[string]any) *PredicateBuilder {
	b.envFn = fn
	return b
}

// Register finalizes the gate.
func (b *PredicateBuilder) Register() error {
	if b.inputFamily == "" || b.passFamily == "" {
		return cferrors.NewMisconfiguration("predicate %q: InputFamily and PassFamily are required", b.name)
	}
	if len(b.conditions) == 0 {
		return cferrors.NewMisconfiguration("predicate %q: at least one When condition is required", b.name)
	}
	evaluator := gate.NewEvaluator()

	// one gate for this node, deciding each data cell by message id:
	// arity equals the number of conditions, and the cell's store/index
	// are kept in pending under that id since PutVerdict only carries an id.
	pending := make(map[flowmsg.MessageID]struct {
		idx   *cellindex.Index
		store *flowmsg.ProductStore
	})
	g := gate.New(b.name, len(b.conditions),
		func(id flowmsg.MessageID) {
			b.graph.mu.Lock()
			cell := pending[id]
			delete(pending, id)
			b.graph.mu.Unlock()
			b.graph.dispatch(b.passFamily, cell.idx, cell.store, id)
		},
		func(id flowmsg.MessageID) {
			b.graph.mu.Lock()
			delete(pending, id)
			b.graph.mu.Unlock()
		},
	)

	b.graph.subscribe(b.inputFamily, b.name, func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
		b.graph.mu.Lock()
		pending[id] = struct {
			idx   *cellindex.Index
			store *flowmsg.ProductStore
		}{idx: idx, store: store}
		b.graph.mu.Unlock()

		env := map[string]any{}
		if b.envFn != nil {
			env = b.envFn(idx, store)
		}
		for _, cond := range b.conditions {
			ok, err := evaluator.Eval(cond, env)
			if err != nil {
				g.PutVerdict(id, false)
				return err
			}
			g.PutVerdict(id, ok)
		}
		return nil
	})
	return nil
}

// FoldBuilder declaratively configures a scope aggregation node.
type FoldBuilder struct {
	graph          *Graph
	name           string
	inputFamily    string
	flushFamily    string
	outputFamily   string
	partitionLayer string
	resultProduct  string
	init           func() any
}

// Fold begins declaring an aggregation node.
func (g *Graph) Fold(name string) *FoldBuilder {
	return &FoldBuilder{graph: g, name: name}
}

// InputFamily declares which dispatch family feeds contributions.
func (b *FoldBuilder) InputFamily(family string) *FoldBuilder {
	b.inputFamily = family
	return b
}

// OverLayer declares which hierarchy layer each running fold aggregates
// one instance per. The fold is notified when a scope at this layer
// closes regardless of whether any Provide node is also registered
// there.
func (b *FoldBuilder) OverLayer(layerName string) *FoldBuilder {
	b.partitionLayer = layerName
	b.flushFamily = flushFamily(layerName)
	return b
}

// OutputFamily declares where the completed result is dispatched.
func (b *FoldBuilder) OutputFamily(family string) *FoldBuilder {
	b.outputFamily = family
	return b
}

// OutputProducts names the single result product this fold writes.
func (b *FoldBuilder) OutputProducts(name string) *FoldBuilder {
	b.resultProduct = name
	return b
}

// Init supplies the zero accumulator for a scope seeing its first
// contribution.
func (b *FoldBuilder) Init(fn func() any) *FoldBuilder {
	b.init = fn
	return b
}

// Register finalizes the fold with foldFn.
func (b *FoldBuilder) Register(foldFn fold.Func) error {
	if b.inputFamily == "" || b.partitionLayer == "" || b.outputFamily == "" {
		return cferrors.NewMisconfiguration("fold %q: InputFamily, OverLayer and OutputFamily are required", b.name)
	}
	if b.init == nil {
		b.init = func() any { return nil }
	}
	if b.resultProduct == "" {
		b.resultProduct = "result"
	}

	f := fold.New(b.name, b.partitionLayer, b.resultProduct, b.init, foldFn,
		func(scopeIdx *cellindex.Index, result any, originalID flowmsg.MessageID) {
			store := flowmsg.NewProductStore(scopeIdx, b.name)
			store.Put(b.resultProduct, result)
			store.Seal()
			b.graph.dispatch(b.outputFamily, scopeIdx, store, originalID)
		},
	)

	b.graph.subscribe(b.inputFamily, b.name, func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
		return f.HandleInput(idx, store)
	})
	b.graph.subscribeFlush(b.flushFamily, b.name+"#flush", func(ctx context.Context, msg flowmsg.FlushMessage) error {
		f.HandleFlush(msg)
		return nil
	})
	b.graph.router.RegisterFlushSink(b.partitionLayer, router.FlushSinkFunc(func(msg flowmsg.FlushMessage) {
		b.graph.dispatchFlush(b.flushFamily, msg)
	}))
	return nil
}

// UnfoldBuilder declaratively configures a parent-to-children expansion
// node.
type UnfoldBuilder struct {
	graph         *Graph
	name          string
	inputFamily   string
	outputFamily  string
	childLayer    string
	resultProduct string
}

// Unfold begins declaring an expansion node.
func (g *Graph) Unfold(name string) *UnfoldBuilder {
	return &UnfoldBuilder{graph: g, name: name}
}

// InputFamily declares which dispatch family feeds the parent cell.
func (b *UnfoldBuilder) InputFamily(family string) *UnfoldBuilder {
	b.inputFamily = family
	return b
}

// ChildLayer declares the hierarchy layer each generated child occupies.
func (b *UnfoldBuilder) ChildLayer(layerName string) *UnfoldBuilder {
	b.childLayer = layerName
	return b
}

// OutputFamily declares where each generated child is dispatched.
func (b *UnfoldBuilder) OutputFamily(family string) *UnfoldBuilder {
	b.outputFamily = family
	return b
}

// OutputProducts names the single value product each child carries.
func (b *UnfoldBuilder) OutputProducts(name string) *UnfoldBuilder {
	b.resultProduct = name
	return b
}

// Register finalizes the unfold with unfoldFn.
func (b *UnfoldBuilder) Register(unfoldFn unfold.Func) error {
	if b.inputFamily == "" || b.childLayer == "" || b.outputFamily == "" {
		return cferrors.NewMisconfiguration("unfold %q: InputFamily, ChildLayer and OutputFamily are required", b.name)
	}
	if b.resultProduct == "" {
		b.resultProduct = "value"
	}

	u := unfold.New(b.name, b.childLayer, b.resultProduct, unfoldFn,
		b.graph.router.Route,
		func(child *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) {
			b.graph.dispatch(b.outputFamily, child, store, id)
		},
	)

	b.graph.subscribe(b.inputFamily, b.name, func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
		return u.HandleInput(idx, store)
	})
	return nil
}
