package graphrun

import (
	"context"
	"strconv"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/flowmsg"
	"github.com/cellflow/cellflow/internal/join"
	"github.com/cellflow/cellflow/internal/repeater"
	"github.com/cellflow/cellflow/internal/router"
)

// FamilyInput names one input of a multi-layer join: Family is the
// dispatch family its data already travels under (a Provide's layer, or
// any Transform/Fold's OutputFamily); Layer is the hierarchy layer that
// data was produced at. Two inputs at different Layers are the case a
// repeater exists for.
type FamilyInput struct {
	Family string
	Layer  string
}

// JoinFunc receives one correlated tuple, stores in FamilyInput
// declaration order, and produces the joined result.
type JoinFunc func(ctx context.Context, idx *cellindex.Index, in []*flowmsg.ProductStore) (*flowmsg.ProductStore, error)

// directJoinNode wires a same-layer join slot straight to the router:
// no repeater is needed since every slot of the join occupies the same
// layer, so the router's own index announcement carries no information
// a repeater would use (every arrival already has matching data on every
// slot). PutEndToken forwards to the join, but the router only sends an
// end token to a slot that received coarser-ancestor routings, which a
// same-layer slot never does, so incomplete joins here are not discarded.
type directJoinNode struct {
	join *join.MultiLayerJoin
}

func (directJoinNode) PutIndex(*cellindex.Index, flowmsg.MessageID, bool) {}

func (n directJoinNode) PutEndToken(idx *cellindex.Index, count int) {
	n.join.PutEndToken(idx, count)
}

// repeaterJoinNode adapts a Repeater to router.JoinNode: the router's
// index announcement becomes the repeater's index port (idx and cache
// both already resolved by the router — idx is the ancestor index at
// this slot's own layer, cache is true whenever this slot is coarser
// than the index that triggered routing), and the router's end token
// becomes the repeater's flush port.
type repeaterJoinNode struct {
	rep *repeater.Repeater
}

func (n repeaterJoinNode) PutIndex(idx *cellindex.Index, id flowmsg.MessageID, cache bool) {
	n.rep.PutIndex(idx.Hash(), id, cache)
}

func (n repeaterJoinNode) PutEndToken(idx *cellindex.Index, count int) {
	n.rep.PutEndToken(idx.Hash(), count)
}

// JoinTransformBuilder declaratively configures a node that correlates
// two or more input families — possibly produced at different hierarchy
// layers — into a single joined tuple before mapping it to one output.
// This is the node-runtime surface for MultiLayerJoin and Repeater: when
// the declared inputs span more than one distinct layer, a repeater is
// inserted in front of every slot exactly as multilayer_join_node does,
// and the router is taught to route index announcements to them; when
// every input shares one layer the slots are wired straight to the join.
type JoinTransformBuilder struct {
	graph        *Graph
	name         string
	inputs       []FamilyInput
	outputFamily string
	outputs      []string
}

// JoinTransform begins declaring a multi-input correlating node.
func (g *Graph) JoinTransform(name string) *JoinTransformBuilder {
	return &JoinTransformBuilder{graph: g, name: name}
}

// Inputs declares, in order, the families and layers to correlate. At
// least two inputs are required; order determines the slot order fn
// receives its stores in.
func (b *JoinTransformBuilder) Inputs(inputs ...FamilyInput) *JoinTransformBuilder {
	b.inputs = append(b.inputs, inputs...)
	return b
}

// OutputFamily declares where the joined result is dispatched.
func (b *JoinTransformBuilder) OutputFamily(family string) *JoinTransformBuilder {
	b.outputFamily = family
	return b
}

// OutputProducts records expected product names, for documentation only.
func (b *JoinTransformBuilder) OutputProducts(names ...string) *JoinTransformBuilder {
	b.outputs = append(b.outputs, names...)
	return b
}

// Register finalizes the join with fn.
func (b *JoinTransformBuilder) Register(fn JoinFunc) error {
	if len(b.inputs) < 2 {
		return cferrors.NewMisconfiguration("join transform %q: at least two Inputs are required", b.name)
	}
	if b.outputFamily == "" {
		return cferrors.NewMisconfiguration("join transform %q: OutputFamily is required", b.name)
	}

	layerNames := make([]string, len(b.inputs))
	distinct := make(map[string]struct{}, len(b.inputs))
	for i, in := range b.inputs {
		if in.Family == "" || in.Layer == "" {
			return cferrors.NewMisconfiguration("join transform %q: input %d needs both Family and Layer", b.name, i)
		}
		layerNames[i] = in.Layer
		distinct[in.Layer] = struct{}{}
	}

	limiter := b.graph.limiterFor(b.name)
	j := join.New(b.name, layerNames, func(idx *cellindex.Index, id flowmsg.MessageID, stores []*flowmsg.ProductStore) {
		b.graph.pool.Submit(func() {
			limiter.run(func() {
				b.graph.run(b.name, idx, func(ctx context.Context) error {
					out, err := fn(ctx, idx, stores)
					if err != nil {
						return cferrors.WrapUser(b.name, err)
					}
					out.Seal()
					b.graph.dispatch(b.outputFamily, idx, out, id)
					return nil
				})
			})
		})
	})

	slots := make([]router.JoinSlot, len(b.inputs))
	needsRepeaters := len(distinct) > 1

	for i, in := range b.inputs {
		i, in := i, in
		var node router.JoinNode
		if needsRepeaters {
			rep := repeater.New(b.name+"#"+in.Layer, func(store *flowmsg.ProductStore, id flowmsg.MessageID) {
				j.PutData(i, store.Index, id, store)
			}, b.graph.log)
			b.graph.repeaters = append(b.graph.repeaters, rep)
			node = repeaterJoinNode{rep: rep}
			b.graph.subscribe(in.Family, b.name+"#in"+strconv.Itoa(i), func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
				rep.PutData(idx.Hash(), store, id)
				return nil
			})
		} else {
			node = directJoinNode{join: j}
			b.graph.subscribe(in.Family, b.name+"#in"+strconv.Itoa(i), func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error {
				j.PutData(i, idx, id, store)
				return nil
			})
		}
		slots[i] = router.JoinSlot{LayerName: in.Layer, Node: node}
	}
	b.graph.router.RegisterJoin(slots)
	return nil
}
