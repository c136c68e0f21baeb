// Package driver supplies the data-cell index sequences that feed a
// running graph: a declarative nested-hierarchy generator for tests and
// demos, plus the pump loop that routes each index and drains the
// router at the end of a run. Modeled on the graph driver loop
// described by the dataflow framework this scheduler's design is
// grounded in.
package driver

import "github.com/cellflow/cellflow/internal/cellindex"

// LayerSpec declares one level of a nested hierarchy: Count instances of
// Name are generated under every instance of ParentLayer (or under the
// base index, if ParentLayer is empty).
type LayerSpec struct {
	Name        string
	ParentLayer string
	Count       int
}

// LayerGenerator builds the full depth-first sequence of indices for a
// declared nested hierarchy, the order a real event loop would open and
// close scopes in: every instance of an outer layer is fully expanded
// (all its children, grandchildren, ...) before the next sibling at that
// layer begins.
type LayerGenerator struct {
	layers   []LayerSpec
	children map[string][]LayerSpec
}

// NewLayerGenerator returns an empty generator.
func NewLayerGenerator() *LayerGenerator {
	return &LayerGenerator{children: make(map[string][]LayerSpec)}
}

// AddLayer declares a layer. Layers must be added in top-down order:
// a layer's ParentLayer (or "" for top-level) must already be known.
func (lg *LayerGenerator) AddLayer(name, parentLayer string, count int) *LayerGenerator {
	spec := LayerSpec{Name: name, ParentLayer: parentLayer, Count: count}
	lg.layers = append(lg.layers, spec)
	lg.children[parentLayer] = append(lg.children[parentLayer], spec)
	return lg
}

// Build returns the full depth-first index sequence.
func (lg *LayerGenerator) Build() []*cellindex.Index {
	var out []*cellindex.Index
	lg.expand(cellindex.Base(), "", &out)
	return out
}

func (lg *LayerGenerator) expand(parent *cellindex.Index, parentLayer string, out *[]*cellindex.Index) {
	for _, spec := range lg.children[parentLayer] {
		for i := 0; i < spec.Count; i++ {
			child := parent.MakeChild(uint64(i), spec.Name)
			*out = append(*out, child)
			lg.expand(child, spec.Name, out)
		}
	}
}
