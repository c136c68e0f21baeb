// Package cellflow is the public entry point for building and running a
// hierarchical dataflow graph: construct a Graph, register Provide,
// Transform, Observe, Predicate, Fold and Unfold nodes on it, then Run
// it against a Driver. Modeled on the top-level facade of the workflow
// engine this project grew out of.
package cellflow

import (
	"context"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/config"
	"github.com/cellflow/cellflow/internal/driver"
	"github.com/cellflow/cellflow/internal/graphrun"
	"github.com/cellflow/cellflow/internal/logging"
)

// Graph is re-exported so callers never need to import the internal
// graphrun package directly.
type Graph = graphrun.Graph

// Driver is re-exported for the same reason.
type Driver = driver.Driver

// NewGraph constructs a Graph sized and logged per cfg.
func NewGraph(name string, cfg *config.Config) *Graph {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel})
	return graphrun.New(graphrun.Config{
		Name:           name,
		QueueCapacity:  cfg.MaxParallelism * 64,
		Workers:        cfg.MaxParallelism,
		Log:            log,
		ConcurrencyFor: cfg.ConcurrencyFor,
	})
}

// NewSequenceDriver wraps a precomputed index sequence, such as one
// produced by LayerGenerator, as a Driver.
func NewSequenceDriver(indices []*cellindex.Index) Driver {
	return driver.NewSequenceDriver(indices)
}

// FamilyInput is re-exported so callers can declare JoinTransform inputs
// without importing internal/graphrun directly.
type FamilyInput = graphrun.FamilyInput

// LayerGenerator is re-exported for declarative test/demo hierarchies.
type LayerGenerator = driver.LayerGenerator

// NewLayerGenerator returns an empty LayerGenerator.
func NewLayerGenerator() *LayerGenerator {
	return driver.NewLayerGenerator()
}

// Run drives every index drv yields through g's router, then closes g's
// worker pool once the run finishes draining. A routing error (bad
// configuration) stops the drive immediately; a node-body error
// surfaces asynchronously and still halts the driver via g's stop hook,
// but is only guaranteed visible once the pool has drained in Close. In
// both cases the first error wins and is what Run returns.
func Run(ctx context.Context, g *Graph, drv Driver) error {
	g.SetStopHook(drv.Stop)
	err := driver.Pump(ctx, drv,
		func(idx *cellindex.Index) error {
			_, err := g.Router().Route(idx)
			return err
		},
		g.Router().Drain,
	)
	g.Close()
	if err != nil {
		return err
	}
	return g.FirstError()
}
