// Command cellflow-demo builds a small run/event hierarchy, folds a
// per-event product back up to the run level, and prints the result.
// It exists to exercise the public API end to end, not as a deployable
// tool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cellflow/cellflow"
	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/config"
	"github.com/cellflow/cellflow/internal/flowmsg"
	"github.com/cellflow/cellflow/internal/logging"
	"github.com/cellflow/cellflow/internal/observe/wsobserver"
	"github.com/cellflow/cellflow/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cellflow-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	g := cellflow.NewGraph("demo", cfg)

	if err := g.Provide("gen-event").AtLayer("event", 0).OutputProducts("value").Register(
		func(ctx context.Context, idx *cellindex.Index) (*flowmsg.ProductStore, error) {
			s := flowmsg.NewProductStore(idx, "gen-event")
			s.Put("value", int(idx.Number())+1)
			return s, nil
		},
	); err != nil {
		return err
	}

	if err := g.Fold("sum-run").InputFamily("event").OverLayer("run").OutputFamily("run-total").OutputProducts("total").Init(
		func() any { return 0 },
	).Register(
		func(acc any, idx *cellindex.Index, in *flowmsg.ProductStore) (any, error) {
			v, err := in.Get("value")
			if err != nil {
				return nil, err
			}
			return acc.(int) + v.(int), nil
		},
	); err != nil {
		return err
	}

	if err := g.JoinTransform("event-share-of-run").
		Inputs(
			cellflow.FamilyInput{Family: "run-total", Layer: "run"},
			cellflow.FamilyInput{Family: "event", Layer: "event"},
		).
		OutputFamily("event-share").
		OutputProducts("share").
		Register(func(ctx context.Context, idx *cellindex.Index, in []*flowmsg.ProductStore) (*flowmsg.ProductStore, error) {
			runTotal, err := in[0].Get("total")
			if err != nil {
				return nil, err
			}
			eventValue, err := in[1].Get("value")
			if err != nil {
				return nil, err
			}
			out := flowmsg.NewProductStore(idx, "event-share-of-run")
			out.Put("share", float64(eventValue.(int))/float64(runTotal.(int)))
			return out, nil
		}); err != nil {
		return err
	}

	if err := g.Observe("print-share").InputFamily("event-share").Register(
		func(ctx context.Context, idx *cellindex.Index, in *flowmsg.ProductStore) error {
			share, err := in.Get("share")
			if err != nil {
				return err
			}
			fmt.Printf("%s share=%.3f\n", idx.LayerPath(), share)
			return nil
		},
	); err != nil {
		return err
	}

	if err := g.Observe("print-total").InputFamily("run-total").Register(
		func(ctx context.Context, idx *cellindex.Index, in *flowmsg.ProductStore) error {
			total, err := in.Get("total")
			if err != nil {
				return err
			}
			fmt.Printf("%s total=%v\n", idx.LayerPath(), total)
			return nil
		},
	); err != nil {
		return err
	}

	store := storage.NewMemory()
	if err := g.Observe("persist-total").InputFamily("run-total").Register(
		func(ctx context.Context, idx *cellindex.Index, in *flowmsg.ProductStore) error {
			products := make(map[string]any, len(in.Names()))
			for _, name := range in.Names() {
				v, err := in.Get(name)
				if err != nil {
					return err
				}
				products[name] = v
			}
			return store.Save(ctx, idx, in.Source, products)
		},
	); err != nil {
		return err
	}

	hub := wsobserver.New(logging.New(logging.Config{Level: cfg.LogLevel}))
	if err := g.Observe("stream-total").InputFamily("run-total").Register(hub.Emit); err != nil {
		return err
	}

	lg := cellflow.NewLayerGenerator()
	lg.AddLayer("run", "", 2)
	lg.AddLayer("event", "run", 4)

	drv := cellflow.NewSequenceDriver(lg.Build())
	return cellflow.Run(context.Background(), g, drv)
}
