package graphrun

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/flowmsg"
	"github.com/cellflow/cellflow/internal/repeater"
	"github.com/cellflow/cellflow/internal/router"
)

// ProvideFunc produces the root product store for idx, the start of a
// family's data.
type ProvideFunc func(ctx context.Context, idx *cellindex.Index) (*flowmsg.ProductStore, error)

// TransformFunc maps an incoming product store to an outgoing one.
type TransformFunc func(ctx context.Context, idx *cellindex.Index, in *flowmsg.ProductStore) (*flowmsg.ProductStore, error)

// ObserveFunc consumes a product store with no further output; terminal
// nodes such as storage writers and external sinks are Observe nodes.
type ObserveFunc func(ctx context.Context, idx *cellindex.Index, in *flowmsg.ProductStore) error

type handler func(ctx context.Context, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) error

type subscriber struct {
	name    string
	handle  handler
	limiter *nodeLimiter
}

// Graph owns one router, one worker pool and the registered node
// handlers for a single execution. Construct with New, register nodes,
// then drive data cells through it with a driver.
type Graph struct {
	Name    string
	RunID   uuid.UUID
	Metrics Metrics

	router         *router.Router
	pool           *workerPool
	tracer         trace.Tracer
	log            zerolog.Logger
	concurrencyFor func(nodeName string) int

	mu               sync.Mutex
	subscribers      map[string][]subscriber // family -> subscribers
	flushSubscribers map[string][]flushSubscriber
	providers        map[string]*providerAdapter
	repeaters        []*repeater.Repeater // registered by JoinTransform, drained on Close

	errOnce  sync.Once
	firstErr error
	stopHook func()
}

type flushHandler func(ctx context.Context, msg flowmsg.FlushMessage) error

type flushSubscriber struct {
	name    string
	handle  flushHandler
	limiter *nodeLimiter
}

// Config controls worker pool sizing and tracing for a Graph.
type Config struct {
	Name          string
	QueueCapacity int
	Workers       int
	Tracer        trace.Tracer
	Log           zerolog.Logger
	// ConcurrencyFor resolves a node name to its configured concurrency
	// policy (config.Serial, config.Unlimited or a fixed limit). Nil
	// means every node is config.Unlimited. Typically config.Config's
	// ConcurrencyFor method.
	ConcurrencyFor func(nodeName string) int
}

// New constructs an empty Graph ready for node registration.
func New(cfg Config) *Graph {
	capacity := cfg.QueueCapacity
	if capacity < 1 {
		capacity = 1024
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 4
	}
	concurrencyFor := cfg.ConcurrencyFor
	if concurrencyFor == nil {
		concurrencyFor = func(string) int { return 0 }
	}
	return &Graph{
		Name:             cfg.Name,
		RunID:            uuid.New(),
		router:           router.New(),
		pool:             newWorkerPool(capacity, workers),
		tracer:           cfg.Tracer,
		log:              cfg.Log,
		concurrencyFor:   concurrencyFor,
		subscribers:      make(map[string][]subscriber),
		flushSubscribers: make(map[string][]flushSubscriber),
		providers:        make(map[string]*providerAdapter),
	}
}

// limiterFor builds a nodeLimiter for nodeName per the graph's
// configured concurrency policy.
func (g *Graph) limiterFor(nodeName string) *nodeLimiter {
	return newNodeLimiter(g.concurrencyFor(nodeName))
}

// Router exposes the underlying router so a driver can open and drain
// data cells.
func (g *Graph) Router() *router.Router { return g.router }

// SetStopHook arranges for fn to be called once, the first time any node
// body returns an error. The graph driver loop wires this to the
// driver's Stop method so a user exception anywhere in the graph halts
// further input per the error propagation contract: record, stop the
// driver, drain, wait for quiescence, rethrow.
func (g *Graph) SetStopHook(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopHook = fn
}

// FirstError returns the first error any node body raised during this
// run, or nil if none has. Safe to call at any time; the result only
// stabilizes once the pool has drained (after Close).
func (g *Graph) FirstError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}

// recordError latches err as FirstError if it is the first one seen this
// run, and fires the stop hook exactly once.
func (g *Graph) recordError(err error) {
	g.errOnce.Do(func() {
		g.mu.Lock()
		g.firstErr = err
		stop := g.stopHook
		g.mu.Unlock()
		if stop != nil {
			stop()
		}
	})
}

// Close stops the worker pool, letting queued work drain first, then
// logs any repeater cache entries that never fully drained — a sign the
// run ended with index/data traffic still mismatched.
func (g *Graph) Close() {
	g.pool.Close()
	for _, rep := range g.repeaters {
		rep.Close()
	}
}

func (g *Graph) subscribe(family string, name string, h handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers[family] = append(g.subscribers[family], subscriber{name: name, handle: h, limiter: g.limiterFor(name)})
}

func (g *Graph) subscribeFlush(family string, name string, h flushHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flushSubscribers[family] = append(g.flushSubscribers[family], flushSubscriber{name: name, handle: h, limiter: g.limiterFor(name)})
}

// dispatchFlush runs every flush subscriber of family against msg,
// through the bounded worker pool, gated by each subscriber's own
// concurrency limiter.
func (g *Graph) dispatchFlush(family string, msg flowmsg.FlushMessage) {
	g.mu.Lock()
	subs := g.flushSubscribers[family]
	g.mu.Unlock()

	for _, sub := range subs {
		sub := sub
		g.pool.Submit(func() {
			sub.limiter.run(func() {
				g.run(sub.name, msg.Index, func(ctx context.Context) error {
					return sub.handle(ctx, msg)
				})
			})
		})
	}
}

// dispatch runs every subscriber of family against the given cell,
// concurrently, through the bounded worker pool, gated by each
// subscriber's own concurrency limiter.
func (g *Graph) dispatch(family string, idx *cellindex.Index, store *flowmsg.ProductStore, id flowmsg.MessageID) {
	g.mu.Lock()
	subs := g.subscribers[family]
	g.mu.Unlock()

	for _, sub := range subs {
		sub := sub
		g.pool.Submit(func() {
			sub.limiter.run(func() {
				g.run(sub.name, idx, func(ctx context.Context) error {
					return sub.handle(ctx, idx, store, id)
				})
			})
		})
	}
}

func (g *Graph) run(nodeName string, idx *cellindex.Index, fn func(ctx context.Context) error) {
	ctx := context.Background()
	var span trace.Span
	if g.tracer != nil {
		ctx, span = g.tracer.Start(ctx, nodeName)
	}
	err := fn(ctx)
	if span != nil {
		span.End()
	}
	g.Metrics.recordExecution(err)
	if err != nil {
		g.log.Error().Err(err).Str("run_id", g.RunID.String()).Str("node", nodeName).Str("index", idx.String()).Msg("node execution failed")
		g.recordError(err)
	}
}

// providerAdapter bridges a ProvideFunc to router.ProviderNode: the
// router's index announcement becomes a pool-scheduled invocation whose
// result is dispatched to subscribers of layerName.
type providerAdapter struct {
	layerName string
	graph     *Graph
	fn        ProvideFunc
	source    string
	limiter   *nodeLimiter
}

func (p *providerAdapter) LayerName() string { return p.layerName }

func (p *providerAdapter) PutIndex(idx *cellindex.Index, id flowmsg.MessageID, cache bool) {
	p.graph.Metrics.recordCellSeen()
	p.graph.pool.Submit(func() {
		p.limiter.run(func() {
			p.graph.run(p.source, idx, func(ctx context.Context) error {
				store, err := p.fn(ctx, idx)
				if err != nil {
					return cferrors.WrapUser(p.source, err)
				}
				store.Seal()
				p.graph.dispatch(p.layerName, idx, store, id)
				return nil
			})
		})
	})
}

func (p *providerAdapter) PutEndToken(idx *cellindex.Index, count int) {}

func (p *providerAdapter) PutFlush(msg flowmsg.FlushMessage) {
	p.graph.dispatchFlush(flushFamily(p.layerName), msg)
}

// flushFamily names the synthetic dispatch family flush messages for
// layerName are published to, separate from its data family so fold
// subscribers can tell data from closure without inspecting payloads.
func flushFamily(layerName string) string { return layerName + "#flush" }
