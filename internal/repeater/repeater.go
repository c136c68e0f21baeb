// Package repeater implements the cache-and-replay node that lets more
// than one downstream consumer request the same upstream product: the
// first request caches the data, every later request for the same data
// cell replays it tagged with the new caller's message id. Modeled on
// the repeater_node of the dataflow framework this scheduler's design is
// grounded in.
package repeater

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cellflow/cellflow/internal/flowmsg"
)

// EmitFunc delivers a replayed or pass-through product downstream.
type EmitFunc func(store *flowmsg.ProductStore, id flowmsg.MessageID)

type entry struct {
	data          flowmsg.Message
	hasData       bool
	pendingIDs    []flowmsg.MessageID
	counter       int
	flushReceived bool
}

// Repeater caches at most one product per data-cell key (typically the
// cell's content hash) and replays it to every later requester. Once any
// caller announces cache=false, the repeater drops into permanent
// pass-through mode: data flows straight through with no replay.
type Repeater struct {
	mu           sync.Mutex
	cache        map[uint64]*entry
	cacheEnabled bool
	emit         EmitFunc
	name         string
	log          zerolog.Logger
}

// New creates a repeater that delivers through emit, logging under name.
func New(name string, emit EmitFunc, log zerolog.Logger) *Repeater {
	return &Repeater{
		cache:        make(map[uint64]*entry),
		cacheEnabled: true,
		emit:         emit,
		name:         name,
		log:          log,
	}
}

func (r *Repeater) get(key uint64) *entry {
	e, ok := r.cache[key]
	if !ok {
		e = &entry{}
		r.cache[key] = e
	}
	return e
}

func (r *Repeater) drainPending(e *entry) int {
	n := len(e.pendingIDs)
	for _, id := range e.pendingIDs {
		r.emit(e.data.Store, id)
	}
	e.pendingIDs = nil
	return n
}

// PutData supplies the product for key. If the repeater is in
// pass-through mode the product is forwarded immediately under its own
// message id; otherwise it is cached (together with its own id, so a
// later pass-through transition can re-emit it verbatim) and replayed to
// every pending and future requester.
func (r *Repeater) PutData(key uint64, store *flowmsg.ProductStore, id flowmsg.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cacheEnabled {
		r.emit(store, id)
		return
	}
	e := r.get(key)
	e.data = flowmsg.Message{Store: store, ID: id}
	e.hasData = true
	e.counter += r.drainPending(e)
	r.cleanup(key, e)
}

// PutEndToken notifies the repeater that count of the pending replay
// emissions for key have been fully consumed downstream.
func (r *Repeater) PutEndToken(key uint64, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(key)
	e.counter -= count
	e.flushReceived = true
	r.cleanup(key, e)
}

// PutIndex registers a request for key's data under msgID. cache=true is
// a normal replay request; cache=false signals the producer side has
// finished caching entirely and the repeater should transition to
// permanent pass-through.
func (r *Repeater) PutIndex(key uint64, msgID flowmsg.MessageID, cache bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cacheEnabled {
		return
	}
	if !cache {
		r.cacheEnabled = false
		if e, ok := r.cache[key]; ok && e.hasData {
			r.emit(e.data.Store, e.data.ID)
			e.counter++
		}
		r.cleanup(key, r.get(key))
		return
	}

	e := r.get(key)
	if e.hasData {
		r.emit(e.data.Store, msgID)
		e.counter += 1 + r.drainPending(e)
	} else {
		e.pendingIDs = append(e.pendingIDs, msgID)
	}
	r.cleanup(key, e)
}

// cleanup removes key's entry once it has delivered everything it owes:
// in pass-through mode, one last emission and removal; otherwise removal
// once the flush token has arrived and every replay has been accounted
// for. Must be called with r.mu held.
//
// The pass-through case erases the entry unconditionally; the catch-up
// emission only fires when counter has already settled at zero, so a
// later end-token that brings counter to zero can't trigger a second
// emission of the same cached product.
func (r *Repeater) cleanup(key uint64, e *entry) {
	switch {
	case !r.cacheEnabled:
		if e.hasData && e.counter == 0 {
			r.emit(e.data.Store, e.data.ID)
		}
		delete(r.cache, key)
	case e.flushReceived && e.counter == 0:
		delete(r.cache, key)
	}
}

// Close logs any cache entries that never drained — a sign of a mismatch
// between announced and delivered index traffic upstream.
func (r *Repeater) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.cache {
		if e.hasData {
			r.log.Warn().Uint64("key", key).Int("counter", e.counter).Msg("repeater: cache entry leaked with cached data at close")
		} else {
			r.log.Warn().Uint64("key", key).Int("pending", len(e.pendingIDs)).Msg("repeater: cache entry leaked with no data at close")
		}
	}
}
