// Package wsobserver streams completed data cells to connected
// websocket clients as msgpack-encoded frames, for external dashboards
// and debuggers watching a run live. Modeled on the console/trace
// observers of the workflow engine this project grew out of, using a
// binary wire format instead of the engine's plain-text console writer.
package wsobserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/flowmsg"
)

// Event is one observed data cell, msgpack-encoded onto the wire.
type Event struct {
	IndexPath string         `msgpack:"index_path"`
	IndexHash uint64         `msgpack:"index_hash"`
	Source    string         `msgpack:"source"`
	Products  map[string]any `msgpack:"products"`
	Seen      time.Time      `msgpack:"seen"`
}

// Hub fans out Events to every connected websocket client. The zero
// value is not valid; use New.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New returns an empty Hub. log records connection and write failures.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket connection and
// registers it for broadcast; it blocks, discarding incoming frames,
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("wsobserver: upgrade failed")
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast encodes ev once and writes it to every connected client,
// dropping any connection that errors on write.
func (h *Hub) Broadcast(ev Event) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			h.log.Warn().Err(err).Msg("wsobserver: dropping connection after write failure")
			delete(h.conns, conn)
			conn.Close()
		}
	}
	return nil
}

// Emit has the shape of graphrun.ObserveFunc: register it directly on a
// Predicate/Transform/Observe chain to stream every matching data cell
// out over websocket.
func (h *Hub) Emit(ctx context.Context, idx *cellindex.Index, in *flowmsg.ProductStore) error {
	products := make(map[string]any, len(in.Names()))
	for _, name := range in.Names() {
		v, err := in.Get(name)
		if err != nil {
			return err
		}
		products[name] = v
	}
	return h.Broadcast(Event{
		IndexPath: idx.LayerPath(),
		IndexHash: idx.Hash(),
		Source:    in.Source,
		Products:  products,
		Seen:      time.Now(),
	})
}
