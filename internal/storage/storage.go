// Package storage defines the persistence boundary for published
// products: an interface any backing store implements, plus a
// reference in-memory implementation for tests and small runs. Modeled
// on the Storage/ExecutionRepository interfaces of the workflow engine
// this project grew out of.
package storage

import (
	"context"
	"sync"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
)

// Record is one persisted data cell's published products.
type Record struct {
	IndexHash  uint64
	IndexPath  string
	Source     string
	Products   map[string]any
}

// Storage persists and retrieves product records by data-cell hash.
// Implementations must be safe for concurrent use; a graph may publish
// from many worker goroutines at once.
type Storage interface {
	Save(ctx context.Context, idx *cellindex.Index, source string, products map[string]any) error
	Load(ctx context.Context, idx *cellindex.Index) (*Record, error)
}

// Memory is an in-process Storage backed by a guarded map, the default
// for tests and single-process demos.
type Memory struct {
	mu      sync.RWMutex
	records map[uint64]*Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[uint64]*Record)}
}

// Save stores products under idx's content hash, overwriting any prior
// record at that hash.
func (m *Memory) Save(ctx context.Context, idx *cellindex.Index, source string, products map[string]any) error {
	cp := make(map[string]any, len(products))
	for k, v := range products {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[idx.Hash()] = &Record{IndexHash: idx.Hash(), IndexPath: idx.LayerPath(), Source: source, Products: cp}
	return nil
}

// Load retrieves the record for idx, or a NoSuchProduct error if none
// was ever saved.
func (m *Memory) Load(ctx context.Context, idx *cellindex.Index) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[idx.Hash()]
	if !ok {
		return nil, cferrors.NewNoSuchProduct(idx.String())
	}
	return rec, nil
}
