// Package sqlstore is a Postgres-backed Storage implementation, for runs
// that need published products to outlive the process. Modeled on the
// bun-based persistence layer of the workflow engine this project grew
// out of.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/cellflow/cellflow/internal/cellindex"
	"github.com/cellflow/cellflow/internal/cferrors"
	"github.com/cellflow/cellflow/internal/storage"
)

// ProductRow is the bun model backing the products table.
type ProductRow struct {
	bun.BaseModel `bun:"table:cellflow_products,alias:p"`

	IndexHash  uint64    `bun:"index_hash,pk"`
	IndexPath  string    `bun:"index_path,notnull"`
	Source     string    `bun:"source,notnull"`
	ProductsJSON []byte  `bun:"products_json,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// Store is a storage.Storage implementation backed by a Postgres table.
type Store struct {
	db *bun.DB
}

// Open connects to dsn and returns a ready Store. Callers own the
// returned *bun.DB lifetime via Close.
func Open(dsn string) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &Store{db: db}, nil
}

// EnsureSchema creates the products table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*ProductRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the products published at idx.
func (s *Store) Save(ctx context.Context, idx *cellindex.Index, source string, products map[string]any) error {
	encoded, err := json.Marshal(products)
	if err != nil {
		return cferrors.NewInvariant("sqlstore: marshal products for %s: %v", idx.String(), err)
	}
	row := &ProductRow{
		IndexHash:    idx.Hash(),
		IndexPath:    idx.LayerPath(),
		Source:       source,
		ProductsJSON: encoded,
		UpdatedAt:    time.Now(),
	}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (index_hash) DO UPDATE").
		Set("index_path = EXCLUDED.index_path").
		Set("source = EXCLUDED.source").
		Set("products_json = EXCLUDED.products_json").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Load retrieves the record for idx.
func (s *Store) Load(ctx context.Context, idx *cellindex.Index) (*storage.Record, error) {
	row := new(ProductRow)
	err := s.db.NewSelect().Model(row).Where("index_hash = ?", idx.Hash()).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, cferrors.NewNoSuchProduct(idx.String())
		}
		return nil, err
	}
	var products map[string]any
	if err := json.Unmarshal(row.ProductsJSON, &products); err != nil {
		return nil, cferrors.NewInvariant("sqlstore: unmarshal products for %s: %v", idx.String(), err)
	}
	return &storage.Record{IndexHash: row.IndexHash, IndexPath: row.IndexPath, Source: row.Source, Products: products}, nil
}

var _ storage.Storage = (*Store)(nil)
