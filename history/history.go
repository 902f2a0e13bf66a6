// Package history implements the append-only order/deal log (spec §4.D):
// merge-by-id upsert, monotonic completion-time watermarks, and a reset
// operation. Storage is the same Storage interface for the default
// in-memory implementation (memory.go) and the optional disk-backed
// sqlite3 variant (sqlite.go), so the synchronization engine and query
// client depend on neither concretely.
package history

import (
	"context"

	"github.com/metarpc/terminal-sdk/model"
)

// Storage is the §4.D contract. Implementations must be safe for
// concurrent use; operations are serialized per account by the caller
// (the synchronization engine), but watermark reads may race writes and
// must always observe a consistent pair.
type Storage interface {
	OnHistoryOrderAdded(ctx context.Context, order model.HistoryOrder) error
	OnDealAdded(ctx context.Context, deal model.Deal) error

	HistoryOrders(ctx context.Context) ([]model.HistoryOrder, error)
	Deals(ctx context.Context) ([]model.Deal, error)

	LastHistoryOrderTime(ctx context.Context) (int64, error) // unix nanos; 0 means epoch
	LastDealTime(ctx context.Context) (int64, error)

	// Reset empties both logs and resets watermarks to epoch 0.
	Reset(ctx context.Context) error

	// UpdateStorage commits any in-memory buffer. A no-op for a pure-memory
	// implementation; meaningful for a disk-backed variant.
	UpdateStorage(ctx context.Context) error

	Close() error
}
