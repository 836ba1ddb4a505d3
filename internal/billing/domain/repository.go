package domain

import (
	"context"

	"gorm.io/gorm"
)

// AggregateStore is the document-store contract for billing aggregates.
// The db handle is either the root connection (single-document atomic
// write) or a transaction handle supplied by the caller when more than one
// aggregate is touched. No business logic lives behind this interface.
// ListFilter narrows aggregate listings for downstream readers.
type ListFilter struct {
	CustomerID  string
	BillingDate string
	Status      string
	AfterKey    string
	Limit       int
}

// AggregateReader is the read-only surface consumed by reporting and the
// ops API. Kept separate from AggregateStore so the engine's write contract
// stays exactly get/put/delete.
type AggregateReader interface {
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*BillingAggregate, error)
}

type AggregateStore interface {
	// Get returns the aggregate at key, or nil when absent.
	Get(ctx context.Context, db *gorm.DB, key string) (*BillingAggregate, error)

	// Put inserts the aggregate when Version is zero, otherwise performs a
	// version-checked update. Returns ErrDuplicateAggregate when an insert
	// collides with an existing key and ErrVersionConflict when an update
	// saw a stale version.
	Put(ctx context.Context, db *gorm.DB, agg *BillingAggregate) error

	// Delete removes the aggregate at key iff its version still matches.
	// Returns ErrVersionConflict when another writer touched it first.
	Delete(ctx context.Context, db *gorm.DB, key string, version int64) error
}
