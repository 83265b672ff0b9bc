/*
store.go - Persistence interface for conferences and their items

PURPOSE:
  Defines the boundary between the engine and durable storage. One Store
  holds both the conference records and the ConferenceItemStore rows.

KEY GUARANTEES:
  - AddCount is an atomic upsert-and-increment per (conference, SKU). Two
    concurrent scans of the same SKU never lose an increment, and the system
    quantity written by the first insert is never overwritten.
  - AddCount and RegisterZero only write while the owning record is in
    EM_ANDAMENTO; otherwise they return ErrInvalidState without writing.
  - UpdateConference is an optimistic write: it succeeds only when the stored
    version equals rec.Version, then bumps it. Mismatch → ErrConcurrentModification.
  - Items are owned by their record; DeleteConference removes both.

IMPLEMENTATIONS:
  - conference/store/memory.go: In-memory (tests, dev)
  - store/sqlite: SQLite via sqlx

SEE ALSO:
  - engine.go: The only writer
*/
package conference

import (
	"context"
	"time"
)

// Store persists conference records and items.
type Store interface {
	// CreateConference inserts a new record. rec.Version is set to 1.
	CreateConference(ctx context.Context, rec *Record) error

	// GetConference returns ErrConferenceNotFound when the ID is unknown.
	GetConference(ctx context.Context, id ConferenceID) (*Record, error)

	// UpdateConference writes rec if the stored version matches rec.Version,
	// then increments rec.Version.
	UpdateConference(ctx context.Context, rec *Record) error

	// ListConferences returns records matching filter, newest first.
	ListConferences(ctx context.Context, filter ListFilter) ([]Record, error)

	// DeleteConference removes a record and its items.
	DeleteConference(ctx context.Context, id ConferenceID) error

	// GetItem returns (nil, nil) when the SKU has not been counted yet.
	GetItem(ctx context.Context, id ConferenceID, sku SKUID) (*Item, error)

	// ListItems returns every item of a conference ordered by SKU.
	ListItems(ctx context.Context, id ConferenceID) ([]Item, error)

	// AddCount inserts the item with CountedQuantity = n and the given system
	// quantity, or adds n to an existing item. Returns the stored item.
	AddCount(ctx context.Context, id ConferenceID, sku SKUID, product ProductID, systemQty, n int, at time.Time) (Item, error)

	// RegisterZero inserts the item with CountedQuantity = 0 if it does not exist.
	RegisterZero(ctx context.Context, id ConferenceID, sku SKUID, product ProductID, systemQty int, at time.Time) error

	// MarkAdjusted flags one item as applied to the ledger.
	MarkAdjusted(ctx context.Context, id ConferenceID, sku SKUID, at time.Time) error
}
