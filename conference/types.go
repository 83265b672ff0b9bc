/*
Package conference provides the stock conference (physical inventory
reconciliation) engine.

PURPOSE:
  An operator scans the physical stock of one location. The engine compares
  the scanned counts against the quantities recorded in the stock ledger,
  SKU by SKU, and once the count is confirmed it commits the differences back
  into the ledger as one batch of signed adjustments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Record: the conference aggregate (identity, location, status, timestamps)
  - Item: one row per SKU touched during a conference (system vs counted)
  - Status: the forward-only lifecycle PENDENTE → EM_ANDAMENTO → CONCLUIDA → FINALIZADA
  - Completion / FinalizeResult: typed outcomes returned to callers

DESIGN PRINCIPLES:
  1. Forward-only: status never moves backwards
  2. First touch: an item's system quantity is read from the ledger the first
     time the SKU is counted and never re-read afterwards
  3. Relative deltas: finalization applies counted - system as a signed delta,
     never an absolute "set to" value, so unrelated stock movements survive
  4. Resumable commit: each applied item is marked adjusted individually

SEE ALSO:
  - engine.go: state machine and commit protocol
  - store.go: persistence interface
  - ledger.go: stock ledger and catalog collaborators
*/
package conference

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ConferenceID string
type PartnerID string
type OperatorID string
type LocationID int64
type ProductID int64
type SKUID int64

// =============================================================================
// STATUS - Forward-only lifecycle
// =============================================================================

type Status string

const (
	StatusPending    Status = "PENDENTE"
	StatusInProgress Status = "EM_ANDAMENTO"
	StatusCompleted  Status = "CONCLUIDA"
	StatusFinalized  Status = "FINALIZADA"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusFinalized:  3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanMoveTo reports whether a transition from s to next is a single forward step.
func (s Status) CanMoveTo(next Status) bool {
	return s.Valid() && next.Valid() && statusRank[next] == statusRank[s]+1
}

// =============================================================================
// RECORD - The conference aggregate
// =============================================================================

type Record struct {
	ID                    ConferenceID
	PartnerID             PartnerID
	LocationID            LocationID
	ResponsibleOperatorID OperatorID
	Status                Status

	// LocationStockSnapshot: SKUs with non-zero stock when the count started.
	// Only used to detect stocked SKUs that were never scanned.
	SnapshotSKUs []SKUID

	StartedAt     *time.Time // set on EM_ANDAMENTO
	CountClosedAt *time.Time // set on CONCLUIDA
	CompletedAt   *time.Time // set on FINALIZADA

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is bumped on every record write (optimistic concurrency).
	Version int64
}

// =============================================================================
// ITEM - One counted SKU
// =============================================================================

type Item struct {
	ConferenceID    ConferenceID
	SKUID           SKUID
	ProductID       ProductID
	SystemQuantity  int
	CountedQuantity int
	Adjusted        bool
	AdjustedAt      *time.Time
	FirstCountedAt  time.Time
	LastCountedAt   time.Time
}

// Difference is counted - system. Positive means surplus, negative shortage.
func (i Item) Difference() int { return i.CountedQuantity - i.SystemQuantity }

// NeedsAdjustment reports whether finalization still has to apply this item.
func (i Item) NeedsAdjustment() bool { return i.Difference() != 0 && !i.Adjusted }

// ItemDetail joins an item with catalog data for display and export.
type ItemDetail struct {
	Item
	ProductName string
	SKUName     string
	UnitCost    decimal.Decimal
}

// =============================================================================
// OUTCOMES
// =============================================================================

// UnscannedItem is a stocked SKU from the location snapshot that was never counted.
type UnscannedItem struct {
	SKUID          SKUID
	ProductID      ProductID
	ProductName    string
	SystemQuantity int
}

type CompletionOutcome string

const (
	OutcomeCompleted           CompletionOutcome = "completed"
	OutcomePendingConfirmation CompletionOutcome = "pending_confirmation"
)

// Completion is the result of RequestCompletion. When Outcome is
// OutcomePendingConfirmation the record was not modified and Unscanned lists
// what ConfirmCompletion would register as counted zero.
type Completion struct {
	Outcome   CompletionOutcome
	Record    *Record
	Unscanned []UnscannedItem
}

// SkippedAdjustment is an item whose delta the ledger rejected during finalize.
type SkippedAdjustment struct {
	SKUID  SKUID
	Delta  int
	Reason string
}

// FinalizeResult reports the batch commit.
type FinalizeResult struct {
	Record         *Record
	ProcessedCount int
	SkippedSKUIDs  []SKUID
	Skipped        []SkippedAdjustment
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	PartnerID     PartnerID
	LocationID    LocationID
	Statuses      []Status
	CreatedBefore *time.Time
}
