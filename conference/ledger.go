/*
ledger.go - External collaborators: stock ledger and catalog

PURPOSE:
  The stock ledger is the authoritative quantity per (location, SKU). It is
  shared with every other stock-moving process (sales, transfers), so the
  engine never assumes exclusive access: reads may be stale by the time a
  delta is applied, which is why deltas are always relative.

CONTRACT:
  CurrentQuantity: quantity now; wraps ErrSKUNotFoundAtLocation when the SKU
                   has no stock record at the location
  ApplyDelta:      signed change; ErrDuplicateAdjustment when the idempotency
                   key was already applied, ErrInsufficientStock (or any
                   AdjustmentError) when a stricter ledger refuses it
  SKUsWithStock:   SKUs with non-zero quantity (the location snapshot)

  The catalog resolves locations and SKU descriptions (product name, unit
  cost) for the completion gate, the summary and exports.

IMPLEMENTATIONS:
  - conference/store/ledger.go: In-memory ledger + catalog
  - store/sqlite/stock.go: SQLite ledger with movement audit rows
*/
package conference

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Adjustment is one signed delta submitted during finalize.
type Adjustment struct {
	LocationID     LocationID
	SKUID          SKUID
	Delta          int
	Reference      ConferenceID
	IdempotencyKey string
	Reason         string
	CreatedBy      OperatorID
}

// AdjustmentKey is the idempotency key of a conference delta for one SKU.
func AdjustmentKey(id ConferenceID, sku SKUID) string {
	return fmt.Sprintf("conference:%s:sku:%d", id, sku)
}

// StockLedger is the authoritative stock service consumed by the engine.
type StockLedger interface {
	CurrentQuantity(ctx context.Context, location LocationID, sku SKUID) (int, error)
	ApplyDelta(ctx context.Context, adj Adjustment) error
	SKUsWithStock(ctx context.Context, location LocationID) ([]SKUID, error)
}

// SKUInfo describes a SKU for display and valuation.
type SKUInfo struct {
	SKUID       SKUID
	ProductID   ProductID
	ProductName string
	SKUName     string
	UnitCost    decimal.Decimal
}

// Catalog resolves locations and SKU descriptions.
type Catalog interface {
	// LocationExists reports whether the location belongs to the partner.
	LocationExists(ctx context.Context, partner PartnerID, location LocationID) (bool, error)

	// DescribeSKUs returns info for the known SKUs; unknown SKUs are omitted.
	DescribeSKUs(ctx context.Context, skus []SKUID) (map[SKUID]SKUInfo, error)
}
