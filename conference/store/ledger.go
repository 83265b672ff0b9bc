package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-conference/conference"
)

// =============================================================================
// MEMORY LEDGER - conference.StockLedger + conference.Catalog in memory
// =============================================================================

type stockKey struct {
	Location conference.LocationID
	SKU      conference.SKUID
}

// AppliedDelta records a delta accepted by the ledger.
type AppliedDelta struct {
	Adjustment conference.Adjustment
	Before     int
	After      int
}

// Hook runs before a delta is applied; a non-nil error is returned as-is
// without applying. Tests use it to simulate ledger failures.
type Hook func(adj conference.Adjustment) error

type MemoryLedger struct {
	mu            sync.RWMutex
	quantities    map[stockKey]int
	locations     map[conference.LocationID]conference.PartnerID
	skus          map[conference.SKUID]conference.SKUInfo
	applied       []AppliedDelta
	idempotency   map[string]bool
	reads         map[stockKey]int
	allowNegative bool
	beforeApply   Hook
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		quantities:    make(map[stockKey]int),
		locations:     make(map[conference.LocationID]conference.PartnerID),
		skus:          make(map[conference.SKUID]conference.SKUInfo),
		idempotency:   make(map[string]bool),
		reads:         make(map[stockKey]int),
		allowNegative: true,
	}
}

// SetAllowNegative makes the ledger reject deltas that drive stock below zero.
func (l *MemoryLedger) SetAllowNegative(allow bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowNegative = allow
}

func (l *MemoryLedger) SetBeforeApply(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beforeApply = h
}

// AddLocation registers a location of a partner.
func (l *MemoryLedger) AddLocation(partner conference.PartnerID, location conference.LocationID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locations[location] = partner
}

// AddSKU registers catalog info for a SKU.
func (l *MemoryLedger) AddSKU(product conference.ProductID, sku conference.SKUID, productName string, unitCost decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skus[sku] = conference.SKUInfo{
		SKUID:       sku,
		ProductID:   product,
		ProductName: productName,
		UnitCost:    unitCost,
	}
}

// SetQuantity creates or overwrites the stock record of a SKU at a location.
// Simulates stock movements outside the conference.
func (l *MemoryLedger) SetQuantity(location conference.LocationID, sku conference.SKUID, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quantities[stockKey{location, sku}] = qty
}

func (l *MemoryLedger) Quantity(location conference.LocationID, sku conference.SKUID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quantities[stockKey{location, sku}]
}

// Applied returns every accepted delta in order.
func (l *MemoryLedger) Applied() []AppliedDelta {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]AppliedDelta(nil), l.applied...)
}

// Reads returns how many times CurrentQuantity was called for a SKU.
func (l *MemoryLedger) Reads(location conference.LocationID, sku conference.SKUID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reads[stockKey{location, sku}]
}

func (l *MemoryLedger) CurrentQuantity(_ context.Context, location conference.LocationID, sku conference.SKUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := stockKey{location, sku}
	l.reads[k]++
	qty, ok := l.quantities[k]
	if !ok {
		return 0, &conference.SKUNotFoundError{LocationID: location, SKUID: sku}
	}
	return qty, nil
}

func (l *MemoryLedger) ApplyDelta(_ context.Context, adj conference.Adjustment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.beforeApply != nil {
		if err := l.beforeApply(adj); err != nil {
			return err
		}
	}
	if adj.IdempotencyKey != "" && l.idempotency[adj.IdempotencyKey] {
		return conference.ErrDuplicateAdjustment
	}

	k := stockKey{adj.LocationID, adj.SKUID}
	before, ok := l.quantities[k]
	if !ok && adj.Delta < 0 && !l.allowNegative {
		return &conference.SKUNotFoundError{LocationID: adj.LocationID, SKUID: adj.SKUID}
	}
	after := before + adj.Delta
	if after < 0 && !l.allowNegative {
		return &conference.AdjustmentError{
			SKUID: adj.SKUID,
			Delta: adj.Delta,
			Err:   fmt.Errorf("%w: have %d", conference.ErrInsufficientStock, before),
		}
	}

	l.quantities[k] = after
	if adj.IdempotencyKey != "" {
		l.idempotency[adj.IdempotencyKey] = true
	}
	l.applied = append(l.applied, AppliedDelta{Adjustment: adj, Before: before, After: after})
	return nil
}

func (l *MemoryLedger) SKUsWithStock(_ context.Context, location conference.LocationID) ([]conference.SKUID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []conference.SKUID
	for k, qty := range l.quantities {
		if k.Location == location && qty != 0 {
			result = append(result, k.SKU)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func (l *MemoryLedger) LocationExists(_ context.Context, partner conference.PartnerID, location conference.LocationID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	owner, ok := l.locations[location]
	return ok && owner == partner, nil
}

func (l *MemoryLedger) DescribeSKUs(_ context.Context, skus []conference.SKUID) (map[conference.SKUID]conference.SKUInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make(map[conference.SKUID]conference.SKUInfo, len(skus))
	for _, s := range skus {
		if info, ok := l.skus[s]; ok {
			result[s] = info
		}
	}
	return result, nil
}
