package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-conference/conference"
)

// MovementConferenceAdjustment tags stock movements written by Finalize.
const MovementConferenceAdjustment = "conference_adjustment"

// =============================================================================
// STOCK LEDGER (conference.StockLedger interface)
// =============================================================================

// Movement is one applied delta in the stock_movements log.
type Movement struct {
	ID             int64          `db:"id"`
	LocationID     int64          `db:"location_id"`
	SKUID          int64          `db:"sku_id"`
	MovementType   string         `db:"movement_type"`
	Delta          int            `db:"delta"`
	QuantityBefore int            `db:"quantity_before"`
	QuantityAfter  int            `db:"quantity_after"`
	ReferenceID    sql.NullString `db:"reference_id"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	Reason         sql.NullString `db:"reason"`
	CreatedBy      sql.NullString `db:"created_by"`
	CreatedAt      string         `db:"created_at"`
}

func (s *Store) CurrentQuantity(ctx context.Context, location conference.LocationID, sku conference.SKUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	qty, ok, err := currentQuantity(ctx, s.db, location, sku)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &conference.SKUNotFoundError{LocationID: location, SKUID: sku}
	}
	return qty, nil
}

// ApplyDelta adds the signed delta to the stock level and logs the movement
// in one transaction. A reused idempotency key returns ErrDuplicateAdjustment.
func (s *Store) ApplyDelta(ctx context.Context, adj conference.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if adj.IdempotencyKey != "" {
			var count int
			err := tx.GetContext(ctx, &count,
				"SELECT COUNT(*) FROM stock_movements WHERE idempotency_key = ?", adj.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("failed to check idempotency key: %w", err)
			}
			if count > 0 {
				return conference.ErrDuplicateAdjustment
			}
		}

		before, ok, err := currentQuantity(ctx, tx, adj.LocationID, adj.SKUID)
		if err != nil {
			return err
		}
		if !ok && adj.Delta < 0 && !s.allowNegative {
			return &conference.SKUNotFoundError{LocationID: adj.LocationID, SKUID: adj.SKUID}
		}
		after := before + adj.Delta
		if after < 0 && !s.allowNegative {
			return &conference.AdjustmentError{
				SKUID: adj.SKUID,
				Delta: adj.Delta,
				Err:   fmt.Errorf("%w: have %d", conference.ErrInsufficientStock, before),
			}
		}

		now := formatTime(s.now())
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_levels (location_id, sku_id, quantity, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (location_id, sku_id) DO UPDATE SET
				quantity = quantity + ?,
				updated_at = excluded.updated_at
		`, int64(adj.LocationID), int64(adj.SKUID), adj.Delta, now, adj.Delta)
		if err != nil {
			return fmt.Errorf("failed to update stock level: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements
				(location_id, sku_id, movement_type, delta, quantity_before, quantity_after,
				 reference_id, idempotency_key, reason, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			int64(adj.LocationID), int64(adj.SKUID), MovementConferenceAdjustment,
			adj.Delta, before, after,
			nullString(string(adj.Reference)), nullString(adj.IdempotencyKey),
			nullString(adj.Reason), nullString(string(adj.CreatedBy)), now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return conference.ErrDuplicateAdjustment
			}
			return fmt.Errorf("failed to log movement: %w", err)
		}
		return nil
	})
}

func (s *Store) SKUsWithStock(ctx context.Context, location conference.LocationID) ([]conference.SKUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT sku_id FROM stock_levels WHERE location_id = ? AND quantity <> 0 ORDER BY sku_id",
		int64(location))
	if err != nil {
		return nil, fmt.Errorf("failed to list stocked skus: %w", err)
	}

	result := make([]conference.SKUID, len(ids))
	for i, id := range ids {
		result[i] = conference.SKUID(id)
	}
	return result, nil
}

// Movements returns the movements logged for a conference, oldest first.
func (s *Store) Movements(ctx context.Context, reference conference.ConferenceID) ([]Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Movement
	err := s.db.SelectContext(ctx, &result, `
		SELECT id, location_id, sku_id, movement_type, delta, quantity_before, quantity_after,
		       reference_id, idempotency_key, reason, created_by, created_at
		FROM stock_movements
		WHERE reference_id = ?
		ORDER BY id
	`, string(reference))
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	return result, nil
}

func currentQuantity(ctx context.Context, q sqlx.QueryerContext, location conference.LocationID, sku conference.SKUID) (int, bool, error) {
	var qty int
	err := sqlx.GetContext(ctx, q, &qty,
		"SELECT quantity FROM stock_levels WHERE location_id = ? AND sku_id = ?",
		int64(location), int64(sku))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read stock level: %w", err)
	}
	return qty, true, nil
}

// =============================================================================
// CATALOG (conference.Catalog interface)
// =============================================================================

type skuInfoRow struct {
	SKUID       int64  `db:"sku_id"`
	ProductID   int64  `db:"product_id"`
	ProductName string `db:"product_name"`
	SKUName     string `db:"sku_name"`
	UnitCost    string `db:"unit_cost"`
}

func (s *Store) LocationExists(ctx context.Context, partner conference.PartnerID, location conference.LocationID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM locations WHERE id = ? AND partner_id = ?",
		int64(location), string(partner))
	if err != nil {
		return false, fmt.Errorf("failed to check location: %w", err)
	}
	return count > 0, nil
}

func (s *Store) DescribeSKUs(ctx context.Context, skus []conference.SKUID) (map[conference.SKUID]conference.SKUInfo, error) {
	result := make(map[conference.SKUID]conference.SKUInfo, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, len(skus))
	for i, sku := range skus {
		ids[i] = int64(sku)
	}
	query, args, err := sqlx.In(`
		SELECT s.id AS sku_id, s.product_id, p.name AS product_name, s.name AS sku_name, s.unit_cost
		FROM skus s
		JOIN products p ON p.id = s.product_id
		WHERE s.id IN (?)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build sku query: %w", err)
	}

	var rows []skuInfoRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to describe skus: %w", err)
	}
	for _, r := range rows {
		cost, err := decimal.NewFromString(r.UnitCost)
		if err != nil {
			cost = decimal.Zero
		}
		result[conference.SKUID(r.SKUID)] = conference.SKUInfo{
			SKUID:       conference.SKUID(r.SKUID),
			ProductID:   conference.ProductID(r.ProductID),
			ProductName: r.ProductName,
			SKUName:     r.SKUName,
			UnitCost:    cost,
		}
	}
	return result, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// SaveLocation creates or updates a partner location.
func (s *Store) SaveLocation(ctx context.Context, partner conference.PartnerID, location conference.LocationID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, partner_id, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET partner_id = excluded.partner_id, name = excluded.name
	`, int64(location), string(partner), name)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return nil
}

// SaveSKU creates or updates a SKU and its product.
func (s *Store) SaveSKU(ctx context.Context, info conference.SKUInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name
		`, int64(info.ProductID), info.ProductName)
		if err != nil {
			return fmt.Errorf("failed to save product: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO skus (id, product_id, name, unit_cost) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				product_id = excluded.product_id,
				name = excluded.name,
				unit_cost = excluded.unit_cost
		`, int64(info.SKUID), int64(info.ProductID), info.SKUName, info.UnitCost.String())
		if err != nil {
			return fmt.Errorf("failed to save sku: %w", err)
		}
		return nil
	})
}

// SetQuantity overwrites a stock level without logging a movement. It stands
// in for stock flows outside the conference (sales, receipts).
func (s *Store) SetQuantity(ctx context.Context, location conference.LocationID, sku conference.SKUID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (location_id, sku_id, quantity, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (location_id, sku_id) DO UPDATE SET
			quantity = excluded.quantity,
			updated_at = excluded.updated_at
	`, int64(location), int64(sku), qty, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to set stock level: %w", err)
	}
	return nil
}
