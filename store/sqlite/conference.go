package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/stock-conference/conference"
)

// =============================================================================
// CONFERENCE STORE (conference.Store interface)
// =============================================================================

type conferenceRow struct {
	ID                    string         `db:"id"`
	PartnerID             string         `db:"partner_id"`
	LocationID            int64          `db:"location_id"`
	ResponsibleOperatorID string         `db:"responsible_operator_id"`
	Status                string         `db:"status"`
	SnapshotSKUs          string         `db:"snapshot_skus"`
	StartedAt             sql.NullString `db:"started_at"`
	CountClosedAt         sql.NullString `db:"count_closed_at"`
	CompletedAt           sql.NullString `db:"completed_at"`
	CreatedAt             string         `db:"created_at"`
	UpdatedAt             string         `db:"updated_at"`
	Version               int64          `db:"version"`
}

type itemRow struct {
	ConferenceID    string         `db:"conference_id"`
	SKUID           int64          `db:"sku_id"`
	ProductID       int64          `db:"product_id"`
	SystemQuantity  int            `db:"system_quantity"`
	CountedQuantity int            `db:"counted_quantity"`
	Adjusted        bool           `db:"adjusted"`
	AdjustedAt      sql.NullString `db:"adjusted_at"`
	FirstCountedAt  string         `db:"first_counted_at"`
	LastCountedAt   string         `db:"last_counted_at"`
}

const conferenceColumns = `id, partner_id, location_id, responsible_operator_id, status,
	snapshot_skus, started_at, count_closed_at, completed_at, created_at, updated_at, version`

const itemColumns = `conference_id, sku_id, product_id, system_quantity, counted_quantity,
	adjusted, adjusted_at, first_counted_at, last_counted_at`

func (s *Store) CreateConference(ctx context.Context, rec *conference.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Version = 1
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO conferences (`+conferenceColumns+`)
		VALUES (:id, :partner_id, :location_id, :responsible_operator_id, :status,
			:snapshot_skus, :started_at, :count_closed_at, :completed_at, :created_at, :updated_at, :version)
	`, toConferenceRow(rec))
	if err != nil {
		if isUniqueConstraintError(err) {
			return conference.ErrConcurrentModification
		}
		return fmt.Errorf("failed to insert conference: %w", err)
	}
	return nil
}

func (s *Store) GetConference(ctx context.Context, id conference.ConferenceID) (*conference.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getConference(ctx, s.db, id)
}

// UpdateConference writes the record only if its version is unchanged.
func (s *Store) UpdateConference(ctx context.Context, rec *conference.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := toConferenceRow(rec)
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE conferences SET
			responsible_operator_id = :responsible_operator_id,
			status = :status,
			snapshot_skus = :snapshot_skus,
			started_at = :started_at,
			count_closed_at = :count_closed_at,
			completed_at = :completed_at,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update conference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update conference: %w", err)
	}
	if n == 0 {
		if _, err := getConference(ctx, s.db, rec.ID); err != nil {
			return err
		}
		return conference.ErrConcurrentModification
	}
	rec.Version++
	return nil
}

func (s *Store) ListConferences(ctx context.Context, filter conference.ListFilter) ([]conference.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{}
	args := []any{}
	if filter.PartnerID != "" {
		conditions = append(conditions, "partner_id = ?")
		args = append(args, string(filter.PartnerID))
	}
	if filter.LocationID != 0 {
		conditions = append(conditions, "location_id = ?")
		args = append(args, int64(filter.LocationID))
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}

	query := "SELECT " + conferenceColumns + " FROM conferences"
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		in, inArgs, err := sqlx.In("status IN (?)", statuses)
		if err != nil {
			return nil, fmt.Errorf("failed to build status filter: %w", err)
		}
		conditions = append(conditions, in)
		args = append(args, inArgs...)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	var rows []conferenceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list conferences: %w", err)
	}

	result := make([]conference.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("failed to decode conference %s: %w", r.ID, err)
		}
		result = append(result, *rec)
	}
	return result, nil
}

// DeleteConference removes the record; items go with it through the cascade.
func (s *Store) DeleteConference(ctx context.Context, id conference.ConferenceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM conference_items WHERE conference_id = ?", string(id)); err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM conferences WHERE id = ?", string(id))
		if err != nil {
			return fmt.Errorf("failed to delete conference: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return conference.ErrConferenceNotFound
		}
		return nil
	})
}

// =============================================================================
// ITEMS
// =============================================================================

func (s *Store) GetItem(ctx context.Context, id conference.ConferenceID, sku conference.SKUID) (*conference.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getItem(ctx, s.db, id, sku)
}

func (s *Store) ListItems(ctx context.Context, id conference.ConferenceID) ([]conference.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+itemColumns+" FROM conference_items WHERE conference_id = ? ORDER BY sku_id",
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	result := make([]conference.Item, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toItem())
	}
	return result, nil
}

// AddCount inserts the item on first touch or increments its count, only
// while the conference is EM_ANDAMENTO.
func (s *Store) AddCount(ctx context.Context, id conference.ConferenceID, sku conference.SKUID, product conference.ProductID, systemQty, n int, at time.Time) (conference.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var item conference.Item
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO conference_items
				(conference_id, sku_id, product_id, system_quantity, counted_quantity,
				 adjusted, first_counted_at, last_counted_at)
			SELECT ?, ?, ?, ?, ?, FALSE, ?, ?
			WHERE EXISTS (SELECT 1 FROM conferences WHERE id = ? AND status = ?)
			ON CONFLICT (conference_id, sku_id) DO UPDATE SET
				counted_quantity = counted_quantity + excluded.counted_quantity,
				last_counted_at = excluded.last_counted_at
		`,
			string(id), int64(sku), int64(product), systemQty, n,
			formatTime(at), formatTime(at),
			string(id), string(conference.StatusInProgress),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert item: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return requireInProgress(ctx, tx, id)
		}

		got, err := getItem(ctx, tx, id, sku)
		if err != nil {
			return err
		}
		item = *got
		return nil
	})
	return item, err
}

// RegisterZero inserts a counted-zero item unless one already exists.
func (s *Store) RegisterZero(ctx context.Context, id conference.ConferenceID, sku conference.SKUID, product conference.ProductID, systemQty int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := requireInProgress(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conference_items
				(conference_id, sku_id, product_id, system_quantity, counted_quantity,
				 adjusted, first_counted_at, last_counted_at)
			VALUES (?, ?, ?, ?, 0, FALSE, ?, ?)
			ON CONFLICT (conference_id, sku_id) DO NOTHING
		`, string(id), int64(sku), int64(product), systemQty, formatTime(at), formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to register zero count: %w", err)
		}
		return nil
	})
}

func (s *Store) MarkAdjusted(ctx context.Context, id conference.ConferenceID, sku conference.SKUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE conference_items SET adjusted = TRUE, adjusted_at = ? WHERE conference_id = ? AND sku_id = ?",
		formatTime(at), string(id), int64(sku),
	)
	if err != nil {
		return fmt.Errorf("failed to mark item adjusted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conference.ErrConferenceNotFound
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func getConference(ctx context.Context, q sqlx.QueryerContext, id conference.ConferenceID) (*conference.Record, error) {
	var row conferenceRow
	err := sqlx.GetContext(ctx, q, &row,
		"SELECT "+conferenceColumns+" FROM conferences WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conference.ErrConferenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conference: %w", err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, fmt.Errorf("failed to decode conference %s: %w", id, err)
	}
	return rec, nil
}

func getItem(ctx context.Context, q sqlx.QueryerContext, id conference.ConferenceID, sku conference.SKUID) (*conference.Item, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, q, &row,
		"SELECT "+itemColumns+" FROM conference_items WHERE conference_id = ? AND sku_id = ?",
		string(id), int64(sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	item := row.toItem()
	return &item, nil
}

func requireInProgress(ctx context.Context, q sqlx.QueryerContext, id conference.ConferenceID) error {
	rec, err := getConference(ctx, q, id)
	if err != nil {
		return err
	}
	if rec.Status != conference.StatusInProgress {
		return conference.ErrInvalidState
	}
	return nil
}

func toConferenceRow(rec *conference.Record) conferenceRow {
	return conferenceRow{
		ID:                    string(rec.ID),
		PartnerID:             string(rec.PartnerID),
		LocationID:            int64(rec.LocationID),
		ResponsibleOperatorID: string(rec.ResponsibleOperatorID),
		Status:                string(rec.Status),
		SnapshotSKUs:          encodeSKUs(rec.SnapshotSKUs),
		StartedAt:             formatTimePtr(rec.StartedAt),
		CountClosedAt:         formatTimePtr(rec.CountClosedAt),
		CompletedAt:           formatTimePtr(rec.CompletedAt),
		CreatedAt:             formatTime(rec.CreatedAt),
		UpdatedAt:             formatTime(rec.UpdatedAt),
		Version:               rec.Version,
	}
}

func (r conferenceRow) toRecord() (*conference.Record, error) {
	skus, err := decodeSKUs(r.SnapshotSKUs)
	if err != nil {
		return nil, err
	}
	return &conference.Record{
		ID:                    conference.ConferenceID(r.ID),
		PartnerID:             conference.PartnerID(r.PartnerID),
		LocationID:            conference.LocationID(r.LocationID),
		ResponsibleOperatorID: conference.OperatorID(r.ResponsibleOperatorID),
		Status:                conference.Status(r.Status),
		SnapshotSKUs:          skus,
		StartedAt:             parseTimePtr(r.StartedAt),
		CountClosedAt:         parseTimePtr(r.CountClosedAt),
		CompletedAt:           parseTimePtr(r.CompletedAt),
		CreatedAt:             parseTime(r.CreatedAt),
		UpdatedAt:             parseTime(r.UpdatedAt),
		Version:               r.Version,
	}, nil
}

func (r itemRow) toItem() conference.Item {
	return conference.Item{
		ConferenceID:    conference.ConferenceID(r.ConferenceID),
		SKUID:           conference.SKUID(r.SKUID),
		ProductID:       conference.ProductID(r.ProductID),
		SystemQuantity:  r.SystemQuantity,
		CountedQuantity: r.CountedQuantity,
		Adjusted:        r.Adjusted,
		AdjustedAt:      parseTimePtr(r.AdjustedAt),
		FirstCountedAt:  parseTime(r.FirstCountedAt),
		LastCountedAt:   parseTime(r.LastCountedAt),
	}
}

// encodeSKUs stores the snapshot as a comma separated list.
func encodeSKUs(skus []conference.SKUID) string {
	parts := make([]string, len(skus))
	for i, s := range skus {
		parts[i] = strconv.FormatInt(int64(s), 10)
	}
	return strings.Join(parts, ",")
}

func decodeSKUs(s string) ([]conference.SKUID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]conference.SKUID, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot sku %q: %w", p, err)
		}
		out = append(out, conference.SKUID(v))
	}
	return out, nil
}
