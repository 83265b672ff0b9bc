/*
Package sqlite provides a SQLite-backed implementation of the conference
collaborators.

PURPOSE:
  Implements conference.Store (records + items), conference.StockLedger and
  conference.Catalog on one SQLite database through sqlx. In production the
  same statements run on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  conference.Store:       Conference records and counted items
  conference.StockLedger: Stock levels per location and SKU, movement log
  conference.Catalog:     Locations, products and SKUs

KEY TABLES:
  conferences:       One row per conference; version column for optimistic writes
  conference_items:  One row per (conference, sku); counted_quantity only grows
  locations:         Partner-owned stock locations
  products / skus:   Catalog, unit cost stored as decimal text
  stock_levels:      Current quantity per (location, sku)
  stock_movements:   Append-only log of applied deltas, unique idempotency key

ATOMIC COUNTING:
  AddCount is a single INSERT .. ON CONFLICT DO UPDATE that increments the
  stored count and only fires while the conference is EM_ANDAMENTO, so two
  concurrent scans both land and a scan never lands after completion.

CONNECTIONS:
  The pool is limited to one connection: ":memory:" databases are private to
  a connection, and SQLite has a single writer anyway.

USAGE:
  store, err := sqlite.New("./data/conference.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := conference.NewEngine(store, store, store)

SEE ALSO:
  - conference/store.go: Store interface
  - conference/ledger.go: StockLedger / Catalog interfaces
  - conference/store: In-memory implementations for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements the conference storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex

	allowNegative bool
	now           func() time.Time
}

type Option func(*Store)

// WithAllowNegative controls whether the ledger accepts deltas that drive a
// stock level below zero. Defaults to true.
func WithAllowNegative(allow bool) Option { return func(s *Store) { s.allowNegative = allow } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{
		db:            db,
		allowNegative: true,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conferences (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		location_id INTEGER NOT NULL,
		responsible_operator_id TEXT NOT NULL,
		status TEXT NOT NULL,
		snapshot_skus TEXT NOT NULL DEFAULT '',
		started_at TEXT,
		count_closed_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_conferences_partner_location
		ON conferences(partner_id, location_id, status);
	CREATE INDEX IF NOT EXISTS idx_conferences_created_at
		ON conferences(created_at DESC);

	CREATE TABLE IF NOT EXISTS conference_items (
		conference_id TEXT NOT NULL REFERENCES conferences(id) ON DELETE CASCADE,
		sku_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		system_quantity INTEGER NOT NULL,
		counted_quantity INTEGER NOT NULL DEFAULT 0,
		adjusted BOOLEAN NOT NULL DEFAULT FALSE,
		adjusted_at TEXT,
		first_counted_at TEXT NOT NULL,
		last_counted_at TEXT NOT NULL,
		PRIMARY KEY (conference_id, sku_id)
	);

	CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY,
		partner_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS skus (
		id INTEGER PRIMARY KEY,
		product_id INTEGER NOT NULL REFERENCES products(id),
		name TEXT NOT NULL DEFAULT '',
		unit_cost TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS stock_levels (
		location_id INTEGER NOT NULL REFERENCES locations(id),
		sku_id INTEGER NOT NULL REFERENCES skus(id),
		quantity INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (location_id, sku_id)
	);

	-- Append-only: one row per applied delta
	CREATE TABLE IF NOT EXISTS stock_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		location_id INTEGER NOT NULL,
		sku_id INTEGER NOT NULL,
		movement_type TEXT NOT NULL,
		delta INTEGER NOT NULL,
		quantity_before INTEGER NOT NULL,
		quantity_after INTEGER NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_movements_reference
		ON stock_movements(reference_id) WHERE reference_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by tests and demo seeding.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"conference_items", "conferences", "stock_movements",
		"stock_levels", "skus", "products", "locations",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// withTx runs fn inside a database transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Helper functions

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
