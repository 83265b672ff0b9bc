/*
engine.go - Conference lifecycle and batch-adjustment commit

PURPOSE:
  Drives a conference through its lifecycle, accepts scans, detects stocked
  SKUs that were never scanned and commits the counted differences into the
  stock ledger.

STATE MACHINE:
  ┌──────────┐ Start ┌──────────────┐ RequestCompletion ┌───────────┐ Finalize ┌────────────┐
  │ PENDENTE │──────▶│ EM_ANDAMENTO │──────────────────▶│ CONCLUIDA │─────────▶│ FINALIZADA │
  └──────────┘       └──────────────┘  (no unscanned)   └───────────┘          └────────────┘
                       │  ▲      │                            ▲
                  Scan │  │      │ unscanned stocked SKUs     │
                       └──┘      └──▶ PendingConfirmation ────┘ ConfirmCompletion
                                      (no mutation)             (registers counted = 0)

COMPLETION GATE:
  RequestCompletion never writes "counted zero" rows on its own. When stocked
  SKUs from the location snapshot were not scanned it returns them and waits
  for ConfirmCompletion, so forgotten products are not silently zeroed.

FINALIZE PROTOCOL:
  1. Select items with difference != 0 and adjusted == false
  2. Apply each difference as a signed delta (idempotency key per SKU)
  3. Mark each applied item adjusted individually
  4. Ledger refusals are skipped and reported, they do not block the batch
  5. Infrastructure failures abort with the record still CONCLUIDA; a retry
     only reprocesses the remainder
  6. Record becomes FINALIZADA and completedAt is stamped, even with nothing
     to adjust

CONCURRENCY:
  Every mutating call holds the per-conference lock, so scans and transitions
  on one conference are serialized while different conferences proceed in
  parallel. Lock contention and optimistic version conflicts are retried a
  bounded number of times before ErrConcurrentModification reaches the caller.

SEE ALSO:
  - store.go: Persistence guarantees the engine relies on
  - ledger.go: StockLedger / Catalog collaborators
  - scan.go: Scan code decoding
*/
package conference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/warp/stock-conference/conference")

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// Operation names used in InvalidStateError and logs.
const (
	OpStart    = "start"
	OpScan     = "scan"
	OpComplete = "complete"
	OpConfirm  = "confirm completion of"
	OpFinalize = "finalize"
	OpDiscard  = "discard"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store   Store
	ledger  StockLedger
	catalog Catalog
	locker  Locker
	logger  *zap.Logger

	now   func() time.Time
	newID func() ConferenceID

	retryAttempts int
	retryBackoff  time.Duration
}

type Option func(*Engine)

// WithLocker replaces the in-process KeyedMutex (e.g. with a distributed lock).
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithIDGenerator(fn func() ConferenceID) Option { return func(e *Engine) { e.newID = fn } }

// WithRetry sets how many times a conflicting operation is attempted and the
// linear backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		e.retryAttempts = attempts
		e.retryBackoff = backoff
	}
}

func NewEngine(store Store, ledger StockLedger, catalog Catalog, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		ledger:        ledger,
		catalog:       catalog,
		locker:        NewKeyedMutex(),
		logger:        zap.NewNop(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() ConferenceID { return ConferenceID(uuid.NewString()) },
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retryAttempts < 1 {
		e.retryAttempts = 1
	}
	return e
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// CreateConference opens a PENDENTE conference for a location of the partner.
func (e *Engine) CreateConference(ctx context.Context, partner PartnerID, location LocationID, operator OperatorID) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "conference.Create", "")
	defer func() { endSpan(span, err) }()

	exists, err := e.catalog.LocationExists(ctx, partner, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check location: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrLocationNotFound, location)
	}

	// Serialize creation per location so two operators cannot open two
	// conferences for the same shelf at once.
	err = e.withRetry(ctx, "create", locationKey(partner, location), func(ctx context.Context) error {
		open, err := e.store.ListConferences(ctx, ListFilter{
			PartnerID:  partner,
			LocationID: location,
			Statuses:   []Status{StatusPending, StatusInProgress, StatusCompleted},
		})
		if err != nil {
			return fmt.Errorf("failed to list open conferences: %w", err)
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: %s", ErrOpenConferenceExists, open[0].ID)
		}

		now := e.now()
		rec = &Record{
			ID:                    e.newID(),
			PartnerID:             partner,
			LocationID:            location,
			ResponsibleOperatorID: operator,
			Status:                StatusPending,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		return e.store.CreateConference(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("conference created",
		zap.String("conference_id", string(rec.ID)),
		zap.String("partner_id", string(partner)),
		zap.Int64("location_id", int64(location)),
		zap.String("operator_id", string(operator)),
	)
	return rec, nil
}

// Start moves PENDENTE → EM_ANDAMENTO and captures the location snapshot.
func (e *Engine) Start(ctx context.Context, id ConferenceID) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "conference.Start", id)
	defer func() { endSpan(span, err) }()

	err = e.withRetry(ctx, OpStart, conferenceKey(id), func(ctx context.Context) error {
		rec, err = e.load(ctx, id, OpStart, StatusPending)
		if err != nil {
			return err
		}

		skus, err := e.ledger.SKUsWithStock(ctx, rec.LocationID)
		if err != nil {
			return fmt.Errorf("failed to fetch location snapshot: %w", err)
		}

		if err := advance(rec, StatusInProgress, OpStart); err != nil {
			return err
		}
		now := e.now()
		rec.SnapshotSKUs = uniqueSorted(skus)
		rec.StartedAt = &now
		rec.UpdatedAt = now
		return e.store.UpdateConference(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("conference started",
		zap.String("conference_id", string(id)),
		zap.Int("snapshot_skus", len(rec.SnapshotSKUs)),
	)
	return rec, nil
}

// Scan counts one physical unit. The first scan of a SKU reads its system
// quantity from the ledger; later scans only increment the count.
func (e *Engine) Scan(ctx context.Context, id ConferenceID, code string) (item *Item, err error) {
	ctx, span := startSpan(ctx, "conference.Scan", id)
	defer func() { endSpan(span, err) }()

	err = e.withRetry(ctx, OpScan, conferenceKey(id), func(ctx context.Context) error {
		rec, err := e.load(ctx, id, OpScan, StatusInProgress)
		if err != nil {
			return err
		}

		sc, err := DecodeScan(code)
		if err != nil {
			return err
		}

		existing, err := e.store.GetItem(ctx, id, sc.SKUID)
		if err != nil {
			return fmt.Errorf("failed to load item: %w", err)
		}

		var stored Item
		if existing == nil {
			product, systemQty, err := e.firstTouch(ctx, rec, sc)
			if err != nil {
				return err
			}
			stored, err = e.store.AddCount(ctx, id, sc.SKUID, product, systemQty, 1, e.now())
			if err != nil {
				return e.storeWriteError(ctx, id, OpScan, err)
			}
		} else {
			if existing.ProductID != sc.ProductID {
				return &SKUNotFoundError{LocationID: rec.LocationID, SKUID: sc.SKUID}
			}
			stored, err = e.store.AddCount(ctx, id, sc.SKUID, existing.ProductID, existing.SystemQuantity, 1, e.now())
			if err != nil {
				return e.storeWriteError(ctx, id, OpScan, err)
			}
		}

		item = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("scan counted",
		zap.String("conference_id", string(id)),
		zap.Int64("sku_id", int64(item.SKUID)),
		zap.Int("counted", item.CountedQuantity),
		zap.Int("difference", item.Difference()),
	)
	return item, nil
}

// firstTouch validates the SKU at the location and reads its system quantity.
func (e *Engine) firstTouch(ctx context.Context, rec *Record, sc ScanCode) (ProductID, int, error) {
	qty, err := e.ledger.CurrentQuantity(ctx, rec.LocationID, sc.SKUID)
	if errors.Is(err, ErrSKUNotFoundAtLocation) {
		return 0, 0, &SKUNotFoundError{LocationID: rec.LocationID, SKUID: sc.SKUID}
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read system quantity: %w", err)
	}

	infos, err := e.catalog.DescribeSKUs(ctx, []SKUID{sc.SKUID})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to describe sku: %w", err)
	}
	if info, ok := infos[sc.SKUID]; ok && info.ProductID != sc.ProductID {
		return 0, 0, &SKUNotFoundError{LocationID: rec.LocationID, SKUID: sc.SKUID}
	}
	return sc.ProductID, qty, nil
}

// RequestCompletion completes the count directly when every stocked SKU of the
// snapshot was scanned. Otherwise it returns the unscanned SKUs without
// changing anything and ConfirmCompletion must follow.
func (e *Engine) RequestCompletion(ctx context.Context, id ConferenceID) (out *Completion, err error) {
	ctx, span := startSpan(ctx, "conference.RequestCompletion", id)
	defer func() { endSpan(span, err) }()

	err = e.withRetry(ctx, OpComplete, conferenceKey(id), func(ctx context.Context) error {
		rec, err := e.load(ctx, id, OpComplete, StatusInProgress)
		if err != nil {
			return err
		}

		unscanned, err := e.unscanned(ctx, rec)
		if err != nil {
			return err
		}
		if len(unscanned) > 0 {
			out = &Completion{Outcome: OutcomePendingConfirmation, Record: rec, Unscanned: unscanned}
			return nil
		}

		if err := e.closeCount(ctx, rec, OpComplete); err != nil {
			return err
		}
		out = &Completion{Outcome: OutcomeCompleted, Record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Outcome == OutcomePendingConfirmation {
		e.logger.Info("completion awaiting confirmation",
			zap.String("conference_id", string(id)),
			zap.Int("unscanned", len(out.Unscanned)),
		)
	} else {
		e.logger.Info("conference completed", zap.String("conference_id", string(id)))
	}
	return out, nil
}

// ConfirmCompletion registers every remaining unscanned stocked SKU as counted
// zero, reading its system quantity now, and moves to CONCLUIDA.
func (e *Engine) ConfirmCompletion(ctx context.Context, id ConferenceID) (rec *Record, err error) {
	ctx, span := startSpan(ctx, "conference.ConfirmCompletion", id)
	defer func() { endSpan(span, err) }()

	var registered int
	err = e.withRetry(ctx, OpConfirm, conferenceKey(id), func(ctx context.Context) error {
		rec, err = e.load(ctx, id, OpConfirm, StatusInProgress)
		if err != nil {
			return err
		}

		unscanned, err := e.unscanned(ctx, rec)
		if err != nil {
			return err
		}
		now := e.now()
		for _, u := range unscanned {
			if err := e.store.RegisterZero(ctx, id, u.SKUID, u.ProductID, u.SystemQuantity, now); err != nil {
				return e.storeWriteError(ctx, id, OpConfirm, err)
			}
			registered++
		}

		return e.closeCount(ctx, rec, OpConfirm)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("conference completed after confirmation",
		zap.String("conference_id", string(id)),
		zap.Int("registered_zero", registered),
	)
	return rec, nil
}

// Finalize commits every pending difference into the stock ledger and marks
// the conference FINALIZADA.
func (e *Engine) Finalize(ctx context.Context, id ConferenceID) (result *FinalizeResult, err error) {
	ctx, span := startSpan(ctx, "conference.Finalize", id)
	defer func() { endSpan(span, err) }()

	// processed survives a conflicting attempt: items applied by an earlier
	// attempt are already marked adjusted and are not selected again.
	processed := 0
	err = e.withRetry(ctx, OpFinalize, conferenceKey(id), func(ctx context.Context) error {
		rec, err := e.load(ctx, id, OpFinalize, StatusCompleted)
		if err != nil {
			return err
		}

		items, err := e.store.ListItems(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}

		result = &FinalizeResult{SkippedSKUIDs: []SKUID{}, Skipped: []SkippedAdjustment{}}
		for _, item := range items {
			if !item.NeedsAdjustment() {
				continue
			}

			applied, err := e.applyItem(ctx, rec, item)
			if err != nil {
				return err
			}
			if !applied.ok {
				result.SkippedSKUIDs = append(result.SkippedSKUIDs, item.SKUID)
				result.Skipped = append(result.Skipped, SkippedAdjustment{
					SKUID:  item.SKUID,
					Delta:  item.Difference(),
					Reason: applied.reason,
				})
				continue
			}
			processed++
		}

		if err := advance(rec, StatusFinalized, OpFinalize); err != nil {
			return err
		}
		now := e.now()
		rec.CompletedAt = &now
		rec.UpdatedAt = now
		if err := e.store.UpdateConference(ctx, rec); err != nil {
			return err
		}
		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.ProcessedCount = processed

	e.logger.Info("conference finalized",
		zap.String("conference_id", string(id)),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("skipped", len(result.SkippedSKUIDs)),
	)
	return result, nil
}

type applyOutcome struct {
	ok     bool
	reason string
}

// applyItem submits one delta. Ledger refusals are reported as not ok; any
// other failure aborts the batch.
func (e *Engine) applyItem(ctx context.Context, rec *Record, item Item) (applyOutcome, error) {
	delta := item.Difference()
	err := e.ledger.ApplyDelta(ctx, Adjustment{
		LocationID:     rec.LocationID,
		SKUID:          item.SKUID,
		Delta:          delta,
		Reference:      rec.ID,
		IdempotencyKey: AdjustmentKey(rec.ID, item.SKUID),
		Reason:         "stock conference",
		CreatedBy:      rec.ResponsibleOperatorID,
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateAdjustment):
		e.logger.Info("delta already applied, marking adjusted",
			zap.String("conference_id", string(rec.ID)),
			zap.Int64("sku_id", int64(item.SKUID)),
		)
	case isLedgerRejection(err):
		e.logger.Warn("ledger rejected delta, skipping",
			zap.String("conference_id", string(rec.ID)),
			zap.Int64("sku_id", int64(item.SKUID)),
			zap.Int("delta", delta),
			zap.Error(err),
		)
		return applyOutcome{reason: err.Error()}, nil
	default:
		return applyOutcome{}, fmt.Errorf("failed to apply delta for sku %d: %w", item.SKUID, err)
	}

	if err := e.store.MarkAdjusted(ctx, rec.ID, item.SKUID, e.now()); err != nil {
		return applyOutcome{}, fmt.Errorf("failed to mark sku %d adjusted: %w", item.SKUID, err)
	}
	return applyOutcome{ok: true}, nil
}

// Discard deletes an abandoned PENDENTE or EM_ANDAMENTO conference with its
// items. Completed and finalized conferences are kept.
func (e *Engine) Discard(ctx context.Context, id ConferenceID) (err error) {
	ctx, span := startSpan(ctx, "conference.Discard", id)
	defer func() { endSpan(span, err) }()

	err = e.withRetry(ctx, OpDiscard, conferenceKey(id), func(ctx context.Context) error {
		if _, err := e.load(ctx, id, OpDiscard, StatusPending, StatusInProgress); err != nil {
			return err
		}
		return e.store.DeleteConference(ctx, id)
	})
	if err != nil {
		return err
	}

	e.logger.Info("conference discarded", zap.String("conference_id", string(id)))
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) Get(ctx context.Context, id ConferenceID) (*Record, error) {
	return e.store.GetConference(ctx, id)
}

func (e *Engine) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	return e.store.ListConferences(ctx, filter)
}

// Items returns the items of a conference, ordered by SKU.
func (e *Engine) Items(ctx context.Context, id ConferenceID) ([]Item, error) {
	if _, err := e.store.GetConference(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListItems(ctx, id)
}

// Detail returns the record with catalog-enriched items and the discrepancy summary.
func (e *Engine) Detail(ctx context.Context, id ConferenceID) (*Detail, error) {
	rec, err := e.store.GetConference(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	skus := make([]SKUID, len(items))
	for i, it := range items {
		skus[i] = it.SKUID
	}
	infos, err := e.catalog.DescribeSKUs(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("failed to describe skus: %w", err)
	}

	details := make([]ItemDetail, len(items))
	for i, it := range items {
		info := infos[it.SKUID]
		details[i] = ItemDetail{
			Item:        it,
			ProductName: info.ProductName,
			SKUName:     info.SKUName,
			UnitCost:    info.UnitCost,
		}
	}

	return &Detail{Record: rec, Items: details, Summary: Summarize(details)}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// unscanned lists snapshot SKUs without an item whose current ledger quantity
// is positive. Quantities are read now, per SKU.
func (e *Engine) unscanned(ctx context.Context, rec *Record) ([]UnscannedItem, error) {
	items, err := e.store.ListItems(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	counted := make(map[SKUID]bool, len(items))
	for _, it := range items {
		counted[it.SKUID] = true
	}

	var result []UnscannedItem
	for _, sku := range rec.SnapshotSKUs {
		if counted[sku] {
			continue
		}
		qty, err := e.ledger.CurrentQuantity(ctx, rec.LocationID, sku)
		if errors.Is(err, ErrSKUNotFoundAtLocation) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read quantity of sku %d: %w", sku, err)
		}
		if qty <= 0 {
			continue
		}
		result = append(result, UnscannedItem{SKUID: sku, SystemQuantity: qty})
	}
	if len(result) == 0 {
		return nil, nil
	}

	skus := make([]SKUID, len(result))
	for i, u := range result {
		skus[i] = u.SKUID
	}
	infos, err := e.catalog.DescribeSKUs(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("failed to describe skus: %w", err)
	}
	for i := range result {
		if info, ok := infos[result[i].SKUID]; ok {
			result[i].ProductID = info.ProductID
			result[i].ProductName = info.ProductName
		}
	}
	return result, nil
}

func (e *Engine) closeCount(ctx context.Context, rec *Record, op string) error {
	if err := advance(rec, StatusCompleted, op); err != nil {
		return err
	}
	now := e.now()
	rec.CountClosedAt = &now
	rec.UpdatedAt = now
	return e.store.UpdateConference(ctx, rec)
}

// load fetches the record and checks its status against the allowed ones.
func (e *Engine) load(ctx context.Context, id ConferenceID, op string, allowed ...Status) (*Record, error) {
	rec, err := e.store.GetConference(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, s := range allowed {
		if rec.Status == s {
			return rec, nil
		}
	}
	return nil, &InvalidStateError{ConferenceID: id, Operation: op, Status: rec.Status}
}

// advance moves rec one step forward in the lifecycle. Anything other than
// the next status is refused and rec is left untouched.
func advance(rec *Record, next Status, op string) error {
	if !rec.Status.CanMoveTo(next) {
		return &InvalidStateError{ConferenceID: rec.ID, Operation: op, Status: rec.Status}
	}
	rec.Status = next
	return nil
}

// storeWriteError turns a store-level ErrInvalidState (the record left
// EM_ANDAMENTO under our feet) into an InvalidStateError with the fresh status.
func (e *Engine) storeWriteError(ctx context.Context, id ConferenceID, op string, err error) error {
	if !errors.Is(err, ErrInvalidState) {
		return fmt.Errorf("failed to write item: %w", err)
	}
	status := Status("")
	if rec, getErr := e.store.GetConference(ctx, id); getErr == nil {
		status = rec.Status
	}
	return &InvalidStateError{ConferenceID: id, Operation: op, Status: status}
}

// withRetry runs fn under the lock for key, retrying retryable failures.
func (e *Engine) withRetry(ctx context.Context, op, key string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= e.retryAttempts; attempt++ {
		err = e.locked(ctx, key, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}

		e.logger.Warn("conference operation conflicted",
			zap.String("operation", op),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == e.retryAttempts {
			break
		}
		select {
		case <-time.After(e.retryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *Engine) locked(ctx context.Context, key string, fn func(context.Context) error) error {
	release, err := e.locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func conferenceKey(id ConferenceID) string { return "conference:" + string(id) }

func locationKey(partner PartnerID, location LocationID) string {
	return fmt.Sprintf("location:%s:%d", partner, location)
}

func uniqueSorted(skus []SKUID) []SKUID {
	seen := make(map[SKUID]bool, len(skus))
	out := make([]SKUID, 0, len(skus))
	for _, s := range skus {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func startSpan(ctx context.Context, name string, id ConferenceID) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if id != "" {
		span.SetAttributes(attribute.String("conference.id", string(id)))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
