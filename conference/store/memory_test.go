package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-conference/conference"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newRecord(id conference.ConferenceID, status conference.Status, created time.Time) *conference.Record {
	return &conference.Record{
		ID:         id,
		PartnerID:  "p",
		LocationID: 1,
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestMemory_OptimisticUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := newRecord("c1", conference.StatusPending, t0)
	require.NoError(t, m.CreateConference(ctx, rec))

	a, err := m.GetConference(ctx, "c1")
	require.NoError(t, err)
	b, err := m.GetConference(ctx, "c1")
	require.NoError(t, err)

	a.Status = conference.StatusInProgress
	require.NoError(t, m.UpdateConference(ctx, a))
	assert.EqualValues(t, 2, a.Version)

	b.Status = conference.StatusInProgress
	err = m.UpdateConference(ctx, b)
	assert.ErrorIs(t, err, conference.ErrConcurrentModification)

	err = m.CreateConference(ctx, newRecord("c1", conference.StatusPending, t0))
	assert.ErrorIs(t, err, conference.ErrConcurrentModification)
}

func TestMemory_AddCountRequiresInProgress(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateConference(ctx, newRecord("c1", conference.StatusPending, t0)))

	_, err := m.AddCount(ctx, "c1", 5, 1, 3, 1, t0)
	assert.ErrorIs(t, err, conference.ErrInvalidState)
	err = m.RegisterZero(ctx, "c1", 5, 1, 3, t0)
	assert.ErrorIs(t, err, conference.ErrInvalidState)

	items, err := m.ListItems(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = m.AddCount(ctx, "missing", 5, 1, 3, 1, t0)
	assert.ErrorIs(t, err, conference.ErrConferenceNotFound)
}

func TestMemory_AddCountKeepsFirstSystemQuantity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateConference(ctx, newRecord("c1", conference.StatusInProgress, t0)))

	_, err := m.AddCount(ctx, "c1", 5, 1, 3, 1, t0)
	require.NoError(t, err)
	item, err := m.AddCount(ctx, "c1", 5, 1, 99, 2, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 3, item.SystemQuantity)
	assert.Equal(t, 3, item.CountedQuantity)
	assert.Equal(t, t0, item.FirstCountedAt)
	assert.Equal(t, t0.Add(time.Minute), item.LastCountedAt)

	// RegisterZero leaves a counted item alone.
	require.NoError(t, m.RegisterZero(ctx, "c1", 5, 1, 7, t0))
	got, err := m.GetItem(ctx, "c1", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CountedQuantity)

	missing, err := m.GetItem(ctx, "c1", 6)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_ListAndDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateConference(ctx, newRecord("old", conference.StatusInProgress, t0)))
	require.NoError(t, m.CreateConference(ctx, newRecord("new", conference.StatusFinalized, t0.Add(time.Hour))))
	_, err := m.AddCount(ctx, "old", 5, 1, 3, 1, t0)
	require.NoError(t, err)

	all, err := m.ListConferences(ctx, conference.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, conference.ConferenceID("new"), all[0].ID)

	cutoff := t0.Add(time.Minute)
	stale, err := m.ListConferences(ctx, conference.ListFilter{CreatedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, conference.ConferenceID("old"), stale[0].ID)

	require.NoError(t, m.DeleteConference(ctx, "old"))
	items, err := m.ListItems(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.ErrorIs(t, m.DeleteConference(ctx, "old"), conference.ErrConferenceNotFound)
}

func TestMemoryLedger_ApplyDelta(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.SetQuantity(1, 5, 2)

	adj := conference.Adjustment{LocationID: 1, SKUID: 5, Delta: -3, IdempotencyKey: "k1"}
	require.NoError(t, l.ApplyDelta(ctx, adj))
	assert.Equal(t, -1, l.Quantity(1, 5))

	err := l.ApplyDelta(ctx, adj)
	assert.ErrorIs(t, err, conference.ErrDuplicateAdjustment)
	assert.Len(t, l.Applied(), 1)

	l.SetAllowNegative(false)
	err = l.ApplyDelta(ctx, conference.Adjustment{LocationID: 1, SKUID: 5, Delta: -1, IdempotencyKey: "k2"})
	assert.ErrorIs(t, err, conference.ErrInsufficientStock)
	var adjErr *conference.AdjustmentError
	assert.True(t, errors.As(err, &adjErr))

	err = l.ApplyDelta(ctx, conference.Adjustment{LocationID: 1, SKUID: 6, Delta: -1, IdempotencyKey: "k3"})
	assert.ErrorIs(t, err, conference.ErrSKUNotFoundAtLocation)

	// A surplus on an unknown SKU creates its stock record.
	require.NoError(t, l.ApplyDelta(ctx, conference.Adjustment{LocationID: 1, SKUID: 6, Delta: 4, IdempotencyKey: "k4"}))
	assert.Equal(t, 4, l.Quantity(1, 6))
}

func TestMemoryLedger_Catalog(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.AddLocation("p", 1)
	l.AddSKU(10, 5, "Coffee", decimal.RequireFromString("8.90"))
	l.SetQuantity(1, 5, 2)
	l.SetQuantity(1, 7, 0)
	l.SetQuantity(2, 8, 1)

	ok, err := l.LocationExists(ctx, "p", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.LocationExists(ctx, "other", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	infos, err := l.DescribeSKUs(ctx, []conference.SKUID{5, 99})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "Coffee", infos[5].ProductName)

	skus, err := l.SKUsWithStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []conference.SKUID{5}, skus)

	_, err = l.CurrentQuantity(ctx, 1, 99)
	assert.ErrorIs(t, err, conference.ErrSKUNotFoundAtLocation)
}
