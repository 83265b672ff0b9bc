// Package store provides in-memory implementations of the conference
// collaborators, for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-conference/conference"
)

// =============================================================================
// MEMORY STORE - conference.Store in memory
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	conferences map[conference.ConferenceID]conference.Record
	items       map[conference.ConferenceID]map[conference.SKUID]conference.Item
}

func NewMemory() *Memory {
	return &Memory{
		conferences: make(map[conference.ConferenceID]conference.Record),
		items:       make(map[conference.ConferenceID]map[conference.SKUID]conference.Item),
	}
}

func (m *Memory) CreateConference(_ context.Context, rec *conference.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conferences[rec.ID]; exists {
		return conference.ErrConcurrentModification
	}
	rec.Version = 1
	m.conferences[rec.ID] = cloneRecord(*rec)
	m.items[rec.ID] = make(map[conference.SKUID]conference.Item)
	return nil
}

func (m *Memory) GetConference(_ context.Context, id conference.ConferenceID) (*conference.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.conferences[id]
	if !ok {
		return nil, conference.ErrConferenceNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

// UpdateConference is an optimistic write on Version.
func (m *Memory) UpdateConference(_ context.Context, rec *conference.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.conferences[rec.ID]
	if !ok {
		return conference.ErrConferenceNotFound
	}
	if stored.Version != rec.Version {
		return conference.ErrConcurrentModification
	}
	rec.Version++
	m.conferences[rec.ID] = cloneRecord(*rec)
	return nil
}

func (m *Memory) ListConferences(_ context.Context, filter conference.ListFilter) ([]conference.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []conference.Record
	for _, rec := range m.conferences {
		if matches(rec, filter) {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) DeleteConference(_ context.Context, id conference.ConferenceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conferences[id]; !ok {
		return conference.ErrConferenceNotFound
	}
	delete(m.conferences, id)
	delete(m.items, id)
	return nil
}

func (m *Memory) GetItem(_ context.Context, id conference.ConferenceID, sku conference.SKUID) (*conference.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id][sku]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) ListItems(_ context.Context, id conference.ConferenceID) ([]conference.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]conference.Item, 0, len(m.items[id]))
	for _, item := range m.items[id] {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKUID < result[j].SKUID })
	return result, nil
}

// AddCount upserts under the write lock, so increments never interleave.
func (m *Memory) AddCount(_ context.Context, id conference.ConferenceID, sku conference.SKUID, product conference.ProductID, systemQty, n int, at time.Time) (conference.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireInProgressLocked(id); err != nil {
		return conference.Item{}, err
	}

	item, ok := m.items[id][sku]
	if !ok {
		item = conference.Item{
			ConferenceID:   id,
			SKUID:          sku,
			ProductID:      product,
			SystemQuantity: systemQty,
			FirstCountedAt: at,
		}
	}
	item.CountedQuantity += n
	item.LastCountedAt = at
	m.items[id][sku] = item
	return item, nil
}

func (m *Memory) RegisterZero(_ context.Context, id conference.ConferenceID, sku conference.SKUID, product conference.ProductID, systemQty int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireInProgressLocked(id); err != nil {
		return err
	}
	if _, ok := m.items[id][sku]; ok {
		return nil
	}
	m.items[id][sku] = conference.Item{
		ConferenceID:   id,
		SKUID:          sku,
		ProductID:      product,
		SystemQuantity: systemQty,
		FirstCountedAt: at,
		LastCountedAt:  at,
	}
	return nil
}

func (m *Memory) MarkAdjusted(_ context.Context, id conference.ConferenceID, sku conference.SKUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id][sku]
	if !ok {
		return conference.ErrConferenceNotFound
	}
	item.Adjusted = true
	item.AdjustedAt = &at
	m.items[id][sku] = item
	return nil
}

func (m *Memory) requireInProgressLocked(id conference.ConferenceID) error {
	rec, ok := m.conferences[id]
	if !ok {
		return conference.ErrConferenceNotFound
	}
	if rec.Status != conference.StatusInProgress {
		return conference.ErrInvalidState
	}
	return nil
}

func matches(rec conference.Record, f conference.ListFilter) bool {
	if f.PartnerID != "" && rec.PartnerID != f.PartnerID {
		return false
	}
	if f.LocationID != 0 && rec.LocationID != f.LocationID {
		return false
	}
	if f.CreatedBefore != nil && !rec.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if rec.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

func cloneRecord(rec conference.Record) conference.Record {
	rec.SnapshotSKUs = append([]conference.SKUID(nil), rec.SnapshotSKUs...)
	return rec
}
