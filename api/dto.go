/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the conference domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Conference:
    ConferenceDTO, CreateConferenceRequest, DetailDTO

  Items:
    ItemDTO, ItemDetailDTO, ScanRequest

  Completion / Finalize:
    CompletionDTO, UnscannedDTO, FinalizeDTO, SkippedDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry go-playground/validator tags; handlers run them before
  calling the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-conference/conference"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateConferenceRequest struct {
	LocationID            int64  `json:"location_id" validate:"required,gt=0"`
	ResponsibleOperatorID string `json:"responsible_operator_id" validate:"required,max=64"`
}

type ScanRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ConferenceDTO struct {
	ID                    string  `json:"id"`
	PartnerID             string  `json:"partner_id"`
	LocationID            int64   `json:"location_id"`
	ResponsibleOperatorID string  `json:"responsible_operator_id"`
	Status                string  `json:"status"`
	SnapshotSKUs          []int64 `json:"snapshot_sku_ids"`
	StartedAt             *string `json:"started_at,omitempty"`
	CountClosedAt         *string `json:"count_closed_at,omitempty"`
	CompletedAt           *string `json:"completed_at,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
	Version               int64   `json:"version"`
}

type ItemDTO struct {
	SKUID           int64   `json:"sku_id"`
	ProductID       int64   `json:"product_id"`
	SystemQuantity  int     `json:"system_quantity"`
	CountedQuantity int     `json:"counted_quantity"`
	Difference      int     `json:"difference"`
	Adjusted        bool    `json:"adjusted"`
	AdjustedAt      *string `json:"adjusted_at,omitempty"`
	FirstCountedAt  string  `json:"first_counted_at"`
	LastCountedAt   string  `json:"last_counted_at"`
}

type ItemDetailDTO struct {
	ItemDTO
	ProductName string          `json:"product_name"`
	SKUName     string          `json:"sku_name"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Value       decimal.Decimal `json:"value"`
}

type SummaryDTO struct {
	TotalItems         int             `json:"total_items"`
	MatchedItems       int             `json:"matched_items"`
	SurplusItems       int             `json:"surplus_items"`
	ShortageItems      int             `json:"shortage_items"`
	PendingAdjustments int             `json:"pending_adjustments"`
	UnitsSystem        int             `json:"units_system"`
	UnitsCounted       int             `json:"units_counted"`
	UnitsSurplus       int             `json:"units_surplus"`
	UnitsShortage      int             `json:"units_shortage"`
	SurplusValue       decimal.Decimal `json:"surplus_value"`
	ShortageValue      decimal.Decimal `json:"shortage_value"`
	NetValue           decimal.Decimal `json:"net_value"`
}

type DetailDTO struct {
	Conference ConferenceDTO   `json:"conference"`
	Items      []ItemDetailDTO `json:"items"`
	Summary    SummaryDTO      `json:"summary"`
}

type UnscannedDTO struct {
	SKUID          int64  `json:"sku_id"`
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	SystemQuantity int    `json:"system_quantity"`
}

type CompletionDTO struct {
	Outcome    string         `json:"outcome"`
	Conference ConferenceDTO  `json:"conference"`
	Unscanned  []UnscannedDTO `json:"unscanned"`
}

type SkippedDTO struct {
	SKUID  int64  `json:"sku_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type FinalizeDTO struct {
	Conference     ConferenceDTO `json:"conference"`
	ProcessedCount int           `json:"processed_count"`
	SkippedSKUIDs  []int64       `json:"skipped_sku_ids"`
	Skipped        []SkippedDTO  `json:"skipped"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PartnerID   string `json:"partner_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toConferenceDTO(rec *conference.Record) ConferenceDTO {
	skus := make([]int64, len(rec.SnapshotSKUs))
	for i, s := range rec.SnapshotSKUs {
		skus[i] = int64(s)
	}
	return ConferenceDTO{
		ID:                    string(rec.ID),
		PartnerID:             string(rec.PartnerID),
		LocationID:            int64(rec.LocationID),
		ResponsibleOperatorID: string(rec.ResponsibleOperatorID),
		Status:                string(rec.Status),
		SnapshotSKUs:          skus,
		StartedAt:             formatTimePtr(rec.StartedAt),
		CountClosedAt:         formatTimePtr(rec.CountClosedAt),
		CompletedAt:           formatTimePtr(rec.CompletedAt),
		CreatedAt:             rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             rec.UpdatedAt.Format(time.RFC3339),
		Version:               rec.Version,
	}
}

func toItemDTO(it conference.Item) ItemDTO {
	return ItemDTO{
		SKUID:           int64(it.SKUID),
		ProductID:       int64(it.ProductID),
		SystemQuantity:  it.SystemQuantity,
		CountedQuantity: it.CountedQuantity,
		Difference:      it.Difference(),
		Adjusted:        it.Adjusted,
		AdjustedAt:      formatTimePtr(it.AdjustedAt),
		FirstCountedAt:  it.FirstCountedAt.Format(time.RFC3339),
		LastCountedAt:   it.LastCountedAt.Format(time.RFC3339),
	}
}

func toDetailDTO(d *conference.Detail) DetailDTO {
	items := make([]ItemDetailDTO, len(d.Items))
	for i, it := range d.Items {
		items[i] = ItemDetailDTO{
			ItemDTO:     toItemDTO(it.Item),
			ProductName: it.ProductName,
			SKUName:     it.SKUName,
			UnitCost:    it.UnitCost,
			Value:       it.UnitCost.Mul(decimal.NewFromInt(int64(it.Difference()))),
		}
	}
	s := d.Summary
	return DetailDTO{
		Conference: toConferenceDTO(d.Record),
		Items:      items,
		Summary: SummaryDTO{
			TotalItems:         s.TotalItems,
			MatchedItems:       s.MatchedItems,
			SurplusItems:       s.SurplusItems,
			ShortageItems:      s.ShortageItems,
			PendingAdjustments: s.PendingAdjustments,
			UnitsSystem:        s.UnitsSystem,
			UnitsCounted:       s.UnitsCounted,
			UnitsSurplus:       s.UnitsSurplus,
			UnitsShortage:      s.UnitsShortage,
			SurplusValue:       s.SurplusValue,
			ShortageValue:      s.ShortageValue,
			NetValue:           s.NetValue,
		},
	}
}

func toCompletionDTO(c *conference.Completion) CompletionDTO {
	unscanned := make([]UnscannedDTO, len(c.Unscanned))
	for i, u := range c.Unscanned {
		unscanned[i] = UnscannedDTO{
			SKUID:          int64(u.SKUID),
			ProductID:      int64(u.ProductID),
			ProductName:    u.ProductName,
			SystemQuantity: u.SystemQuantity,
		}
	}
	return CompletionDTO{
		Outcome:    string(c.Outcome),
		Conference: toConferenceDTO(c.Record),
		Unscanned:  unscanned,
	}
}

func toFinalizeDTO(r *conference.FinalizeResult) FinalizeDTO {
	ids := make([]int64, len(r.SkippedSKUIDs))
	for i, s := range r.SkippedSKUIDs {
		ids[i] = int64(s)
	}
	skipped := make([]SkippedDTO, len(r.Skipped))
	for i, s := range r.Skipped {
		skipped[i] = SkippedDTO{SKUID: int64(s.SKUID), Delta: s.Delta, Reason: s.Reason}
	}
	return FinalizeDTO{
		Conference:     toConferenceDTO(r.Record),
		ProcessedCount: r.ProcessedCount,
		SkippedSKUIDs:  ids,
		Skipped:        skipped,
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
