/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with locations,
	catalog and stock levels, so a conference can be run end to end from a
	scanner or curl without any other system.

AVAILABLE SCENARIOS:

	corner-shop:    One location, five SKUs, all stocked
	warehouse:      Two locations, one SKU already at zero, one negative
	strict-ledger:  Small stock levels that make shortages visible

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create locations for the demo partner
 3. Create products and SKUs with unit cost
 4. Set stock levels per location

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "corner-shop"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - server.go: Routes are mounted only when a Seeder is configured
  - store/sqlite/stock.go: Seeding methods
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-conference/conference"
)

// DemoPartner owns every location created by the scenarios.
const DemoPartner conference.PartnerID = "partner-demo"

// Seeder writes demo master data. Implemented by the sqlite store.
type Seeder interface {
	Reset(ctx context.Context) error
	SaveLocation(ctx context.Context, partner conference.PartnerID, location conference.LocationID, name string) error
	SaveSKU(ctx context.Context, info conference.SKUInfo) error
	SetQuantity(ctx context.Context, location conference.LocationID, sku conference.SKUID, qty int) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type stockLine struct {
	Location conference.LocationID
	SKU      conference.SKUInfo
	Quantity int
}

type scenario struct {
	ScenarioDTO
	Locations map[conference.LocationID]string
	Stock     []stockLine
}

func sku(product conference.ProductID, id conference.SKUID, productName, skuName, cost string) conference.SKUInfo {
	return conference.SKUInfo{
		SKUID:       id,
		ProductID:   product,
		ProductName: productName,
		SKUName:     skuName,
		UnitCost:    decimal.RequireFromString(cost),
	}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "corner-shop",
			Name:        "Corner Shop",
			Description: "One shelf with five stocked SKUs; scan codes are <product>-<sku>, e.g. 10-101",
			PartnerID:   string(DemoPartner),
		},
		Locations: map[conference.LocationID]string{1: "Front shelf"},
		Stock: []stockLine{
			{1, sku(10, 101, "Coffee Beans", "Coffee Beans 250g", "8.90"), 12},
			{1, sku(10, 102, "Coffee Beans", "Coffee Beans 1kg", "29.50"), 4},
			{1, sku(11, 111, "Green Tea", "Green Tea 20 bags", "3.25"), 20},
			{1, sku(12, 121, "Dark Chocolate", "Dark Chocolate 70%", "2.10"), 30},
			{1, sku(13, 131, "Honey", "Honey 500g", "6.75"), 6},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "warehouse",
			Name:        "Warehouse",
			Description: "Two locations; SKU 202 sits at zero and SKU 203 is negative, so neither blocks completion",
			PartnerID:   string(DemoPartner),
		},
		Locations: map[conference.LocationID]string{1: "Aisle A", 2: "Aisle B"},
		Stock: []stockLine{
			{1, sku(20, 201, "Screws", "Screws M4 x 100", "4.00"), 50},
			{1, sku(20, 202, "Screws", "Screws M5 x 100", "4.50"), 0},
			{1, sku(20, 203, "Screws", "Screws M6 x 100", "5.00"), -3},
			{1, sku(21, 211, "Wall Plugs", "Wall Plugs 8mm", "2.20"), 25},
			{2, sku(22, 221, "Hammer", "Claw Hammer", "18.00"), 3},
			{2, sku(23, 231, "Tape Measure", "Tape Measure 5m", "9.90"), 7},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "strict-ledger",
			Name:        "Strict Ledger",
			Description: "Low stock levels; run the server with LEDGER_ALLOW_NEGATIVE=false to see skipped adjustments",
			PartnerID:   string(DemoPartner),
		},
		Locations: map[conference.LocationID]string{1: "Pharmacy counter"},
		Stock: []stockLine{
			{1, sku(30, 301, "Bandages", "Bandages 10 pack", "3.10"), 2},
			{1, sku(31, 311, "Saline", "Saline 100ml", "1.80"), 1},
		},
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) scenario() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if s, ok := findScenario(h.scenario()); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.setScenario("")
	if err := LoadScenario(r.Context(), h.Seeder, s.ID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setScenario(s.ID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Seeder.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// LoadScenario resets the seeder and writes the scenario's master data.
func LoadScenario(ctx context.Context, seeder Seeder, id string) error {
	s, ok := findScenario(id)
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}

	if err := seeder.Reset(ctx); err != nil {
		return err
	}
	for loc, name := range s.Locations {
		if err := seeder.SaveLocation(ctx, DemoPartner, loc, name); err != nil {
			return err
		}
	}
	for _, line := range s.Stock {
		if err := seeder.SaveSKU(ctx, line.SKU); err != nil {
			return err
		}
		if err := seeder.SetQuantity(ctx, line.Location, line.SKU.SKUID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}
