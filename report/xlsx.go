// Package report renders a conference as an XLSX workbook: one "Items" sheet
// with a row per counted SKU and a "Summary" sheet with the totals.
package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/stock-conference/conference"
)

const (
	ItemsSheet   = "Items"
	SummarySheet = "Summary"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var itemHeadings = []string{
	"SKU", "Product", "Product Name", "SKU Name",
	"System Qty", "Counted Qty", "Difference", "Unit Cost", "Value", "Adjusted",
}

// Filename is the download name of a conference export.
func Filename(id conference.ConferenceID) string {
	return fmt.Sprintf("conference-%s.xlsx", id)
}

// WriteXLSX writes the conference detail as a workbook to w.
func WriteXLSX(w io.Writer, d *conference.Detail) error {
	f, err := Build(d)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Build lays out the workbook in memory.
func Build(d *conference.Detail) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ItemsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeItems(f, d.Items); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write items sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummary(f, d.Record, d.Summary); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write summary sheet: %w", err)
	}
	return f, nil
}

func writeItems(f *excelize.File, items []conference.ItemDetail) error {
	if err := setRow(f, ItemsSheet, 1, toAny(itemHeadings)...); err != nil {
		return err
	}
	for i, it := range items {
		diff := it.Difference()
		value := it.UnitCost.Mul(decimal.NewFromInt(int64(diff)))
		err := setRow(f, ItemsSheet, i+2,
			int64(it.SKUID),
			int64(it.ProductID),
			it.ProductName,
			it.SKUName,
			it.SystemQuantity,
			it.CountedQuantity,
			diff,
			it.UnitCost.InexactFloat64(),
			value.InexactFloat64(),
			it.Adjusted,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(f *excelize.File, rec *conference.Record, s conference.Summary) error {
	rows := [][2]any{
		{"Conference", string(rec.ID)},
		{"Location", int64(rec.LocationID)},
		{"Status", string(rec.Status)},
		{"Responsible", string(rec.ResponsibleOperatorID)},
		{"Items", s.TotalItems},
		{"Matched", s.MatchedItems},
		{"Surplus Items", s.SurplusItems},
		{"Shortage Items", s.ShortageItems},
		{"Pending Adjustments", s.PendingAdjustments},
		{"Units System", s.UnitsSystem},
		{"Units Counted", s.UnitsCounted},
		{"Surplus Value", s.SurplusValue.InexactFloat64()},
		{"Shortage Value", s.ShortageValue.InexactFloat64()},
		{"Net Value", s.NetValue.InexactFloat64()},
	}
	for i, r := range rows {
		if err := setRow(f, SummarySheet, i+1, r[0], r[1]); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
