package conference

import "github.com/shopspring/decimal"

// Detail is a conference with its enriched items and summary.
type Detail struct {
	Record  *Record
	Items   []ItemDetail
	Summary Summary
}

// Summary aggregates the discrepancies of a conference. Values are at unit
// cost; ShortageValue is a positive magnitude.
type Summary struct {
	TotalItems         int
	MatchedItems       int
	SurplusItems       int
	ShortageItems      int
	PendingAdjustments int

	UnitsSystem   int
	UnitsCounted  int
	UnitsSurplus  int
	UnitsShortage int

	SurplusValue  decimal.Decimal
	ShortageValue decimal.Decimal
	NetValue      decimal.Decimal
}

func Summarize(items []ItemDetail) Summary {
	s := Summary{
		SurplusValue:  decimal.Zero,
		ShortageValue: decimal.Zero,
		NetValue:      decimal.Zero,
	}
	for _, it := range items {
		s.TotalItems++
		s.UnitsSystem += it.SystemQuantity
		s.UnitsCounted += it.CountedQuantity
		if it.NeedsAdjustment() {
			s.PendingAdjustments++
		}

		diff := it.Difference()
		value := it.UnitCost.Mul(decimal.NewFromInt(int64(diff)))
		switch {
		case diff == 0:
			s.MatchedItems++
		case diff > 0:
			s.SurplusItems++
			s.UnitsSurplus += diff
			s.SurplusValue = s.SurplusValue.Add(value)
		default:
			s.ShortageItems++
			s.UnitsShortage -= diff
			s.ShortageValue = s.ShortageValue.Add(value.Neg())
		}
	}
	s.NetValue = s.SurplusValue.Sub(s.ShortageValue)
	return s
}
