package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/stock-conference/conference"
)

func sampleDetail() *conference.Detail {
	items := []conference.ItemDetail{
		{
			Item: conference.Item{
				ConferenceID: "c-1", SKUID: 20, ProductID: 10,
				SystemQuantity: 3, CountedQuantity: 5,
			},
			ProductName: "Widget",
			SKUName:     "Widget Blue",
			UnitCost:    decimal.RequireFromString("2.50"),
		},
		{
			Item: conference.Item{
				ConferenceID: "c-1", SKUID: 21, ProductID: 10,
				SystemQuantity: 4, CountedQuantity: 0,
			},
			ProductName: "Widget",
			SKUName:     "Widget Red",
			UnitCost:    decimal.RequireFromString("1.00"),
		},
	}
	return &conference.Detail{
		Record: &conference.Record{
			ID:         "c-1",
			LocationID: 7,
			Status:     conference.StatusCompleted,
			CreatedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Items:   items,
		Summary: conference.Summarize(items),
	}
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	// GIVEN: a conference with one surplus and one shortage
	d := sampleDetail()

	// WHEN: exported
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, d))

	// THEN: the workbook reopens with both sheets populated
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(ItemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "SKU", rows[0][0])
	assert.Equal(t, "20", rows[1][0])
	assert.Equal(t, "Widget Blue", rows[1][3])
	assert.Equal(t, "2", rows[1][6])
	assert.Equal(t, "-4", rows[2][6])

	status, err := f.GetCellValue(SummarySheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "CONCLUIDA", status)

	net, err := f.GetCellValue(SummarySheet, "B14")
	require.NoError(t, err)
	assert.Equal(t, "1", net)
}

func TestWriteXLSX_EmptyConference(t *testing.T) {
	d := &conference.Detail{
		Record:  &conference.Record{ID: "c-2", Status: conference.StatusInProgress},
		Summary: conference.Summarize(nil),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, d))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(ItemsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "conference-abc.xlsx", Filename("abc"))
}
