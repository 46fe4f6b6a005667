package pdfdoc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakePDFBytes builds a minimal object with an uncompressed content
// stream wrapping text in PDF text-showing operators, enough for
// extractText's stream/Tj scan without needing a real zlib payload.
func fakePDFBytes(lines ...string) []byte {
	var body string
	for _, l := range lines {
		body += fmt.Sprintf("(%s) Tj\n", l)
	}
	return []byte("%PDF-1.4\n1 0 obj\n<< >>\nstream\n" + body + "endstream\nendobj\n%%EOF")
}

func TestParseForm990_RecoversFieldsWithinBounds(t *testing.T) {
	pdf := fakePDFBytes(
		"94-1156269",
		"2023 Form 990",
		"Total revenue - add lines 8 through 11 10,943,897.",
		"Total expenses - add lines 13 through 17 9,168,898.",
		"Program service expenses 7,500,000.",
		"Net assets or fund balances 4,200,000.",
	)

	data, found := ParseForm990(pdf)
	assert.True(t, found)
	assert.Equal(t, "94-1156269", data.EIN)
	assert.Equal(t, 2023, data.FiscalYear)
	assert.Equal(t, 10943897.0, data.TotalRevenue)
	assert.Equal(t, 9168898.0, data.TotalExpenses)
	assert.Equal(t, 7500000.0, data.ProgramExpenses)
	assert.Equal(t, 4200000.0, data.NetAssets)
}

func TestParseForm990_RejectsOutOfBoundsFinancials(t *testing.T) {
	pdf := fakePDFBytes(
		"Total revenue - add lines 8 through 11 99,999,999,999,999.",
	)

	data, found := ParseForm990(pdf)
	assert.False(t, found)
	assert.Equal(t, 0.0, data.TotalRevenue)
}

func TestParseForm990_NoSignalReturnsNotFound(t *testing.T) {
	pdf := fakePDFBytes("This document has nothing Form-990-shaped in it at all, just filler text to pass the length gate here.")

	_, found := ParseForm990(pdf)
	assert.False(t, found)
}

func TestWithinBounds(t *testing.T) {
	assert.True(t, withinBounds("total_revenue", 1000))
	assert.False(t, withinBounds("total_revenue", 10))
	assert.False(t, withinBounds("net_assets", -20_000_000_000))
	assert.True(t, withinBounds("unknown_field", -99))
}
