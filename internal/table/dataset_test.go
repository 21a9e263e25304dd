package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PipeSeparated(t *testing.T) {
	ds := Parse("date|sales\n2023-01|100\n2023-02|200")
	require.Empty(t, ds.Errors)
	require.Len(t, ds.SheetOrder, 1)
	tbl := ds.Sheets["default"]
	assert.Equal(t, []string{"date", "sales"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 2)
}

func TestParse_FallsBackToCommaAfterPipeAndTab(t *testing.T) {
	ds := Parse("a,b,c\n1,2,3")
	tbl := ds.Sheets["default"]
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Columns)
}

func TestParse_MultiSheetDisjointColumns_RowCountSums(t *testing.T) {
	blob := "Sheet: Jan\ndate|sales\n2023-01|100\nSheet: Feb\ndate|sales\n2023-02|200\n2023-03|300"
	ds := Parse(blob)
	require.Empty(t, ds.Errors)
	require.Equal(t, []string{"Jan", "Feb"}, ds.SheetOrder)

	merged := ds.Merged()
	totalSheetRows := len(ds.Sheets["Jan"].Rows) + len(ds.Sheets["Feb"].Rows)
	assert.Len(t, merged.Rows, totalSheetRows)
	assert.Contains(t, merged.Columns, "Jan_date")
	assert.Contains(t, merged.Columns, "Feb_sales")
	assert.Contains(t, merged.Columns, "_source_sheet")
}

func TestParse_MultiSheetOverlappingNames_BothPrefixedFormsPresent(t *testing.T) {
	blob := "Sheet: A\ncol|other\n1|2\nSheet: B\ncol|another\n3|4"
	ds := Parse(blob)
	merged := ds.Merged()
	assert.Contains(t, merged.Columns, "A_col")
	assert.Contains(t, merged.Columns, "B_col")
}

func TestParse_SingleSheet_NoPrefixing(t *testing.T) {
	ds := Parse("a|b\n1|2")
	merged := ds.Merged()
	assert.Equal(t, []string{"a", "b"}, merged.Columns)
}

func TestParse_BadSheetRecordsErrorButKeepsOthers(t *testing.T) {
	blob := "Sheet: Good\na|b\n1|2\nSheet: Bad\n\n"
	ds := Parse(blob)
	assert.Len(t, ds.Errors, 1)
	assert.Equal(t, "Bad", ds.Errors[0].Sheet)
	assert.Contains(t, ds.Sheets, "Good")
}
