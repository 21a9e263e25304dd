// Package table implements the Table Store (component C3): parsing tabular
// text into an in-memory columnar Dataset, and projecting multi-sheet
// datasets into a single merged view for the sandbox to operate on.
package table

import (
	"strings"
)

// Table is one sheet's columnar data.
type Table struct {
	Columns []string
	Rows    [][]string
}

// SheetError records a parse failure for one sheet while the rest of the
// Dataset is still usable.
type SheetError struct {
	Sheet   string
	Message string
}

// Dataset is the parsed form of a tabular text blob: an ordered mapping of
// sheet name to Table, with per-sheet parse errors recorded separately so a
// single bad sheet never discards the rest.
type Dataset struct {
	SheetOrder []string
	Sheets     map[string]Table
	Errors     []SheetError
}

const sourceSheetColumn = "_source_sheet"

// Parse detects the shape of blob and produces a Dataset. Detection order:
// multi-sheet "Sheet: <name>" headers first; then the first of
// pipe/tab/comma separation that yields >= 2 columns on the header line.
func Parse(blob string) Dataset {
	if containsSheetHeader(blob) {
		return parseMultiSheet(blob)
	}

	t, err := parseSingle(blob)
	ds := Dataset{Sheets: map[string]Table{}}
	if err != "" {
		ds.Errors = append(ds.Errors, SheetError{Sheet: "default", Message: err})
		return ds
	}
	ds.SheetOrder = []string{"default"}
	ds.Sheets["default"] = t
	return ds
}

var sheetHeaderPrefixes = []string{"Sheet: ", "表: ", "Sheet:", "表:"}

func containsSheetHeader(blob string) bool {
	for _, line := range strings.Split(blob, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, prefix := range sheetHeaderPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				return true
			}
		}
	}
	return false
}

func parseMultiSheet(blob string) Dataset {
	ds := Dataset{Sheets: map[string]Table{}}
	lines := strings.Split(blob, "\n")

	var currentName string
	var currentBlock []string
	flush := func() {
		if currentName == "" {
			return
		}
		t, errMsg := parseSingle(strings.Join(currentBlock, "\n"))
		if errMsg != "" {
			ds.Errors = append(ds.Errors, SheetError{Sheet: currentName, Message: errMsg})
			return
		}
		ds.SheetOrder = append(ds.SheetOrder, currentName)
		ds.Sheets[currentName] = t
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if name, ok := sheetHeaderName(trimmed); ok {
			flush()
			currentName = name
			currentBlock = nil
			continue
		}
		currentBlock = append(currentBlock, line)
	}
	flush()

	return ds
}

func sheetHeaderName(line string) (string, bool) {
	for _, prefix := range sheetHeaderPrefixes {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

func parseSingle(block string) (Table, string) {
	lines := nonEmptyLines(block)
	if len(lines) == 0 {
		return Table{}, "empty block"
	}

	for _, sep := range []string{"|", "\t", ","} {
		cols := splitTrim(lines[0], sep)
		if len(cols) >= 2 {
			var rows [][]string
			for _, line := range lines[1:] {
				rows = append(rows, splitTrim(line, sep))
			}
			return Table{Columns: cols, Rows: rows}, ""
		}
	}
	return Table{}, "could not detect a delimiter yielding >= 2 columns"
}

func nonEmptyLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitTrim(line, sep string) []string {
	parts := strings.Split(line, sep)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// Merged projects a (possibly multi-sheet) Dataset into a single Table. With
// one sheet, it is returned as-is (no prefixing, no synthetic column). With
// more than one sheet, every column is prefixed "<sheet>_<col>" and a
// synthetic _source_sheet column records provenance; rows are concatenated
// in sheet order.
func (d Dataset) Merged() Table {
	if len(d.SheetOrder) == 0 {
		return Table{}
	}
	if len(d.SheetOrder) == 1 {
		return d.Sheets[d.SheetOrder[0]]
	}

	var cols []string
	for _, name := range d.SheetOrder {
		t := d.Sheets[name]
		for _, c := range t.Columns {
			cols = append(cols, name+"_"+c)
		}
	}
	cols = append(cols, sourceSheetColumn)

	var rows [][]string
	for _, name := range d.SheetOrder {
		t := d.Sheets[name]
		for _, row := range t.Rows {
			merged := make([]string, len(cols))
			offset := 0
			for _, other := range d.SheetOrder {
				width := len(d.Sheets[other].Columns)
				if other == name {
					for i := 0; i < width && i < len(row); i++ {
						merged[offset+i] = row[i]
					}
				}
				offset += width
			}
			merged[len(cols)-1] = name
			rows = append(rows, merged)
		}
	}

	return Table{Columns: cols, Rows: rows}
}
