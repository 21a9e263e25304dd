package sandbox

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"analystengine/internal/table"
)

// ErrShapeMismatch is the sentinel a Frame method returns when it receives a
// multi-column selection shaped like a single value instead of a list -
// the Go-DSL analogue of pandas' "cannot index with multidimensional key"
// family of errors. The sandbox catches this once and retries after a
// syntactic repair.
var ErrShapeMismatch = errors.New("sandbox: multi-column selection shape mismatch")

// Frame is the in-sandbox tabular value every whitelisted method call
// operates on; it wraps a table.Table with lazily-parsed numeric columns.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// NewFrame builds a Frame from a merged table.Table.
func NewFrame(t table.Table) *Frame {
	return &Frame{Columns: append([]string(nil), t.Columns...), Rows: t.Rows}
}

func (f *Frame) colIndex(name string) (int, bool) {
	for i, c := range f.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

func (f *Frame) numericColumn(name string) ([]float64, error) {
	idx, ok := f.colIndex(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]float64, 0, len(f.Rows))
	for _, row := range f.Rows {
		if idx >= len(row) {
			continue
		}
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *Frame) rawColumn(name string) ([]string, error) {
	idx, ok := f.colIndex(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]string, 0, len(f.Rows))
	for _, row := range f.Rows {
		if idx < len(row) {
			out = append(out, row[idx])
		} else {
			out = append(out, "")
		}
	}
	return out, nil
}

// Sum, Mean, Max, Min, Count, Std, Var, Median, Quantile and Unique
// implement the statistical-reducer half of the tabular-method
// whitelist.

func (f *Frame) Sum(col string) (float64, error) {
	vals, err := f.numericColumn(col)
	if err != nil {
		return 0, err
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s, nil
}

func (f *Frame) Mean(col string) (float64, error) {
	vals, err := f.numericColumn(col)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, nil
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals)), nil
}

func (f *Frame) Max(col string) (float64, error) {
	vals, err := f.numericColumn(col)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m, nil
}

func (f *Frame) Min(col string) (float64, error) {
	vals, err := f.numericColumn(col)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m, nil
}

func (f *Frame) Count(col string) (int, error) {
	vals, err := f.rawColumn(col)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range vals {
		if v != "" {
			n++
		}
	}
	return n, nil
}

func (f *Frame) Std(col string) (float64, error) {
	v, err := f.Var(col)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

func (f *Frame) Var(col string) (float64, error) {
	vals, err := f.numericColumn(col)
	if err != nil || len(vals) < 2 {
		return 0, err
	}
	mean, _ := f.Mean(col)
	var ss float64
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return ss / float64(len(vals)-1), nil
}

func (f *Frame) Median(col string) (float64, error) {
	return f.Quantile(col, 0.5)
}

func (f *Frame) Quantile(col string, q float64) (float64, error) {
	vals, err := f.numericColumn(col)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	if q < 0 {
		q = 0
	} else if q > 1 {
		q = 1
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	last := len(sorted) - 1
	pos := q * float64(last)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi > last {
		hi = last
	}
	if lo == hi {
		return sorted[lo], nil
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac, nil
}

func (f *Frame) Unique(col string) ([]string, error) {
	vals, err := f.rawColumn(col)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

// GroupByAgg implements group_by + aggregate over a single metric column
// with a named aggregation function, returning a mapping from group key to
// aggregated value.
func (f *Frame) GroupByAgg(groupCol, metricCol, agg string) (map[string]float64, error) {
	gIdx, ok := f.colIndex(groupCol)
	if !ok {
		return nil, fmt.Errorf("column %q not found", groupCol)
	}
	mIdx, ok := f.colIndex(metricCol)
	if !ok {
		return nil, fmt.Errorf("column %q not found", metricCol)
	}

	groups := map[string][]float64{}
	var order []string
	for _, row := range f.Rows {
		if gIdx >= len(row) {
			continue
		}
		key := row[gIdx]
		var v float64
		if mIdx < len(row) {
			v, _ = strconv.ParseFloat(row[mIdx], 64)
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], v)
	}

	out := map[string]float64{}
	for _, key := range order {
		out[key] = reduce(groups[key], agg)
	}
	return out, nil
}

func reduce(vals []float64, agg string) float64 {
	if len(vals) == 0 {
		return 0
	}
	switch agg {
	case "sum":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case "count":
		return float64(len(vals))
	default: // mean
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	}
}

// PivotTable implements a two-key pivot: index values become outer keys,
// columns values become inner keys, and the metric column is aggregated at
// each (index, columns) intersection. Called with a single index argument
// when shaped like a one-element selection, it returns ErrShapeMismatch so
// the sandbox can repair the call into its two-argument form.
func (f *Frame) PivotTable(index, columns, values, agg string) (map[string]map[string]float64, error) {
	if index == "" || columns == "" {
		return nil, ErrShapeMismatch
	}
	iIdx, ok := f.colIndex(index)
	if !ok {
		return nil, fmt.Errorf("column %q not found", index)
	}
	cIdx, ok := f.colIndex(columns)
	if !ok {
		return nil, fmt.Errorf("column %q not found", columns)
	}
	vIdx, ok := f.colIndex(values)
	if !ok {
		return nil, fmt.Errorf("column %q not found", values)
	}

	buckets := map[string]map[string][]float64{}
	for _, row := range f.Rows {
		if iIdx >= len(row) || cIdx >= len(row) {
			continue
		}
		iKey, cKey := row[iIdx], row[cIdx]
		var v float64
		if vIdx < len(row) {
			v, _ = strconv.ParseFloat(row[vIdx], 64)
		}
		if buckets[iKey] == nil {
			buckets[iKey] = map[string][]float64{}
		}
		buckets[iKey][cKey] = append(buckets[iKey][cKey], v)
	}

	out := map[string]map[string]float64{}
	for iKey, inner := range buckets {
		out[iKey] = map[string]float64{}
		for cKey, vals := range inner {
			out[iKey][cKey] = reduce(vals, agg)
		}
	}
	return out, nil
}

// CrossTab counts co-occurrences of two columns' values.
func (f *Frame) CrossTab(a, b string) (map[string]map[string]int, error) {
	aIdx, ok := f.colIndex(a)
	if !ok {
		return nil, fmt.Errorf("column %q not found", a)
	}
	bIdx, ok := f.colIndex(b)
	if !ok {
		return nil, fmt.Errorf("column %q not found", b)
	}
	out := map[string]map[string]int{}
	for _, row := range f.Rows {
		if aIdx >= len(row) || bIdx >= len(row) {
			continue
		}
		aKey, bKey := row[aIdx], row[bIdx]
		if out[aKey] == nil {
			out[aKey] = map[string]int{}
		}
		out[aKey][bKey]++
	}
	return out, nil
}

// Corr returns the Pearson correlation coefficient between two columns.
func (f *Frame) Corr(a, b string) (float64, error) {
	va, err := f.numericColumn(a)
	if err != nil {
		return 0, err
	}
	vb, err := f.numericColumn(b)
	if err != nil {
		return 0, err
	}
	n := len(va)
	if n > len(vb) {
		n = len(vb)
	}
	if n < 2 {
		return 0, nil
	}
	va, vb = va[:n], vb[:n]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += va[i]
		sumB += vb[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var num, denA, denB float64
	for i := 0; i < n; i++ {
		da, db := va[i]-meanA, vb[i]-meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	if denA == 0 || denB == 0 {
		return 0, nil
	}
	return num / math.Sqrt(denA*denB), nil
}

func (f *Frame) Head(n int) *Frame {
	if n < 0 {
		n = 0
	}
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[:n]}
}

func (f *Frame) Tail(n int) *Frame {
	if n < 0 {
		n = 0
	}
	if n > len(f.Rows) {
		n = len(f.Rows)
	}
	return &Frame{Columns: f.Columns, Rows: f.Rows[len(f.Rows)-n:]}
}

func (f *Frame) Shape() [2]int { return [2]int{len(f.Rows), len(f.Columns)} }
func (f *Frame) Empty() bool   { return len(f.Rows) == 0 }

// MissingCount and MissingPercentage implement the vocabulary's
// missing-data operations.
func (f *Frame) MissingCount(col string) (int, error) {
	vals, err := f.rawColumn(col)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range vals {
		if v == "" {
			n++
		}
	}
	return n, nil
}

func (f *Frame) MissingPercentage(col string) (float64, error) {
	vals, err := f.rawColumn(col)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	n, _ := f.MissingCount(col)
	return float64(n) / float64(len(vals)) * 100, nil
}
