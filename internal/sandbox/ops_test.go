package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analystengine/internal/table"
)

func frameFixture() *Frame {
	t := table.Table{
		Columns: []string{"region", "sales"},
		Rows: [][]string{
			{"east", "100"},
			{"west", "200"},
			{"east", "50"},
		},
	}
	return NewFrame(t)
}

func TestRun_SumExpression(t *testing.T) {
	v, err := Run(`D.Sum("sales")`, frameFixture())
	require.NoError(t, err)
	assert.Equal(t, 350.0, v)
}

func TestRun_MeanExpression(t *testing.T) {
	v, err := Run(`D.Mean("sales")`, frameFixture())
	require.NoError(t, err)
	assert.InDelta(t, 116.666, v.(float64), 0.01)
}

func TestRun_GroupByAgg(t *testing.T) {
	v, err := Run(`D.GroupByAgg("region", "sales", "sum")`, frameFixture())
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 150.0, m["east"])
	assert.Equal(t, 200.0, m["west"])
}

func TestRun_ArithmeticComparison(t *testing.T) {
	v, err := Run(`D.Sum("sales") > 300`, frameFixture())
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestRun_StripsImportLine(t *testing.T) {
	_, err := Run("import os\nD.Sum(\"sales\")", frameFixture())
	require.NoError(t, err) // import line is stripped by Preprocess, not rejected
}

func TestRun_RejectsDisallowedIdentifier(t *testing.T) {
	_, err := Run(`os.Remove("x")`, frameFixture())
	require.Error(t, err)
	serr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "unsafe", string(serr.Kind))
}

func TestRun_RejectsAssignmentToNonSink(t *testing.T) {
	_, err := Run("x := D.Sum(\"sales\")\n__result__ = x", frameFixture())
	require.Error(t, err)
	serr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "unsafe", string(serr.Kind))
}

func TestRun_StripsMarkdownFences(t *testing.T) {
	v, err := Run("```python\nD.Sum(\"sales\")\n```", frameFixture())
	require.NoError(t, err)
	assert.Equal(t, 350.0, v)
}

func TestRun_RepairsShapeMismatchOnce(t *testing.T) {
	v, err := Run(`D.PivotTable("region,sales", "", "sales", "sum")`, frameFixture())
	require.NoError(t, err)
	_, ok := v.(map[string]any)
	require.True(t, ok)
}
