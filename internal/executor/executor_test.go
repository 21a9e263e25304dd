package executor

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/session"
	"analystengine/internal/table"
)

// fakeProvider's Complete is called concurrently now that Executor resolves
// each operation's fragment prompt in parallel, so call is an atomic
// counter rather than a plain int.
type fakeProvider struct {
	responses []string
	call      atomic.Int64
	err       error
}

func (f *fakeProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	n := f.call.Add(1) - 1
	return f.responses[int(n)%len(f.responses)], nil
}
func (f *fakeProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	return nil, nil
}
func (f *fakeProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return nil, nil
}

// keyedProvider picks its Complete response by matching "Operation: <name>"
// in the prompt, so concurrent callers each get their own operation's
// fragment regardless of goroutine scheduling order.
type keyedProvider struct {
	byOperation map[string]string
}

func (k *keyedProvider) Complete(ctx context.Context, query string, params llm.Params) (string, error) {
	for name, fragment := range k.byOperation {
		if strings.Contains(query, "Operation: "+name) {
			return fragment, nil
		}
	}
	return "", assert.AnError
}
func (k *keyedProvider) Stream(ctx context.Context, query string, params llm.Params) (llm.Stream, error) {
	return nil, nil
}
func (k *keyedProvider) Embed(ctx context.Context, text string, params llm.Params) ([]float32, error) {
	return nil, nil
}

func fixtureDataset() table.Dataset {
	return table.Dataset{
		SheetOrder: []string{"Sheet1"},
		Sheets: map[string]table.Table{
			"Sheet1": {
				Columns: []string{"region", "sales"},
				Rows: [][]string{
					{"east", "100"},
					{"west", "200"},
					{"east", "50"},
				},
			},
		},
	}
}

func TestExecute_ResolvesExactColumnAndRecordsResult(t *testing.T) {
	provider := &fakeProvider{responses: []string{`D.Sum("sales")`}}
	ex := New(provider)
	plan := session.Plan{Operations: []session.Operation{
		{Name: "sum", Column: session.SingleColumn("sales")},
	}}

	results := ex.Execute(context.Background(), plan, fixtureDataset(), config.Resolved{})
	_, isErr := session.IsError(results["sales_sum"])
	require.False(t, isErr)
	assert.Equal(t, 350.0, results["sales_sum"])
}

func TestExecute_ContainmentMatchWhenNoExactColumn(t *testing.T) {
	provider := &fakeProvider{responses: []string{`D.Sum("sales")`}}
	ex := New(provider)
	plan := session.Plan{Operations: []session.Operation{
		{Name: "sum", Column: session.SingleColumn("ales")},
	}}

	results := ex.Execute(context.Background(), plan, fixtureDataset(), config.Resolved{})
	_, isErr := session.IsError(results["sales_sum"])
	require.False(t, isErr)
}

func TestExecute_RecordsErrorWithoutAbortingRemainingOperations(t *testing.T) {
	// Fragment prompts now resolve concurrently, so the fake is keyed by
	// the operation name embedded in the prompt rather than call order.
	provider := &keyedProvider{byOperation: map[string]string{
		"bad": `os.Remove("x")`,
		"sum": `D.Sum("sales")`,
	}}
	ex := New(provider)
	plan := session.Plan{Operations: []session.Operation{
		{Name: "bad", Column: session.SingleColumn("sales")},
		{Name: "sum", Column: session.SingleColumn("sales")},
	}}

	results := ex.Execute(context.Background(), plan, fixtureDataset(), config.Resolved{})
	_, badIsErr := session.IsError(results["bad_error"])
	assert.True(t, badIsErr)
	_, sumIsErr := session.IsError(results["sales_sum"])
	require.False(t, sumIsErr)
	assert.Equal(t, 350.0, results["sales_sum"])
}

func TestExecute_ProviderErrorRecordedUnderErrorKey(t *testing.T) {
	provider := &fakeProvider{err: assert.AnError}
	ex := New(provider)
	plan := session.Plan{Operations: []session.Operation{
		{Name: "sum", Column: session.SingleColumn("sales")},
	}}

	results := ex.Execute(context.Background(), plan, fixtureDataset(), config.Resolved{})
	_, isErr := session.IsError(results["sum_error"])
	assert.True(t, isErr)
}

func TestExecute_RelationalColumnProducesCompositeResultKey(t *testing.T) {
	provider := &fakeProvider{responses: []string{`D.PivotTable("region", "region", "sales", "sum")`}}
	ex := New(provider)
	plan := session.Plan{Operations: []session.Operation{
		{Name: "pivot_table", Column: session.RelationalColumns(map[string]string{
			"index": "region", "columns": "region", "values": "sales", "aggfunc": "sum",
		})},
	}}

	results := ex.Execute(context.Background(), plan, fixtureDataset(), config.Resolved{})
	_, isErr := session.IsError(results["pivot_table_result"])
	require.False(t, isErr)
}

func TestResolveOne_ExactTrimmedMatchWinsOverContainment(t *testing.T) {
	columns := []string{"sales", "total_sales"}
	assert.Equal(t, "sales", resolveOne("sales", columns))
}

func TestResolveOne_CompositeSheetColumnForm(t *testing.T) {
	columns := []string{"Sheet1_sales"}
	assert.Equal(t, "Sheet1_sales", resolveOne("Sheet1.sales", columns))
}
