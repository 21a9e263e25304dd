// Package executor implements the Executor (component C7): for each
// Operation in a Plan, resolve its column reference against the dataset,
// ask the LLM for a sandbox-dialect code fragment, run it through the Code
// Sandbox, and record the outcome under a stable Results key. A single
// operation's failure is recorded, never fatal — grounded on the teacher's
// internal/agents/engine.go tool-dispatch loop, where one tool call's error
// becomes an Observation string and the ReAct loop continues.
package executor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"analystengine/internal/config"
	"analystengine/internal/llm"
	"analystengine/internal/observability"
	"analystengine/internal/sandbox"
	"analystengine/internal/session"
	"analystengine/internal/table"
)

// maxFragmentParallelism bounds how many operations' fragment prompts are
// in flight against C1 at once, mirroring the teacher's
// MaxToolParallelism-style semaphore cap on concurrent tool-call
// resolution (internal/agent/engine.go) rather than letting a large plan
// open one HTTP request per operation unbounded.
const maxFragmentParallelism = 4

// Executor is C7.
type Executor struct {
	Provider llm.Provider
}

func New(provider llm.Provider) *Executor {
	return &Executor{Provider: provider}
}

// Execute runs every operation in plan order against dataset's merged view,
// returning a Results mapping. Errors from one operation are recorded under
// "<op>_error" and never abort the remaining operations (spec.md §4.7).
func (ex *Executor) Execute(ctx context.Context, plan session.Plan, dataset table.Dataset, settings config.Resolved) session.Results {
	merged := dataset.Merged()
	frame := sandbox.NewFrame(merged)
	results := session.Results{}

	type fetched struct {
		op         session.Operation
		resolution resolution
		fragment   string
		err        error
	}
	outcomes := make([]fetched, len(plan.Operations))

	// Operations are independent of one another at the fragment-prompt
	// stage (each only reads the shared dataset), so their C1 round trips
	// run concurrently, capped at maxFragmentParallelism; the sandbox
	// itself still runs each fragment back in plan order, one at a time.
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxFragmentParallelism)
	for i, op := range plan.Operations {
		i, op := i, op
		group.Go(func() error {
			res := resolveColumn(op.Column, merged.Columns)
			fragment, err := ex.requestFragment(gctx, op, res, merged, settings)
			outcomes[i] = fetched{op: op, resolution: res, fragment: fragment, err: err}
			return nil
		})
	}
	_ = group.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			results[errorKey(out.op)] = session.NewResultError(out.err.Error())
			continue
		}

		val, err := sandbox.Run(out.fragment, frame)
		if err != nil {
			results[errorKey(out.op)] = session.NewResultError(err.Error())
			continue
		}
		if val == nil {
			observability.LoggerWithTrace(ctx).Warn().Str("operation", out.op.Name).Msg("executor_sandbox_null_result")
		}
		results[resultKey(out.op, out.resolution)] = val
	}
	return results
}

// resolution is the outcome of matching an Operation.Column against a
// dataset's merged columns.
type resolution struct {
	// Names is the resolved column name(s), in the order requested.
	Names []string
	// Composite is true when the operation's column is a relational
	// mapping (pivot/cross-tab shape), which resolves to a set of named
	// slots rather than a flat list.
	Composite bool
	// Relational carries the resolved relational slots (index, columns,
	// values, aggfunc) when Composite is true.
	Relational map[string]string
}

// resolveColumn implements spec.md §4.7's matching rule: exact (after trim)
// wins over containment, which wins over the composite "<col>_<sheet>" form
// used for multi-sheet references shaped "Sheet.col".
func resolveColumn(col session.ColumnRef, columns []string) resolution {
	switch col.Kind {
	case session.ColumnRelational:
		rel := make(map[string]string, len(col.Relational))
		for slot, name := range col.Relational {
			if slot == "aggfunc" {
				rel[slot] = name
				continue
			}
			rel[slot] = resolveOne(name, columns)
		}
		return resolution{Composite: true, Relational: rel}
	case session.ColumnMany:
		names := make([]string, len(col.Many))
		for i, n := range col.Many {
			names[i] = resolveOne(n, columns)
		}
		return resolution{Names: names}
	default:
		return resolution{Names: []string{resolveOne(col.Single, columns)}}
	}
}

func resolveOne(name string, columns []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}

	for _, c := range columns {
		if strings.TrimSpace(c) == name {
			return c
		}
	}

	for _, c := range columns {
		if strings.Contains(c, name) {
			return c
		}
	}

	if sheet, col, ok := strings.Cut(name, "."); ok {
		composite := sheet + "_" + col
		for _, c := range columns {
			if c == composite {
				return c
			}
		}
	}

	return name
}

func resultKey(op session.Operation, res resolution) string {
	if res.Composite || len(res.Names) != 1 {
		return op.Name + "_result"
	}
	return res.Names[0] + "_" + op.Name
}

func errorKey(op session.Operation) string {
	return op.Name + "_error"
}

// requestFragment asks the provider for a sandbox-dialect code fragment
// that computes op against the resolved columns. The prompt enumerates the
// Frame method whitelist and the resolved names/dtypes so the LLM's
// response is directly runnable.
func (ex *Executor) requestFragment(ctx context.Context, op session.Operation, res resolution, merged table.Table, settings config.Resolved) (string, error) {
	prompt := fragmentPrompt(op, res, merged)
	params := llm.Params{
		Model:            settings.ModelName,
		Temperature:      settings.Temperature,
		MaxTokens:        settings.MaxTokens,
		TopP:             settings.TopP,
		FrequencyPenalty: settings.FrequencyPenalty,
		APIKey:           settings.APIKey,
		BaseURL:          settings.BaseURL,
	}

	observability.LoggerWithTrace(ctx).Debug().Str("operation", op.Name).Msg("executor_request_fragment")
	text, err := ex.Provider.Complete(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	return text, nil
}

func fragmentPrompt(op session.Operation, res resolution, merged table.Table) string {
	var b strings.Builder
	b.WriteString("Write a single expression in the sandbox dialect (D.<Method>(args), the reducers ")
	b.WriteString("Sum/Mean/Max/Min/Count/Std/Var/Median/Quantile/Unique/GroupByAgg/PivotTable/CrossTab/Corr/")
	b.WriteString("Head/Tail/Shape/Empty/MissingCount/MissingPercentage) that computes the operation below ")
	b.WriteString("against D, the dataset handle. Respond with ONLY the expression, no prose, no markdown fence.\n\n")

	fmt.Fprintf(&b, "Operation: %s\n", op.Name)
	if op.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", op.Description)
	}
	if res.Composite {
		fmt.Fprintf(&b, "Relational columns: index=%q columns=%q values=%q aggfunc=%q\n",
			res.Relational["index"], res.Relational["columns"], res.Relational["values"], res.Relational["aggfunc"])
	} else {
		fmt.Fprintf(&b, "Columns: %s\n", strings.Join(res.Names, ", "))
	}
	fmt.Fprintf(&b, "Available columns: %s\n", strings.Join(merged.Columns, ", "))
	return b.String()
}
