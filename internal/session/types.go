// Package session defines the data model the orchestrator threads through a
// single request: messages, plans, operations, results, observations and the
// session state itself. Every transition produces a new SessionState value;
// nothing here is mutated in place.
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"analystengine/internal/config"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of chat history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ColumnKind tags the polymorphic Operation.Column field.
type ColumnKind string

const (
	ColumnSingle     ColumnKind = "single"
	ColumnMany       ColumnKind = "many"
	ColumnRelational ColumnKind = "relational"
)

// ColumnRef models the operation's column field as a tagged variant instead
// of a polymorphic text|sequence|mapping value: simple operations (sum, mean)
// carry a Single name, relational operations (pivot, cross-tab) carry a
// Relational mapping of {index, columns, values, aggfunc}.
type ColumnRef struct {
	Kind       ColumnKind        `json:"kind"`
	Single     string            `json:"single,omitempty"`
	Many       []string          `json:"many,omitempty"`
	Relational map[string]string `json:"relational,omitempty"`
}

// SingleColumn builds a ColumnRef for a plain one-column operation.
func SingleColumn(name string) ColumnRef {
	return ColumnRef{Kind: ColumnSingle, Single: name}
}

// ManyColumns builds a ColumnRef for operations over an explicit column list.
func ManyColumns(names ...string) ColumnRef {
	return ColumnRef{Kind: ColumnMany, Many: names}
}

// RelationalColumns builds a ColumnRef for pivot/cross-tab style operations.
func RelationalColumns(spec map[string]string) ColumnRef {
	return ColumnRef{Kind: ColumnRelational, Relational: spec}
}

// IsZero reports whether the ColumnRef carries no column reference at all.
func (c ColumnRef) IsZero() bool {
	return c.Kind == "" && c.Single == "" && len(c.Many) == 0 && len(c.Relational) == 0
}

// MarshalJSON renders a ColumnRef as the bare text|sequence|mapping value
// spec.md §3 describes on the wire, not the internal tagged-variant shape —
// so a plan round-tripped through the event tape encoder/decoder is
// byte-identical to one a client or the planner's LLM prompt would produce.
func (c ColumnRef) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ColumnMany:
		return json.Marshal(c.Many)
	case ColumnRelational:
		return json.Marshal(c.Relational)
	default:
		return json.Marshal(c.Single)
	}
}

// UnmarshalJSON accepts any of the three wire shapes (text, sequence,
// mapping) spec.md §3 permits for Operation.column and tags the result
// accordingly.
func (c *ColumnRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = SingleColumn(s)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*c = ManyColumns(many...)
		return nil
	}
	var rel map[string]string
	if err := json.Unmarshal(data, &rel); err == nil {
		*c = RelationalColumns(rel)
		return nil
	}
	*c = ColumnRef{}
	return nil
}

// Operation is one step of a Plan, over the fixed operation vocabulary.
type Operation struct {
	Name        string    `json:"name"`
	Column      ColumnRef `json:"column"`
	Description string    `json:"description"`
}

// Plan is immutable once created and, after construction, only ever appended
// to a SessionState's PlanHistory.
type Plan struct {
	TaskType       string      `json:"task_type"`
	Columns        []string    `json:"columns"`
	Operations     []Operation `json:"operations"`
	ExpectedOutput string      `json:"expected_output"`
	Rationale      string      `json:"rationale"`

	// Fallback marks a plan produced when JSON parsing of the planner's
	// response failed; TaskType is "basic" and Operations is empty.
	Fallback bool `json:"fallback,omitempty"`
}

// Results maps a stable, human-readable operation key to its value. Values
// are JSON-serializable only: scalar number, scalar text, nested mapping,
// sequence, or an error marker produced by NewResultError.
type Results map[string]any

// NewResultError produces the error-marker value used in place of a failed
// operation's result.
func NewResultError(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// IsError reports whether a Results value is an error marker.
func IsError(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	msg, ok := m["error"]
	if !ok {
		return "", false
	}
	s, _ := msg.(string)
	return s, true
}

// Observation is the Evaluator's verdict on a Results set.
type Observation struct {
	Results       Results  `json:"results"`
	QualityScore  float64  `json:"quality_score"`
	Success       bool     `json:"success"`
	Feedback      string   `json:"feedback"`
	NextActions   []string `json:"next_actions"`
	NeedsReplan   bool     `json:"needs_replanning"`
}

// Step enumerates the orchestrator's state machine positions.
type Step string

const (
	StepInit        Step = "init"
	StepPlanning    Step = "planning"
	StepProcessing  Step = "processing"
	StepObserving   Step = "observing"
	StepReplanning  Step = "replanning"
	StepReporting   Step = "reporting"
	StepDone        Step = "done"
	StepError       Step = "error"
)

// ErrorKind is the tagged result failures are modeled as, never a raw
// exception.
type ErrorKind string

const (
	KindInput     ErrorKind = "input_error"
	KindLLM       ErrorKind = "llm_error"
	KindParse     ErrorKind = "parse_error"
	KindSandbox   ErrorKind = "sandbox_error"
	KindCacheMiss ErrorKind = "cache_miss"
	KindCancelled ErrorKind = "cancelled"
	KindInternal  ErrorKind = "internal"
)

// LLMErrorSubKind distinguishes the three ways C1 can fail.
type LLMErrorSubKind string

const (
	LLMStatus    LLMErrorSubKind = "status"
	LLMTimeout   LLMErrorSubKind = "timeout"
	LLMMalformed LLMErrorSubKind = "malformed"
)

// SandboxErrorSubKind distinguishes the three ways C4 can reject or fail.
type SandboxErrorSubKind string

const (
	SandboxUnsafe  SandboxErrorSubKind = "unsafe"
	SandboxSyntax  SandboxErrorSubKind = "syntax"
	SandboxRuntime SandboxErrorSubKind = "runtime"
)

// ErrorInfo is the terminal, user-visible failure carried by SessionState.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	SubKind string    `json:"sub_kind,omitempty"`
	Message string    `json:"message"`
}

func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	if e.SubKind != "" {
		return string(e.Kind) + "/" + e.SubKind + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

// State is the per-request session state. Every transition function in this
// codebase takes a State and returns a new State; none mutate their
// receiver's fields in place.
type State struct {
	// RequestID is a per-request uuid, minted once in New and never
	// reassigned. It is not attached to log lines or OTel spans.
	RequestID       string
	Request         string
	DocumentFull    string
	DocumentPreview string
	History         []Message
	Settings        config.Resolved

	PlanHistory []Plan
	CurrentPlan *Plan
	Results     *Results
	Observation *Observation
	Report      *string

	Iteration    int
	MaxIterations int
	NeedsReplan  bool

	Step Step
	Err  *ErrorInfo

	StartedAt time.Time
}

// New builds the initial, StepInit session state for a fresh request.
func New(request, documentFull string, history []Message, settings config.Resolved) State {
	return State{
		RequestID:     uuid.NewString(),
		Request:       request,
		DocumentFull:  documentFull,
		History:       history,
		Settings:      settings,
		MaxIterations: settings.MaxIterations,
		Step:          StepInit,
		StartedAt:     time.Now(),
	}
}

// Clone returns a shallow copy suitable as the basis for the next
// transition; slice/map fields that a transition intends to change must be
// reassigned wholesale by the caller, never mutated through the original's
// backing array.
func (s State) Clone() State {
	out := s
	out.History = append([]Message(nil), s.History...)
	out.PlanHistory = append([]Plan(nil), s.PlanHistory...)
	return out
}
