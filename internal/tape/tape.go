// Package tape implements the event tape (spec.md §6): the ordered,
// JSON-shaped channel of step events the Orchestrator (C10) produces and an
// SSE writer consumes. It models spec.md §5's bounded single-producer/
// single-consumer queue as a buffered Go channel, and its cancellation
// contract as a close-only-from-the-consumer-side signal channel — the
// same producer/consumer split the teacher's
// internal/orchestrator/handler.go uses for its per-step publish callback,
// generalized into a typed channel instead of a callback so the consumer
// can range over it directly.
package tape

import (
	"context"
	"encoding/json"
)

// MinCapacity is the floor spec.md §5 sets for the event queue.
const MinCapacity = 16

// StepKind mirrors spec.md §6's numbered step events.
type StepKind int

const (
	StepPlan    StepKind = 1
	StepCompute StepKind = 2
	StepObserve StepKind = 3
	StepReport  StepKind = 4
)

// Event is the tagged union of everything the Orchestrator can put on the
// tape. Exactly one of the payload fields is meaningful, selected by Kind.
type Event struct {
	Kind StepKind

	// Step/Message/Result back the {"step":N,"message":...,"result":...}
	// shape for plan/compute/observe/report events.
	Message string
	Result  any

	// Reply backs the bypass-chat {"reply": "<chunk>"} shape.
	Reply string
	// IsReply distinguishes a zero-value Reply chunk from "no reply".
	IsReply bool

	// Err backs the fatal {"error": "<text>"} shape.
	Err string
	// IsErr distinguishes from a zero-value Err.
	IsErr bool
}

// PlanEvent, ComputeEvent, ObserveEvent and ReportEvent build the four
// numbered step events spec.md §6 defines.
func PlanEvent(message string, plan any) Event {
	return Event{Kind: StepPlan, Message: message, Result: plan}
}
func ComputeEvent(message string, results any) Event {
	return Event{Kind: StepCompute, Message: message, Result: results}
}
func ObserveEvent(message string, observation any) Event {
	return Event{Kind: StepObserve, Message: message, Result: observation}
}
func ReportEvent(message string, report string) Event {
	return Event{Kind: StepReport, Message: message, Result: report}
}

// ReplyEvent builds the bypass-chat single-turn chunk event.
func ReplyEvent(chunk string) Event { return Event{Reply: chunk, IsReply: true} }

// ErrorEvent builds the fatal single error event.
func ErrorEvent(msg string) Event { return Event{Err: msg, IsErr: true} }

// wireEnvelope is the JSON shape written to the SSE line for a numbered
// step event.
type wireEnvelope struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

type replyEnvelope struct {
	Reply string `json:"reply"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// MarshalJSON renders Event into exactly the JSON object spec.md §6
// documents for its kind.
func (e Event) MarshalJSON() ([]byte, error) {
	switch {
	case e.IsErr:
		return json.Marshal(errorEnvelope{Error: e.Err})
	case e.IsReply:
		return json.Marshal(replyEnvelope{Reply: e.Reply})
	default:
		return json.Marshal(wireEnvelope{Step: int(e.Kind), Message: e.Message, Result: e.Result})
	}
}

// Tape is the bounded SPSC channel of Events for a single request. The
// Orchestrator is the sole producer; exactly one consumer (the SSE writer,
// or a test) drains it. Closing from the consumer side (Cancel) is the
// contract's only permitted cancellation path (spec.md §5): the producer
// observes it on its next Send and must stop emitting.
type Tape struct {
	events chan Event
	cancel chan struct{}
}

// New builds a Tape with the given buffer capacity, raised to MinCapacity
// if smaller.
func New(capacity int) *Tape {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Tape{events: make(chan Event, capacity), cancel: make(chan struct{})}
}

// Send delivers an event to the consumer, blocking only until the buffer
// has room or the consumer cancels. ok is false iff the tape was cancelled
// first; the caller (the Orchestrator) must treat that as Cancelled (spec.md
// §7) and stop producing immediately.
func (t *Tape) Send(ctx context.Context, ev Event) (ok bool) {
	select {
	case <-t.cancel:
		return false
	default:
	}
	select {
	case t.events <- ev:
		return true
	case <-t.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close is called exactly once by the producer when the state machine
// reaches done or a fatal error event has been sent; it signals end of
// stream to the consumer's range loop.
func (t *Tape) Close() {
	close(t.events)
}

// Events returns the read side of the tape for the consumer to range over.
func (t *Tape) Events() <-chan Event { return t.events }

// Cancel is called by the consumer to abort the producer: any in-flight
// Send call unblocks and returns false, and no further events are
// delivered. Safe to call multiple times.
func (t *Tape) Cancel() {
	select {
	case <-t.cancel:
	default:
		close(t.cancel)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Tape) Cancelled() bool {
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}
