package tape

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanEvent_WireShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, PlanEvent("initial plan", map[string]any{"task_type": "basic"})))

	assert.Equal(t, "data: {\"step\":1,\"message\":\"initial plan\",\"result\":{\"task_type\":\"basic\"}}\n\n", buf.String())
}

func TestReplyEvent_WireShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, ReplyEvent("hello")))

	var decoded map[string]string
	line := buf.String()
	require.True(t, bytes.HasPrefix([]byte(line), []byte("data: ")))
	require.NoError(t, json.Unmarshal([]byte(line[len("data: "):len(line)-2]), &decoded))
	assert.Equal(t, "hello", decoded["reply"])
}

func TestErrorEvent_WireShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, ErrorEvent("boom")))
	assert.Equal(t, "data: {\"error\":\"boom\"}\n\n", buf.String())
}

func TestTape_CapacityFloorsAtMinCapacity(t *testing.T) {
	tp := New(1)
	assert.Equal(t, MinCapacity, cap(tp.events))
}

func TestTape_EventsArriveInSendOrder(t *testing.T) {
	tp := New(MinCapacity)
	ctx := context.Background()

	require.True(t, tp.Send(ctx, PlanEvent("p1", nil)))
	require.True(t, tp.Send(ctx, ComputeEvent("c1", nil)))
	require.True(t, tp.Send(ctx, ObserveEvent("o1", nil)))
	tp.Close()

	var kinds []StepKind
	for ev := range tp.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []StepKind{StepPlan, StepCompute, StepObserve}, kinds)
}

func TestTape_CancelUnblocksSendAndStopsDelivery(t *testing.T) {
	tp := New(MinCapacity)
	ctx := context.Background()
	tp.Cancel()

	ok := tp.Send(ctx, PlanEvent("should not be delivered", nil))
	assert.False(t, ok)
	assert.True(t, tp.Cancelled())
}

func TestTape_CancelIsIdempotent(t *testing.T) {
	tp := New(MinCapacity)
	tp.Cancel()
	assert.NotPanics(t, func() { tp.Cancel() })
}
