package llm

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorMergesDeltasByID(t *testing.T) {
	a := NewToolCallAccumulator()
	a.Push(schema.ToolCall{ID: "call_a", Function: schema.FunctionCall{Name: "send_sms"}})
	a.Push(schema.ToolCall{Function: schema.FunctionCall{Arguments: `{"to":`}})
	a.Push(schema.ToolCall{ID: "call_a", Function: schema.FunctionCall{Arguments: `"+15551234567"}`}})

	calls := a.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.Equal(t, "send_sms", calls[0].Function.Name)
	assert.Equal(t, `{"to":"+15551234567"}`, calls[0].Function.Arguments)
}

func TestAccumulatorInterleavedCallsKeepOrder(t *testing.T) {
	a := NewToolCallAccumulator()
	a.Push(schema.ToolCall{ID: "call_1", Function: schema.FunctionCall{Name: "hang_up"}})
	a.Push(schema.ToolCall{ID: "call_2", Function: schema.FunctionCall{Name: "transfer_call"}})
	a.Push(schema.ToolCall{ID: "call_1", Function: schema.FunctionCall{Arguments: `{}`}})
	a.Push(schema.ToolCall{ID: "call_2", Function: schema.FunctionCall{Arguments: `{"destination":"100"}`}})

	calls := a.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "hang_up", calls[0].Function.Name)
	assert.Equal(t, "transfer_call", calls[1].Function.Name)
	assert.Equal(t, `{"destination":"100"}`, calls[1].Function.Arguments)
}

func TestAccumulatorDropsOrphanDelta(t *testing.T) {
	a := NewToolCallAccumulator()
	// An ID-less delta before any identified call has no home.
	a.Push(schema.ToolCall{Function: schema.FunctionCall{Arguments: `{"x":1}`}})
	assert.Equal(t, 0, a.Len())
}
