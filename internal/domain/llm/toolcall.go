package llm

import "github.com/cloudwego/eino/schema"

// ToolCallAccumulator merges streamed tool-call deltas into complete
// calls. Streams interleave deltas for multiple calls keyed by ID; chunks
// that continue an argument string arrive without an ID and belong to the
// call most recently seen.
type ToolCallAccumulator struct {
	order  []string
	calls  map[string]*schema.ToolCall
	lastID string
}

func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{
		calls: make(map[string]*schema.ToolCall),
	}
}

// Push folds one delta into the accumulated state.
func (a *ToolCallAccumulator) Push(delta schema.ToolCall) {
	id := delta.ID
	if id == "" {
		id = a.lastID
		if id == "" {
			// Delta before any identified call; nothing to attach to.
			return
		}
	} else {
		a.lastID = id
	}

	call, ok := a.calls[id]
	if !ok {
		call = &schema.ToolCall{ID: id, Index: delta.Index}
		a.calls[id] = call
		a.order = append(a.order, id)
	}
	if delta.Type != "" {
		call.Type = delta.Type
	}
	if delta.Function.Name != "" {
		call.Function.Name = delta.Function.Name
	}
	call.Function.Arguments += delta.Function.Arguments
}

// Calls returns the accumulated tool calls in first-seen order.
func (a *ToolCallAccumulator) Calls() []schema.ToolCall {
	out := make([]schema.ToolCall, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.calls[id])
	}
	return out
}

func (a *ToolCallAccumulator) Len() int {
	return len(a.order)
}
