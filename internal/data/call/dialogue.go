package call

import (
	"sync"

	"github.com/cloudwego/eino/schema"

	log "voxline-server-golang/logger"
)

// Dialogue holds the in-memory turn history for one call.
type Dialogue struct {
	mu       sync.RWMutex
	messages []*schema.Message
}

func NewDialogue() *Dialogue {
	return &Dialogue{}
}

func (d *Dialogue) Add(msg *schema.Message) {
	if msg == nil {
		log.Warnf("attempted to add nil message to dialogue")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

// Last returns up to count most recent messages, tool-aligned.
func (d *Dialogue) Last(count int) []*schema.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.messages) == 0 {
		return []*schema.Message{}
	}
	start := len(d.messages) - count
	if start < 0 {
		start = 0
	}
	return AlignToolMessages(d.messages[start:])
}

// All returns the full tool-aligned history.
func (d *Dialogue) All() []*schema.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return AlignToolMessages(d.messages)
}

func (d *Dialogue) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.messages)
}

func (d *Dialogue) Init(messages []*schema.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = AlignToolMessages(messages)
}

// DropLastUser removes the most recent user message. Used when a
// generation ends with a content-safety violation and the offending
// utterance must not stay in history.
func (d *Dialogue) DropLastUser() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.messages) - 1; i >= 0; i-- {
		if d.messages[i] != nil && d.messages[i].Role == schema.User {
			d.messages = append(d.messages[:i], d.messages[i+1:]...)
			return
		}
	}
}

// AlignToolMessages keeps tool messages only when their tool_call_id matches
// a tool call on some assistant message, and assistant tool-call messages
// only when their calls have results. Model backends reject unpaired halves.
func AlignToolMessages(messages []*schema.Message) []*schema.Message {
	if len(messages) == 0 {
		return messages
	}

	validToolCallIDs := make(map[string]bool)
	usedToolCallIDs := make(map[string]bool)

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.Role == schema.Assistant && len(msg.ToolCalls) > 0 {
			for _, toolCall := range msg.ToolCalls {
				if toolCall.ID != "" {
					validToolCallIDs[toolCall.ID] = true
				}
			}
		}
		if msg.Role == schema.Tool && msg.ToolCallID != "" {
			usedToolCallIDs[msg.ToolCallID] = true
		}
	}

	var aligned []*schema.Message
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch {
		case msg.Role == schema.Tool:
			if msg.ToolCallID != "" && validToolCallIDs[msg.ToolCallID] {
				aligned = append(aligned, msg)
			}
		case msg.Role == schema.Assistant && len(msg.ToolCalls) > 0:
			matched := false
			for _, toolCall := range msg.ToolCalls {
				if toolCall.ID != "" && usedToolCallIDs[toolCall.ID] {
					matched = true
					break
				}
			}
			if matched {
				aligned = append(aligned, msg)
			}
		default:
			aligned = append(aligned, msg)
		}
	}
	return aligned
}
