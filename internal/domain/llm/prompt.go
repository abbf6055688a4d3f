package llm

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// MaxMessageCount bounds how many dialogue messages one request may
	// carry, independent of the token budget.
	MaxMessageCount = 10

	// bytesPerToken is the rough English-text ratio used to estimate
	// token cost without a tokenizer round trip.
	bytesPerToken = 4
)

// estimateTokens approximates the token cost of a message from its byte
// length plus a small fixed overhead for role framing.
func estimateTokens(msg *schema.Message) int {
	n := len(msg.Content)/bytesPerToken + 4
	for _, tc := range msg.ToolCalls {
		n += (len(tc.Function.Name) + len(tc.Function.Arguments)) / bytesPerToken
	}
	return n
}

// BuildPromptMessages assembles the request window: the system prompt
// first, then the most recent history that fits both the message-count
// and token budgets, in chronological order. The system prompt is always
// included regardless of budget.
func BuildPromptMessages(systemPrompt string, history []*schema.Message, tokenBudget int) []*schema.Message {
	system := &schema.Message{
		Role:    schema.System,
		Content: systemPrompt,
	}
	budget := tokenBudget - estimateTokens(system)

	if len(history) > MaxMessageCount {
		history = history[len(history)-MaxMessageCount:]
	}

	// Walk newest to oldest so the freshest context survives a tight
	// budget, then reassemble in order.
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i])
		if budget-cost < 0 {
			break
		}
		budget -= cost
		kept++
	}

	out := make([]*schema.Message, 0, kept+1)
	out = append(out, system)
	out = append(out, history[len(history)-kept:]...)
	return out
}
