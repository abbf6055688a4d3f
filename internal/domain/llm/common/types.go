package common

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// LLMResponseStruct is one unit of streamed model output: a complete
// sentence ready for synthesis, accumulated tool calls, or both. IsStart
// marks the first item of a response, IsEnd the last.
type LLMResponseStruct struct {
	IsStart   bool
	IsEnd     bool
	Text      string
	ToolCalls []schema.ToolCall
	// Truncated marks a response that stopped at the token limit with
	// partial text already spoken; the turn loop may continue it.
	Truncated bool
	// Err is set on the final item when the response failed after all
	// backend attempts; the consumer classifies it for turn retry.
	Err error
}

// Retryable errors cover transient backend failures where another attempt
// (or the slow backend) may succeed. Anything else aborts the turn.
var (
	// ErrEmptyCompletion is returned when a response finishes with no
	// text and no tool calls. Treated as a backend hiccup.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrMaxTokens is returned when generation stops on the token limit
	// before the response is usable.
	ErrMaxTokens = errors.New("llm: completion truncated at max tokens")

	// ErrBadToolBatch is returned when the model emits the malformed
	// parallel-tool wrapper some backends produce under load. A retry
	// usually yields well-formed calls.
	ErrBadToolBatch = errors.New("llm: malformed parallel tool call batch")

	// ErrNoResult is returned by structured generation after every
	// attempt produced undecodable output.
	ErrNoResult = errors.New("llm: no usable result")
)

// SafetyError means the backend refused the content. Never retried; the
// caller removes the offending user message from history.
type SafetyError struct {
	Reason string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("llm: content refused by backend: %s", e.Reason)
}

// SchemaError carries validation feedback for structured generation so
// the retry prompt can tell the model what was wrong.
type SchemaError struct {
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("llm: response failed schema validation: %s", e.Detail)
}

// IsRetryable reports whether err is worth another attempt on the same or
// the fallback backend.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var safetyErr *SafetyError
	if errors.As(err, &safetyErr) {
		return false
	}
	return true
}

// IsSafety reports whether err is a content refusal.
func IsSafety(err error) bool {
	var safetyErr *SafetyError
	return errors.As(err, &safetyErr)
}
