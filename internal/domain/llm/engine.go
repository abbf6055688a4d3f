package llm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/viper"

	"voxline-server-golang/constants"
	llm_common "voxline-server-golang/internal/domain/llm/common"
	log "voxline-server-golang/logger"
)

const (
	// Finish reasons as reported by openai-compatible backends.
	finishReasonStop          = "stop"
	finishReasonLength        = "length"
	finishReasonContentFilter = "content_filter"
	finishReasonToolCalls     = "tool_calls"

	// badParallelToolName is the malformed wrapper call some backends
	// emit instead of separate tool calls. The batch is unusable but a
	// retry usually comes back clean.
	badParallelToolName = "multi_tool_use.parallel"
)

// Engine runs chat completions against a fast primary backend with
// failover to a slower, more reliable one. Every attempt gets jittered
// exponential backoff; content refusals are never retried.
type Engine struct {
	fast    model.ToolCallingChatModel
	slow    model.ToolCallingChatModel
	fastCfg Config
	slowCfg Config

	fastAttempts   uint64
	slowAttempts   uint64
	initialBackoff time.Duration
}

// NewEngineFromConfig builds the engine from the llm.* viper tree. The
// slow backend is optional; without one, failover collapses to extra
// attempts on the primary.
func NewEngineFromConfig(ctx context.Context) (*Engine, error) {
	fastCfg := ConfigFromMap(viper.GetStringMap("llm.fast"))
	fast, err := GetLLMProvider(ctx, fastCfg)
	if err != nil {
		return nil, fmt.Errorf("init fast llm backend: %w", err)
	}

	e := &Engine{
		fast:           fast,
		fastCfg:        fastCfg,
		fastAttempts:   viper.GetUint64("llm.fast_attempts"),
		slowAttempts:   viper.GetUint64("llm.slow_attempts"),
		initialBackoff: viper.GetDuration("llm.backoff_initial"),
	}
	if e.fastAttempts == 0 {
		e.fastAttempts = 2
	}
	if e.slowAttempts == 0 {
		e.slowAttempts = 3
	}
	if e.initialBackoff <= 0 {
		e.initialBackoff = 200 * time.Millisecond
	}

	if slowMap := viper.GetStringMap("llm.slow"); len(slowMap) > 0 {
		slowCfg := ConfigFromMap(slowMap)
		slow, err := GetLLMProvider(ctx, slowCfg)
		if err != nil {
			return nil, fmt.Errorf("init slow llm backend: %w", err)
		}
		e.slow = slow
		e.slowCfg = slowCfg
	}
	return e, nil
}

// NewEngine wires explicit backends; used by tests and by callers that
// manage provider construction themselves.
func NewEngine(fast, slow model.ToolCallingChatModel, fastCfg, slowCfg Config) *Engine {
	return &Engine{
		fast:           fast,
		slow:           slow,
		fastCfg:        fastCfg,
		slowCfg:        slowCfg,
		fastAttempts:   2,
		slowAttempts:   3,
		initialBackoff: 200 * time.Millisecond,
	}
}

func (e *Engine) TokenBudget() int {
	return e.fastCfg.TokenBudget
}

func (e *Engine) newBackoff(ctx context.Context, attempts uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, attempts-1), ctx)
}

// HandleLLMWithContextAndTools streams one completion. Sentences are
// emitted on the returned channel as they complete; the final item has
// IsEnd set and carries any accumulated tool calls. The channel is
// closed when the response ends or ctx is cancelled.
//
// Failover is attempt-scoped: once a sentence has reached the consumer
// the attempt is committed and later stream errors end the response
// instead of retrying, so the caller never hears the same sentence twice.
func (e *Engine) HandleLLMWithContextAndTools(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo, sessionID string) (chan llm_common.LLMResponseStruct, error) {
	responseChan := make(chan llm_common.LLMResponseStruct, 10)

	go func() {
		defer close(responseChan)

		run := func(backend model.ToolCallingChatModel, name string, attempts uint64) (bool, error) {
			committed := false
			op := func() error {
				emitted, err := e.streamOnce(ctx, backend, messages, tools, responseChan)
				if emitted {
					committed = true
				}
				if err == nil {
					return nil
				}
				log.Warnf("llm stream attempt failed, session: %s, backend: %s, emitted: %t, err: %v", sessionID, name, emitted, err)
				if emitted || !llm_common.IsRetryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			err := backoff.Retry(op, e.newBackoff(ctx, attempts))
			return committed, err
		}

		committed, err := run(e.fast, constants.BackendFast, e.fastAttempts)
		if err != nil && !committed && llm_common.IsRetryable(err) && e.slow != nil && ctx.Err() == nil {
			log.Warnf("llm fast backend exhausted, failing over to slow, session: %s", sessionID)
			committed, err = run(e.slow, constants.BackendSlow, e.slowAttempts)
		}
		if err != nil && !committed {
			log.Errorf("llm response failed after all attempts, session: %s, err: %v", sessionID, err)
			select {
			case responseChan <- llm_common.LLMResponseStruct{IsStart: true, IsEnd: true, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return responseChan, nil
}

// streamOnce runs a single streaming attempt. It reports whether anything
// was emitted to the consumer so the caller can decide about retrying.
func (e *Engine) streamOnce(ctx context.Context, backend model.ToolCallingChatModel, messages []*schema.Message, tools []*schema.ToolInfo, out chan<- llm_common.LLMResponseStruct) (emitted bool, err error) {
	m := backend
	if len(tools) > 0 {
		m, err = backend.WithTools(tools)
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("bind tools: %w", err))
		}
	}

	reader, err := m.Stream(ctx, messages)
	if err != nil {
		return false, err
	}
	defer reader.Close()

	splitter := NewSentenceSplitter()
	acc := NewToolCallAccumulator()
	finishReason := ""
	sawText := false

	emit := func(item llm_common.LLMResponseStruct) bool {
		if !emitted {
			item.IsStart = true
		}
		select {
		case out <- item:
			emitted = true
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		msg, recvErr := reader.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			return emitted, recvErr
		}
		if msg == nil {
			continue
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
		for _, tc := range msg.ToolCalls {
			acc.Push(tc)
		}
		if msg.Content != "" {
			sawText = true
			for _, sentence := range splitter.Push(msg.Content) {
				if !emit(llm_common.LLMResponseStruct{Text: sentence}) {
					return emitted, ctx.Err()
				}
			}
		}
	}

	if finishReason == finishReasonContentFilter {
		return emitted, &llm_common.SafetyError{Reason: finishReason}
	}

	toolCalls := acc.Calls()
	for _, tc := range toolCalls {
		if tc.Function.Name == badParallelToolName {
			return emitted, llm_common.ErrBadToolBatch
		}
	}

	rest := splitter.Flush()
	if !sawText && len(toolCalls) == 0 {
		if finishReason == finishReasonLength {
			return emitted, llm_common.ErrMaxTokens
		}
		return emitted, llm_common.ErrEmptyCompletion
	}
	truncated := finishReason == finishReasonLength
	if truncated {
		log.Warnf("llm response truncated at max tokens, keeping partial text")
	}

	if !emit(llm_common.LLMResponseStruct{Text: rest, IsEnd: true, ToolCalls: toolCalls, Truncated: truncated}) {
		return emitted, ctx.Err()
	}
	return emitted, nil
}

// Generate runs a single non-streaming completion with the same failover
// policy as the streaming path.
func (e *Engine) Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	var result *schema.Message
	op := func(backend model.ToolCallingChatModel) func() error {
		return func() error {
			msg, err := backend.Generate(ctx, messages)
			if err != nil {
				return err
			}
			if msg == nil || (msg.Content == "" && len(msg.ToolCalls) == 0) {
				return llm_common.ErrEmptyCompletion
			}
			if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason == finishReasonContentFilter {
				return backoff.Permanent(&llm_common.SafetyError{Reason: finishReasonContentFilter})
			}
			result = msg
			return nil
		}
	}

	err := backoff.Retry(op(e.fast), e.newBackoff(ctx, e.fastAttempts))
	if err != nil && llm_common.IsRetryable(err) && e.slow != nil && ctx.Err() == nil {
		err = backoff.Retry(op(e.slow), e.newBackoff(ctx, e.slowAttempts))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateObject produces a JSON value matching out's type. Responses go
// through lenient extraction before decoding; a validation failure feeds
// the error detail back to the model on the next attempt.
func (e *Engine) GenerateObject(ctx context.Context, messages []*schema.Message, out interface{}, validate func() error, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}

	request := make([]*schema.Message, len(messages))
	copy(request, messages)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		msg, err := e.Generate(ctx, request)
		if err != nil {
			if !llm_common.IsRetryable(err) {
				return err
			}
			continue
		}

		payload := ExtractJSON(msg.Content)
		if decodeErr := sonic.UnmarshalString(payload, out); decodeErr != nil {
			log.Warnf("structured response failed to decode, attempt %d: %v", attempt+1, decodeErr)
			request = append(request, schema.AssistantMessage(msg.Content, nil), &schema.Message{
				Role:    schema.User,
				Content: fmt.Sprintf("The previous reply was not valid JSON (%v). Reply with only the JSON object.", decodeErr),
			})
			continue
		}
		if validate != nil {
			if valErr := validate(); valErr != nil {
				log.Warnf("structured response failed validation, attempt %d: %v", attempt+1, valErr)
				request = append(request, schema.AssistantMessage(msg.Content, nil), &schema.Message{
					Role:    schema.User,
					Content: fmt.Sprintf("The previous reply was invalid: %v. Reply with only the corrected JSON object.", valErr),
				})
				continue
			}
		}
		return nil
	}
	return llm_common.ErrNoResult
}

// ExtractJSON strips markdown fences and surrounding prose from a model
// reply, keeping the outermost JSON object or array.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}
