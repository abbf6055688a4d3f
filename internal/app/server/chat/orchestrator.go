package chat

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"

	"voxline-server-golang/internal/data/call"
	"voxline-server-golang/internal/domain/eventbus"
	"voxline-server-golang/internal/domain/llm"
	llm_common "voxline-server-golang/internal/domain/llm/common"
	"voxline-server-golang/internal/domain/prompts"
	"voxline-server-golang/internal/domain/telephony"
	"voxline-server-golang/internal/domain/tools"
	log "voxline-server-golang/logger"
)

// turnOutcome is the result of one generation pass inside a turn.
type turnOutcome int

const (
	outcomeDone     turnOutcome = iota // turn finished, nothing more to do
	outcomeContinue                    // tools ran or output was truncated; generate again
	outcomeRetry                       // retryable failure; generate again if depth remains
	outcomeFatal                       // stop the turn, no retry
)

// Orchestrator supervises dialogue turns for one call: it races the
// completion stream against the loading ticker and the soft/hard answer
// timeouts, executes tool calls, bounds the generate-again loop, and
// commits messages to history in two phases.
type Orchestrator struct {
	state      *call.State
	engine     *llm.Engine
	ttsManager *TTSManager
	library    *prompts.Library
	media      *telephony.MediaStream

	// onCallEnd is invoked once when a tool or signaling failure ends
	// the call.
	onCallEnd func(reason string)

	lastMessageID   map[string]string
	lastMessageIDMu sync.RWMutex
}

func NewOrchestrator(state *call.State, engine *llm.Engine, ttsManager *TTSManager, library *prompts.Library, media *telephony.MediaStream, onCallEnd func(reason string)) *Orchestrator {
	return &Orchestrator{
		state:         state,
		engine:        engine,
		ttsManager:    ttsManager,
		library:       library,
		media:         media,
		onCallEnd:     onCallEnd,
		lastMessageID: make(map[string]string),
	}
}

// RunGreeting speaks the call opener. New callers get a canned greeting
// and no generation; returning callers get a canned "welcome back" while
// a first generation over their preloaded history runs concurrently, with
// hang_up withheld so the model cannot open by ending the call.
func (o *Orchestrator) RunGreeting(ctx context.Context) {
	o.state.NextTurn()

	kind := prompts.KindGreeting
	if o.state.ReturningCaller {
		kind = prompts.KindWelcomeBack
	}
	o.ttsManager.ResetSpoken()
	o.ttsManager.ClearAudioHistory()
	o.sendTtsMarker(telephony.ControlTtsStart)

	p, ok := o.library.Pick(kind)
	if ok {
		if err := o.ttsManager.SpeakPrompt(ctx, p); err == nil && p.Text != "" {
			msg := schema.AssistantMessage(p.Text, nil)
			o.state.Dialogue.Add(msg)
			o.publishMessage(*msg)
		}
	}

	if o.state.ReturningCaller {
		o.runTurnLoop(ctx, false)
		return
	}

	o.finishTurn(ctx)
}

// RunTurn runs one full dialogue turn for the caller's utterance.
func (o *Orchestrator) RunTurn(ctx context.Context, userText string) {
	o.state.NextTurn()
	o.ttsManager.ResetSpoken()
	o.ttsManager.ClearAudioHistory()
	o.sendTtsMarker(telephony.ControlTtsStart)

	if userText != "" {
		msg := &schema.Message{Role: schema.User, Content: userText}
		o.state.Dialogue.Add(msg)
		o.publishMessage(*msg)
	}

	o.runTurnLoop(ctx, true)
}

// runTurnLoop is the bounded generate-execute loop plus its watchdogs.
// Depth counts generation passes; tool continuations and retries both
// consume it.
func (o *Orchestrator) runTurnLoop(ctx context.Context, includeHangUp bool) {
	cfg := o.state.Config
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var hardFired atomic.Bool
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)

	// Loading ticker: replay the thinking sound while nothing has been
	// spoken yet.
	go func() {
		ticker := time.NewTicker(cfg.LoadingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-genCtx.Done():
				return
			case <-ticker.C:
				if o.ttsManager.Spoken() {
					return
				}
				if p, ok := o.library.Pick(prompts.KindThinking); ok {
					o.ttsManager.SpeakPrompt(genCtx, p)
				}
			}
		}
	}()

	// Soft timeout: one-off reassurance, never persisted.
	softTimer := time.AfterFunc(cfg.SoftAnswerTimeout, func() {
		select {
		case <-genCtx.Done():
			return
		default:
		}
		log.Infof("soft answer timeout after %v, call: %s", cfg.SoftAnswerTimeout, o.state.CallID)
		if p, ok := o.library.Pick(prompts.KindStillWorking); ok {
			o.ttsManager.SpeakPrompt(genCtx, p)
		}
	})
	defer softTimer.Stop()

	// Hard timeout: abort the whole turn.
	hardTimer := time.AfterFunc(cfg.HardAnswerTimeout, func() {
		log.Warnf("hard answer timeout after %v, call: %s", cfg.HardAnswerTimeout, o.state.CallID)
		hardFired.Store(true)
		cancel()
	})
	defer hardTimer.Stop()

	failed := false
	for depth := cfg.MaxTurnDepth; depth > 0; depth-- {
		outcome := o.runGeneration(genCtx, includeHangUp)
		includeHangUp = true

		if outcome == outcomeDone {
			failed = false
			break
		}
		if outcome == outcomeFatal {
			failed = false
			break
		}
		// Continue and Retry both need another pass; exhausting depth
		// on Retry is a turn failure.
		failed = outcome == outcomeRetry
	}

	if hardFired.Load() || failed {
		if ctx.Err() == nil && o.state.Status() != call.StatusEnded {
			if p, ok := o.library.Pick(prompts.KindApology); ok {
				o.ttsManager.SpeakPrompt(o.state.Ctx, p)
			}
		}
	}

	o.finishTurn(ctx)
}

// runGeneration runs one completion pass: stream sentences to synthesis,
// accumulate tool calls, execute them, classify the result.
func (o *Orchestrator) runGeneration(ctx context.Context, includeHangUp bool) turnOutcome {
	select {
	case <-ctx.Done():
		return outcomeFatal
	default:
	}

	o.state.SetStatus(call.StatusLLMStart)
	request := llm.BuildPromptMessages(o.state.SystemPrompt, o.state.Dialogue.All(), o.engine.TokenBudget())
	responseChan, err := o.engine.HandleLLMWithContextAndTools(ctx, request, tools.ToolInfos(includeHangUp), o.state.CallID)
	if err != nil {
		log.Errorf("start completion stream: %v", err)
		return outcomeRetry
	}

	var fullText strings.Builder
	var toolCalls []schema.ToolCall
	truncated := false

	for {
		var item llm_common.LLMResponseStruct
		var ok bool
		select {
		case <-ctx.Done():
			return outcomeFatal
		case item, ok = <-responseChan:
		}
		if !ok {
			break
		}

		if item.Err != nil {
			return o.classifyError(item.Err)
		}
		if item.Text != "" {
			if fullText.Len() > 0 {
				fullText.WriteByte(' ')
			}
			fullText.WriteString(item.Text)
			o.ttsManager.Speak(ctx, item.Text)
		}
		if item.IsEnd {
			toolCalls = item.ToolCalls
			truncated = item.Truncated
		}
	}

	if fullText.Len() > 0 || len(toolCalls) > 0 {
		msg := schema.AssistantMessage(fullText.String(), toolCalls)
		o.state.Dialogue.Add(msg)
		o.publishMessage(*msg)
	}

	if len(toolCalls) > 0 {
		return o.executeToolCalls(ctx, toolCalls)
	}
	if truncated {
		return outcomeContinue
	}
	return outcomeDone
}

// classifyError maps an engine failure to a turn outcome. Safety
// refusals also remove the offending caller message from history.
func (o *Orchestrator) classifyError(err error) turnOutcome {
	if llm_common.IsSafety(err) {
		log.Warnf("content refused, dropping last caller message: %v", err)
		o.state.Dialogue.DropLastUser()
		if p, ok := o.library.Pick(prompts.KindApology); ok {
			o.ttsManager.SpeakPrompt(o.state.Ctx, p)
		}
		return outcomeFatal
	}
	if telephony.IsHangUp(err) {
		return outcomeFatal
	}
	log.Warnf("completion failed: %v", err)
	return outcomeRetry
}

// executeToolCalls runs the accumulated calls in order. Unknown names are
// fed back as tool results so the model can correct itself.
func (o *Orchestrator) executeToolCalls(ctx context.Context, toolCalls []schema.ToolCall) turnOutcome {
	endCall := false
	endReason := ""

	for _, tc := range toolCalls {
		result, err := tools.Execute(ctx, o.media, tc)
		content := result.Content
		if err != nil {
			var unknown *tools.UnknownToolError
			if errors.As(err, &unknown) {
				content = unknown.Error()
			} else if telephony.IsHangUp(err) {
				return outcomeFatal
			} else {
				content = fmt.Sprintf("tool execution failed: %v", err)
			}
		}
		toolMsg := &schema.Message{
			Role:       schema.Tool,
			ToolCallID: tc.ID,
			Content:    content,
		}
		o.state.Dialogue.Add(toolMsg)
		o.publishMessage(*toolMsg)

		if result.EndCall {
			endCall = true
			endReason = tc.Function.Name
		}
	}

	if endCall {
		o.finishTurn(ctx)
		if o.onCallEnd != nil {
			o.onCallEnd(endReason)
		}
		return outcomeDone
	}
	return outcomeContinue
}

// finishTurn waits for playback to drain, signals the client, and runs
// the second persistence phase attaching the turn's audio to the last
// assistant message. A superseded turn produces nothing here: the stop
// marker and the audio history now belong to the turn that replaced it.
func (o *Orchestrator) finishTurn(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, o.state.Config.TTSDrainTimeout)
	defer cancel()
	o.ttsManager.WaitIdle(waitCtx)
	if ctx.Err() != nil {
		return
	}

	o.sendTtsMarker(telephony.ControlTtsStop)
	o.state.SetStatus(call.StatusListening)
	o.state.TouchInteraction()

	messageID, ok := o.getLastMessageID(string(schema.Assistant))
	if !ok {
		return
	}
	audioData := o.ttsManager.GetAndClearAudioHistory()
	if len(audioData) == 0 {
		return
	}
	audioSize := 0
	for _, frame := range audioData {
		audioSize += len(frame)
	}
	eventbus.Get().Publish(eventbus.TopicAddMessage, &eventbus.AddMessageEvent{
		CallID:     o.state.CallID,
		CallerID:   o.state.CallerID,
		MessageID:  messageID,
		AudioData:  audioData,
		AudioSize:  audioSize,
		SampleRate: o.state.OutputAudioFormat.SampleRate,
		Channels:   o.state.OutputAudioFormat.Channels,
		Timestamp:  time.Now(),
		IsUpdate:   true,
	})
}

// publishMessage runs persistence phase one: text only. The message id
// is remembered per role so the audio update can find it.
func (o *Orchestrator) publishMessage(msg schema.Message) {
	raw := fmt.Sprintf("%s-%s-%d", o.state.CallID, msg.Role, time.Now().UnixNano())
	hash := md5.Sum([]byte(raw))
	messageID := hex.EncodeToString(hash[:])

	if msg.Role == schema.User || msg.Role == schema.Assistant {
		o.lastMessageIDMu.Lock()
		o.lastMessageID[string(msg.Role)] = messageID
		o.lastMessageIDMu.Unlock()
	}

	eventbus.Get().Publish(eventbus.TopicAddMessage, &eventbus.AddMessageEvent{
		CallID:    o.state.CallID,
		CallerID:  o.state.CallerID,
		Msg:       msg,
		MessageID: messageID,
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) getLastMessageID(role string) (string, bool) {
	o.lastMessageIDMu.RLock()
	defer o.lastMessageIDMu.RUnlock()
	id, ok := o.lastMessageID[role]
	return id, ok
}

func (o *Orchestrator) sendTtsMarker(kind string) {
	if err := o.media.SendControl(telephony.ControlMessage{Type: kind}); err != nil && !telephony.IsHangUp(err) {
		log.Warnf("send %s marker: %v", kind, err)
	}
}
