package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/viper"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/data/call"
	"voxline-server-golang/internal/domain/aec"
	"voxline-server-golang/internal/domain/eventbus"
	"voxline-server-golang/internal/domain/llm"
	"voxline-server-golang/internal/domain/prompts"
	"voxline-server-golang/internal/domain/store"
	"voxline-server-golang/internal/domain/stt"
	"voxline-server-golang/internal/domain/telephony"
	"voxline-server-golang/internal/domain/tts"
	"voxline-server-golang/internal/domain/vad"
	"voxline-server-golang/internal/domain/vad/inter"
	log "voxline-server-golang/logger"
)

// emptyTranscriptRetryDelay is the single grace wait before a turn with
// no recognized text is abandoned.
const emptyTranscriptRetryDelay = 200 * time.Millisecond

// maxUnansweredPrompts bounds how many "still there?" prompts go out
// before the call is ended for inactivity.
const maxUnansweredPrompts = 3

// Deps are the process-wide collaborators shared by all calls.
type Deps struct {
	Engine      *llm.Engine
	Library     *prompts.Library
	Store       store.CallStore
	Recognizer  stt.Recognizer
	TTSProvider tts.Provider
}

// CallSession owns everything for one phone call: the media stream, the
// conditioning pipeline, recognition plumbing, turn taking, and the
// dialogue orchestrator. Run blocks for the call's lifetime.
type CallSession struct {
	state *call.State
	deps  Deps
	media *telephony.MediaStream

	pipeline   *aec.Pipeline
	vadInst    inter.VAD
	transcript *stt.TranscriptBuffer
	asrFrames  chan []byte

	ttsManager     *TTSManager
	turnController *TurnController
	orchestrator   *Orchestrator

	// runTurn starts one dialogue turn; it is the orchestrator's RunTurn
	// outside of tests.
	runTurn func(ctx context.Context, text string)

	unansweredPrompts atomic.Int64

	closeOnce sync.Once
	onClose   func(callID string)
}

func NewCallSession(parent context.Context, media *telephony.MediaStream, callerID string, deps Deps, onClose func(callID string)) (*CallSession, error) {
	state := call.NewState(parent, callerID)
	state.SystemPrompt = viper.GetString("chat.system_prompt")

	vadInst, err := vad.AcquireVAD("energy", map[string]interface{}{
		"sensitivity": state.Config.VadSensitivity,
	})
	if err != nil {
		return nil, err
	}

	cond := aec.NewConditioner(state.InputAudioFormat, vadInst, state.Config.AecMaxDelay)
	pipeline, err := aec.NewPipeline(state.InputAudioFormat, cond, aec.Config{
		FrameTimeoutMultiple: state.Config.AecFrameTimeoutX,
		PullTimeoutMultiple:  state.Config.AecPullTimeoutX,
		Workers:              state.Config.AecWorkers,
	})
	if err != nil {
		vad.ReleaseVAD(vadInst)
		return nil, err
	}

	s := &CallSession{
		state:      state,
		deps:       deps,
		media:      media,
		pipeline:   pipeline,
		vadInst:    vadInst,
		transcript: stt.NewTranscriptBuffer(),
		asrFrames:  make(chan []byte, 100),
		onClose:    onClose,
	}
	s.ttsManager = NewTTSManager(state, media, deps.TTSProvider, pipeline)
	s.orchestrator = NewOrchestrator(state, deps.Engine, s.ttsManager, deps.Library, media, s.endCallByTool)
	s.runTurn = s.orchestrator.RunTurn
	s.turnController = NewTurnController(state, TurnCallbacks{
		OnTurnEnd:     s.handleTurnEnd,
		OnBargeIn:     s.handleBargeIn,
		OnLongSilence: s.handleLongSilence,
	})
	return s, nil
}

func (s *CallSession) CallID() string {
	return s.state.CallID
}

// Run answers the call, starts the per-call machinery, and consumes the
// media stream until hangup. It blocks until the call ends.
func (s *CallSession) Run() error {
	returning, err := s.deps.Store.StartCall(s.state.Ctx, store.CallRecord{
		CallID:   s.state.CallID,
		CallerID: s.state.CallerID,
		Started:  time.Now(),
	})
	if err != nil {
		log.Errorf("record call start: %v", err)
	}
	s.state.ReturningCaller = returning
	if returning {
		s.preloadHistory()
	}

	events, err := s.deps.Recognizer.StreamingRecognize(s.state.Ctx, s.asrFrames)
	if err != nil {
		s.Close("recognizer unavailable")
		return err
	}
	go s.consumeRecognition(events)

	s.pipeline.Start(s.state.Ctx)
	go s.ttsManager.Start(s.state.Ctx)
	go s.pullLoop()

	if err := s.media.Answer(s.state.Ctx); err != nil {
		s.Close("answer failed")
		return err
	}
	s.state.SetStatus(call.StatusListening)
	log.Infof("call %s from %s answered, returning caller: %t", s.state.CallID, s.state.CallerID, returning)

	go s.orchestrator.RunGreeting(s.state.TurnCtx.Get(s.state.Ctx))

	return s.readLoop()
}

// preloadHistory seeds the dialogue with the caller's recent messages so
// the welcome-back generation has context.
func (s *CallSession) preloadHistory() {
	stored, err := s.deps.Store.LoadMessages(s.state.Ctx, s.state.CallerID, llm.MaxMessageCount)
	if err != nil {
		log.Warnf("load caller history: %v", err)
		return
	}
	messages := make([]*schema.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, &schema.Message{
			Role:       schema.RoleType(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	s.state.Dialogue.Init(messages)
}

// readLoop drains the media socket. Audio goes into the conditioning
// pipeline; a frame-size mismatch is a transport contract violation and
// ends the call.
func (s *CallSession) readLoop() error {
	for {
		env, err := s.media.Recv()
		if err != nil {
			if telephony.IsHangUp(err) {
				s.Close("remote hangup")
				return nil
			}
			s.Close("media error")
			return err
		}
		if env.Audio != nil {
			if err := s.pipeline.PushFrame(env.Audio); err != nil {
				var sizeErr *audio.FrameSizeError
				if errors.As(err, &sizeErr) {
					log.Errorf("fatal frame size violation on call %s: %v", s.state.CallID, err)
					s.Close("bad frame size")
					return err
				}
				log.Warnf("push frame: %v", err)
			}
		}
	}
}

// pullLoop consumes conditioned frames in strict order, drives the turn
// state machine, and feeds speech audio to recognition.
func (s *CallSession) pullLoop() {
	for {
		frame, err := s.pipeline.Pull(s.state.Ctx)
		if err != nil {
			return
		}
		s.turnController.HandleFrame(frame)
		select {
		case s.asrFrames <- frame.Data:
		default:
			// Recognition lags; dropping is better than stalling the
			// audio path.
		}
	}
}

func (s *CallSession) consumeRecognition(events <-chan stt.Event) {
	for ev := range events {
		s.transcript.Push(ev)
	}
}

// handleTurnEnd runs on silence flush: pull the transcript, and only
// when the caller actually said something supersede the previous turn
// and start a new one. An empty flush leaves any in-flight turn alone;
// while the bot speaks the caller is silent, so flushes keep firing and
// must not cut off the active generation or playback.
func (s *CallSession) handleTurnEnd() {
	text := s.transcript.PullTranscript(s.state.Ctx, s.state.Config.TranscriptTimeout)
	if text == "" {
		// One grace retry: the final recognition event may be a breath
		// behind the silence timer.
		select {
		case <-s.state.Ctx.Done():
			return
		case <-time.After(emptyTranscriptRetryDelay):
		}
		text = s.transcript.PullTranscript(s.state.Ctx, emptyTranscriptRetryDelay)
	}
	if text == "" {
		log.Debugf("turn ended with no transcript, staying in listening state")
		return
	}

	s.state.TurnCtx.Cancel()
	turnCtx := s.state.TurnCtx.Get(s.state.Ctx)
	s.unansweredPrompts.Store(0)
	s.runTurn(turnCtx, text)
}

// handleBargeIn stops bot playback: drop queued audio, signal the client
// to flush, and cancel the superseded turn.
func (s *CallSession) handleBargeIn() {
	log.Debugf("barge-in on call %s", s.state.CallID)
	s.ttsManager.Interrupt()
	s.state.TurnCtx.Cancel()
}

// handleLongSilence re-engages a quiet caller, and gives up after too
// many unanswered prompts.
func (s *CallSession) handleLongSilence() {
	if s.state.Status() == call.StatusEnded {
		return
	}
	n := s.unansweredPrompts.Add(1)
	if n >= maxUnansweredPrompts {
		log.Infof("call %s idle after %d prompts, hanging up", s.state.CallID, n)
		s.media.HangUp(s.state.Ctx, "inactivity")
		s.Close("inactivity")
		return
	}
	if p, ok := s.deps.Library.Pick(prompts.KindStillThere); ok {
		s.ttsManager.SpeakPrompt(s.state.Ctx, p)
	}
}

// endCallByTool is the orchestrator's hook for hang_up/transfer_call.
func (s *CallSession) endCallByTool(reason string) {
	s.Close(reason)
}

// Close tears the call down exactly once.
func (s *CallSession) Close(reason string) {
	s.closeOnce.Do(func() {
		log.Infof("call %s ended: %s", s.state.CallID, reason)
		s.state.SetStatus(call.StatusEnded)
		s.turnController.Stop()
		s.state.TurnCtx.Cancel()
		s.state.Cancel()
		s.pipeline.Stop()
		vad.ReleaseVAD(s.vadInst)
		s.media.Close()

		eventbus.Get().Publish(eventbus.TopicCallEnd, &eventbus.CallEndEvent{
			CallID:   s.state.CallID,
			CallerID: s.state.CallerID,
			Ended:    time.Now(),
		})
		if s.onClose != nil {
			s.onClose(s.state.CallID)
		}
	})
}
