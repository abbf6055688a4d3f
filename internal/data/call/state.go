package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"voxline-server-golang/internal/data/audio"
)

const (
	StatusInit      = "init"
	StatusListening = "listening"
	StatusLLMStart  = "llmStart"
	StatusTTSStart  = "ttsStart"
	StatusEnded     = "ended"
)

// RuntimeConfig is the per-call snapshot of all timer/SLA settings. It is
// read from viper when the call starts, so edits to the config file apply
// to the next call without a restart.
type RuntimeConfig struct {
	SilenceFlushTimeout time.Duration // short silence ends the caller's turn
	LongSilenceTimeout  time.Duration // sustained silence triggers "still there?"
	BargeInCutoff       time.Duration // sustained caller speech stops bot playback
	VadSensitivity      float64       // normalized RMS threshold, 0..1

	SoftAnswerTimeout time.Duration // one-off "still working" prompt
	HardAnswerTimeout time.Duration // abort the turn
	LoadingInterval   time.Duration // "thinking" sound replay period
	MaxTurnDepth      int           // bounded retry/continue depth per turn

	AecMaxDelay       time.Duration // reference window for echo round-trip
	AecFrameTimeoutX  float64       // conditioning SLA, multiple of frame duration
	AecPullTimeoutX   float64       // output pull SLA, multiple of frame duration
	AecWorkers        int
	TranscriptTimeout time.Duration // max wait for a final recognition event

	TTSDrainTimeout time.Duration // max wait for queued playback at turn end
	TTSLeadTime     time.Duration // client-side buffer target for paced send
}

// LoadRuntimeConfig reads the current settings from viper, applying the
// defaults the spec names where keys are absent.
func LoadRuntimeConfig() RuntimeConfig {
	cfg := RuntimeConfig{
		SilenceFlushTimeout: durationMs("chat.silence_flush_ms", 700),
		LongSilenceTimeout:  durationS("chat.long_silence_seconds", 15),
		BargeInCutoff:       durationMs("chat.barge_in_ms", 400),
		VadSensitivity:      floatOr("chat.vad_sensitivity", 0.02),
		SoftAnswerTimeout:   durationS("chat.soft_answer_seconds", 10),
		HardAnswerTimeout:   durationS("chat.hard_answer_seconds", 30),
		LoadingInterval:     durationS("chat.loading_interval_seconds", 5),
		MaxTurnDepth:        intOr("chat.max_turn_depth", 3),
		AecMaxDelay:         durationMs("aec.max_delay_ms", 500),
		AecFrameTimeoutX:    floatOr("aec.frame_timeout_multiple", 4),
		AecPullTimeoutX:     floatOr("aec.pull_timeout_multiple", 1.5),
		AecWorkers:          intOr("aec.workers", 5),
		TranscriptTimeout:   durationMs("chat.transcript_timeout_ms", 1500),
		TTSDrainTimeout:     durationS("chat.tts_drain_seconds", 120),
		TTSLeadTime:         durationMs("chat.tts_lead_ms", 120),
	}
	return cfg
}

func durationMs(key string, def int64) time.Duration {
	v := viper.GetInt64(key)
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Millisecond
}

func durationS(key string, def int64) time.Duration {
	v := viper.GetInt64(key)
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func floatOr(key string, def float64) float64 {
	if v := viper.GetFloat64(key); v > 0 {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	if v := viper.GetInt(key); v > 0 {
		return v
	}
	return def
}

// State is the per-call mutable state. One State lives for the duration of
// one phone call; all turn machinery hangs off it.
type State struct {
	CallID   string
	CallerID string // E.164 caller number from the telephony leg

	Dialogue *Dialogue

	Config RuntimeConfig

	SystemPrompt string

	InputAudioFormat  audio.AudioFormat
	OutputAudioFormat audio.AudioFormat

	// Ctx spans the whole call; TurnCtx spans one dialogue turn and is
	// cancelled when a new turn supersedes it.
	Ctx     context.Context
	Cancel  context.CancelFunc
	TurnCtx Ctx

	// ReturningCaller is true when the store already had state for this
	// caller; it selects the "welcome back" greeting path.
	ReturningCaller bool

	statusMu sync.RWMutex
	status   string

	// lastInteraction feeds the long-silence re-arm check: turn ends and
	// detected caller speech update it, assistant-side audio does not.
	lastInteraction atomic.Int64

	turnCount atomic.Int64
}

func NewState(parent context.Context, callerID string) *State {
	ctx, cancel := context.WithCancel(parent)
	s := &State{
		CallID:            uuid.NewString(),
		CallerID:          callerID,
		Dialogue:          NewDialogue(),
		Config:            LoadRuntimeConfig(),
		InputAudioFormat:  audio.DefaultFormat(),
		OutputAudioFormat: audio.DefaultFormat(),
		Ctx:               ctx,
		Cancel:            cancel,
		status:            StatusInit,
	}
	s.lastInteraction.Store(time.Now().UnixMilli())
	return s
}

func (s *State) SetStatus(status string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
}

func (s *State) Status() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// TouchInteraction records a qualifying interaction for the long-silence
// timer: a turn end or detected caller speech.
func (s *State) TouchInteraction() {
	s.lastInteraction.Store(time.Now().UnixMilli())
}

func (s *State) LastInteraction() time.Time {
	return time.UnixMilli(s.lastInteraction.Load())
}

// NextTurn increments and returns the 1-based turn counter.
func (s *State) NextTurn() int64 {
	return s.turnCount.Add(1)
}

func (s *State) TurnCount() int64 {
	return s.turnCount.Load()
}

// Ctx is a resettable context holder; Get lazily derives from the parent,
// Cancel tears the current one down so the next Get starts fresh.
type Ctx struct {
	sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Ctx) Get(parent context.Context) context.Context {
	c.Lock()
	defer c.Unlock()
	if c.ctx == nil {
		c.ctx, c.cancel = context.WithCancel(parent)
	}
	return c.ctx
}

func (c *Ctx) Cancel() {
	c.Lock()
	defer c.Unlock()
	if c.ctx != nil {
		c.cancel()
		c.ctx = nil
	}
}
