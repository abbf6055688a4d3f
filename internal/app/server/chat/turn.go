package chat

import (
	"sync"
	"time"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/data/call"
	log "voxline-server-golang/logger"
)

// Turn-taking states. The live timers define the state; the name exists
// for logs and tests.
const (
	turnStateIdle           = "idle"
	turnStateSilencePending = "silence-pending"
	turnStateSpeechActive   = "speech-active"
	turnStateBargeInPending = "barge-in-pending"
)

// TurnCallbacks are the controller's outputs. OnTurnEnd fires when short
// silence ends the caller's turn, OnBargeIn when sustained caller speech
// must stop bot playback, OnLongSilence when nothing qualifying happened
// for a whole long-silence period.
type TurnCallbacks struct {
	OnTurnEnd     func()
	OnBargeIn     func()
	OnLongSilence func()
}

// TurnController is the per-call speech/silence state machine. It owns
// the three turn timers; at most one of each kind is live, and starting a
// timer cancels its predecessor. HandleFrame is called from the single
// frame-pull goroutine; timer callbacks take the same lock.
type TurnController struct {
	state *call.State
	cb    TurnCallbacks

	mu           sync.Mutex
	name         string
	speaking     bool
	silenceTimer *time.Timer
	bargeTimer   *time.Timer
	longTimer    *time.Timer
	stopped      bool
}

func NewTurnController(state *call.State, cb TurnCallbacks) *TurnController {
	return &TurnController{
		state: state,
		cb:    cb,
		name:  turnStateIdle,
	}
}

// HandleFrame advances the state machine by one conditioned frame.
func (c *TurnController) HandleFrame(frame audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	if frame.IsSpeech {
		c.state.TouchInteraction()
		c.cancelSilenceLocked()
		if c.bargeTimer == nil {
			c.bargeTimer = time.AfterFunc(c.state.Config.BargeInCutoff, c.onBargeIn)
			c.name = turnStateBargeInPending
		} else {
			c.name = turnStateSpeechActive
		}
		c.speaking = true
		return
	}

	// Silence cancels a pending barge-in the moment speech stops.
	c.cancelBargeLocked()
	if c.silenceTimer == nil {
		c.silenceTimer = time.AfterFunc(c.state.Config.SilenceFlushTimeout, c.onSilenceFlush)
		c.name = turnStateSilencePending
	}
	c.speaking = false
}

func (c *TurnController) onSilenceFlush() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.silenceTimer = nil
	c.cancelBargeLocked()
	c.name = turnStateIdle
	c.armLongSilenceLocked()
	c.mu.Unlock()

	c.state.TouchInteraction()
	if c.cb.OnTurnEnd != nil {
		c.cb.OnTurnEnd()
	}
}

func (c *TurnController) onBargeIn() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.bargeTimer = nil
	c.name = turnStateSpeechActive
	c.mu.Unlock()

	if c.cb.OnBargeIn != nil {
		c.cb.OnBargeIn()
	}
}

// armLongSilenceLocked (re)starts the long-silence watchdog. On each
// firing: stop if the call ended, skip-and-rearm if a qualifying
// interaction happened within the period, otherwise invoke the callback
// and rearm.
func (c *TurnController) armLongSilenceLocked() {
	if c.longTimer != nil {
		c.longTimer.Stop()
	}
	period := c.state.Config.LongSilenceTimeout
	c.longTimer = time.AfterFunc(period, func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		idle := time.Since(c.state.LastInteraction())
		c.armLongSilenceLocked()
		c.mu.Unlock()

		if idle < period {
			return
		}
		log.Debugf("long silence after %v idle", idle)
		if c.cb.OnLongSilence != nil {
			c.cb.OnLongSilence()
		}
	})
}

func (c *TurnController) cancelSilenceLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
}

func (c *TurnController) cancelBargeLocked() {
	if c.bargeTimer != nil {
		c.bargeTimer.Stop()
		c.bargeTimer = nil
	}
}

// StateName returns the current state for logs and tests.
func (c *TurnController) StateName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Stop tears down all timers; no callback fires afterwards.
func (c *TurnController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.cancelSilenceLocked()
	c.cancelBargeLocked()
	if c.longTimer != nil {
		c.longTimer.Stop()
		c.longTimer = nil
	}
}
