package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/data/call"
)

func newTurnTestState(t *testing.T) *call.State {
	t.Helper()
	state := call.NewState(context.Background(), "+15550100")
	t.Cleanup(state.Cancel)
	state.Config.SilenceFlushTimeout = 40 * time.Millisecond
	state.Config.BargeInCutoff = 40 * time.Millisecond
	state.Config.LongSilenceTimeout = 60 * time.Millisecond
	return state
}

func speechFrame() audio.Frame  { return audio.Frame{IsSpeech: true} }
func silenceFrame() audio.Frame { return audio.Frame{IsSpeech: false} }

func TestSilenceFlushFiresOnce(t *testing.T) {
	state := newTurnTestState(t)
	var turnEnds atomic.Int32
	c := NewTurnController(state, TurnCallbacks{
		OnTurnEnd: func() { turnEnds.Add(1) },
	})
	defer c.Stop()

	c.HandleFrame(speechFrame())
	for i := 0; i < 3; i++ {
		c.HandleFrame(silenceFrame())
	}
	assert.Equal(t, turnStateSilencePending, c.StateName())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), turnEnds.Load(), "one silence run flushes exactly one turn")
	assert.Equal(t, turnStateIdle, c.StateName())
}

func TestSpeechCancelsPendingSilence(t *testing.T) {
	state := newTurnTestState(t)
	var turnEnds atomic.Int32
	c := NewTurnController(state, TurnCallbacks{
		OnTurnEnd: func() { turnEnds.Add(1) },
	})
	defer c.Stop()

	c.HandleFrame(speechFrame())
	c.HandleFrame(silenceFrame())
	time.Sleep(20 * time.Millisecond)
	// Caller resumes before the flush deadline.
	c.HandleFrame(speechFrame())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), turnEnds.Load(), "resumed speech must supersede the pending flush")
}

func TestBargeInRequiresSustainedSpeech(t *testing.T) {
	state := newTurnTestState(t)
	var bargeIns atomic.Int32
	c := NewTurnController(state, TurnCallbacks{
		OnBargeIn: func() { bargeIns.Add(1) },
	})
	defer c.Stop()

	// A short blip: speech, then silence before the cutoff.
	c.HandleFrame(speechFrame())
	time.Sleep(10 * time.Millisecond)
	c.HandleFrame(silenceFrame())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), bargeIns.Load(), "a blip must not interrupt playback")
}

func TestBargeInFiresOnSustainedSpeech(t *testing.T) {
	state := newTurnTestState(t)
	var bargeIns atomic.Int32
	c := NewTurnController(state, TurnCallbacks{
		OnBargeIn: func() { bargeIns.Add(1) },
	})
	defer c.Stop()

	deadline := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.HandleFrame(speechFrame())
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), bargeIns.Load(), "sustained speech past the cutoff barges in exactly once")
}

func TestLongSilenceWatchdog(t *testing.T) {
	state := newTurnTestState(t)
	var longSilences atomic.Int32
	c := NewTurnController(state, TurnCallbacks{
		OnLongSilence: func() { longSilences.Add(1) },
	})
	defer c.Stop()

	// A finished turn arms the watchdog; then nothing happens.
	c.HandleFrame(speechFrame())
	c.HandleFrame(silenceFrame())

	time.Sleep(300 * time.Millisecond)
	assert.GreaterOrEqual(t, longSilences.Load(), int32(1))
}

func TestStopSuppressesCallbacks(t *testing.T) {
	state := newTurnTestState(t)
	var turnEnds atomic.Int32
	c := NewTurnController(state, TurnCallbacks{
		OnTurnEnd: func() { turnEnds.Add(1) },
	})

	c.HandleFrame(speechFrame())
	c.HandleFrame(silenceFrame())
	c.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), turnEnds.Load())
	c.HandleFrame(speechFrame())
	assert.Equal(t, turnStateSilencePending, c.StateName(), "state is frozen after stop")
}
