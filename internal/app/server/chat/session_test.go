package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxline-server-golang/internal/data/call"
	"voxline-server-golang/internal/domain/stt"
)

// newFlushTestSession builds the minimal session the silence-flush path
// touches: state, transcript buffer, and the turn starter.
func newFlushTestSession(t *testing.T, runTurn func(ctx context.Context, text string)) (*CallSession, *call.State) {
	t.Helper()
	state := call.NewState(context.Background(), "+15550100")
	state.Config.TranscriptTimeout = 30 * time.Millisecond
	t.Cleanup(state.Cancel)
	return &CallSession{
		state:      state,
		transcript: stt.NewTranscriptBuffer(),
		runTurn:    runTurn,
	}, state
}

// While the bot generates and speaks, the caller is silent and the flush
// timer keeps firing with nothing recognized. Those flushes must leave
// the in-flight turn's context alone.
func TestEmptySilenceFlushLeavesActiveTurnAlone(t *testing.T) {
	var started atomic.Int64
	s, state := newFlushTestSession(t, func(ctx context.Context, text string) {
		started.Add(1)
	})

	turnCtx := state.TurnCtx.Get(state.Ctx)
	for i := 0; i < 2; i++ {
		s.handleTurnEnd()
	}

	assert.NoError(t, turnCtx.Err(), "empty flush cancelled the active turn")
	assert.EqualValues(t, 0, started.Load(), "no turn starts without a transcript")
}

func TestSilenceFlushWithTranscriptSupersedesTurn(t *testing.T) {
	var gotText string
	var gotCtx context.Context
	s, state := newFlushTestSession(t, func(ctx context.Context, text string) {
		gotCtx, gotText = ctx, text
	})

	prevCtx := state.TurnCtx.Get(state.Ctx)
	s.transcript.Push(stt.Event{Kind: stt.EventFinal, Text: "hello there"})
	s.handleTurnEnd()

	require.Equal(t, "hello there", gotText)
	assert.Error(t, prevCtx.Err(), "the previous turn is superseded when a new one starts")
	require.NotNil(t, gotCtx)
	assert.NoError(t, gotCtx.Err(), "the new turn gets a live context")
}
