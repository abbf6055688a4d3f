package chat

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxline-server-golang/internal/data/call"
	"voxline-server-golang/internal/domain/eventbus"
)

// subscribeAudioUpdates counts phase-two persistence events for one call.
func subscribeAudioUpdates(t *testing.T, callID string) *atomic.Int64 {
	t.Helper()
	var updates atomic.Int64
	handler := func(ev *eventbus.AddMessageEvent) {
		if ev.CallID == callID && ev.IsUpdate {
			updates.Add(1)
		}
	}
	require.NoError(t, eventbus.Get().Subscribe(eventbus.TopicAddMessage, handler))
	t.Cleanup(func() { eventbus.Get().Unsubscribe(eventbus.TopicAddMessage, handler) })
	return &updates
}

// A turn that was superseded or aborted produces nothing on its way out:
// no stop marker, no audio persistence. Both now belong to the turn that
// replaced it.
func TestFinishTurnSupersededProducesNothing(t *testing.T) {
	state := call.NewState(context.Background(), "+15550100")
	defer state.Cancel()
	manager := NewTTSManager(state, nil, nil, nil)
	orch := NewOrchestrator(state, nil, manager, nil, nil, nil)
	orch.lastMessageID[string(schema.Assistant)] = "msg-1"
	manager.audioHistoryBuffer = [][]byte{make([]byte, state.OutputAudioFormat.FrameBytes())}

	updates := subscribeAudioUpdates(t, state.CallID)

	turnCtx, cancel := context.WithCancel(state.Ctx)
	cancel()
	orch.finishTurn(turnCtx)

	assert.EqualValues(t, 0, updates.Load(), "superseded turn published an audio update")
	assert.NotEmpty(t, manager.audioHistoryBuffer, "the audio history stays for the superseding turn to claim")
}

func TestFinishTurnPublishesAudioUpdate(t *testing.T) {
	state := call.NewState(context.Background(), "+15550100")
	defer state.Cancel()
	media := newLoopbackMedia(t)
	manager := NewTTSManager(state, media, nil, nil)
	orch := NewOrchestrator(state, nil, manager, nil, media, nil)
	orch.lastMessageID[string(schema.Assistant)] = "msg-1"
	frame := make([]byte, state.OutputAudioFormat.FrameBytes())
	manager.audioHistoryBuffer = [][]byte{frame, frame}

	updates := subscribeAudioUpdates(t, state.CallID)

	orch.finishTurn(state.TurnCtx.Get(state.Ctx))

	assert.EqualValues(t, 1, updates.Load())
	assert.Empty(t, manager.GetAndClearAudioHistory(), "the published audio leaves the history buffer")
}
