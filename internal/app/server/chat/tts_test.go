package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/data/call"
	"voxline-server-golang/internal/domain/aec"
	"voxline-server-golang/internal/domain/prompts"
	"voxline-server-golang/internal/domain/telephony"
)

// newLoopbackMedia dials a media stream against a throwaway websocket
// server that reads and discards everything.
func newLoopbackMedia(t *testing.T) *telephony.MediaStream {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return telephony.NewMediaStream(conn, audio.DefaultFormat())
}

func TestSpeakQueuesGeneratedUtterances(t *testing.T) {
	state := call.NewState(context.Background(), "+15550100")
	defer state.Cancel()
	m := NewTTSManager(state, nil, nil, nil)

	require.NoError(t, m.Speak(context.Background(), "generated sentence"))
	item, err := m.ttsQueue.Pop(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, item.generated)

	require.NoError(t, m.SpeakPrompt(context.Background(), prompts.Prompt{Text: "One moment please."}))
	item, err = m.ttsQueue.Pop(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, item.generated, "canned prompts must not count as spoken output")
}

// The loading ticker keeps replaying the thinking filler until generated
// output has been spoken; filler and prompt playback must not flip the
// spoken flag themselves.
func TestSpokenTracksGeneratedAudioOnly(t *testing.T) {
	state := call.NewState(context.Background(), "+15550100")
	defer state.Cancel()
	media := newLoopbackMedia(t)
	pipeline, err := aec.NewPipeline(state.OutputAudioFormat, nil, aec.Config{})
	require.NoError(t, err)
	m := NewTTSManager(state, media, nil, pipeline)

	frames := func(n int) chan []byte {
		ch := make(chan []byte, n)
		for i := 0; i < n; i++ {
			ch <- make([]byte, state.OutputAudioFormat.FrameBytes())
		}
		close(ch)
		return ch
	}

	require.NoError(t, m.SendTTSAudio(context.Background(), frames(3), false))
	assert.False(t, m.Spoken(), "prompt playback flipped the spoken flag")

	require.NoError(t, m.SendTTSAudio(context.Background(), frames(3), true))
	assert.True(t, m.Spoken())
}
