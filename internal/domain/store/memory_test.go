package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCallReturningFlag(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	returning, err := s.StartCall(ctx, CallRecord{CallID: "c1", CallerID: "+15550100", Started: time.Now()})
	require.NoError(t, err)
	assert.False(t, returning, "first call from a caller is not returning")

	returning, err = s.StartCall(ctx, CallRecord{CallID: "c2", CallerID: "+15550100", Started: time.Now()})
	require.NoError(t, err)
	assert.True(t, returning)

	returning, err = s.StartCall(ctx, CallRecord{CallID: "c3", CallerID: "+15550199", Started: time.Now()})
	require.NoError(t, err)
	assert.False(t, returning, "a different caller starts fresh")
}

func TestMessagesSpanCallsPerCaller(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.StartCall(ctx, CallRecord{CallID: "c1", CallerID: "+15550100"})
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, "c1", StoredMessage{MessageID: "m1", Role: "user", Content: "hi"}))
	require.NoError(t, s.SaveMessage(ctx, "c1", StoredMessage{MessageID: "m2", Role: "assistant", Content: "hello"}))

	_, err = s.StartCall(ctx, CallRecord{CallID: "c2", CallerID: "+15550100"})
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, "c2", StoredMessage{MessageID: "m3", Role: "user", Content: "me again"}))

	msgs, err := s.LoadMessages(ctx, "+15550100", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "history follows the caller across calls")
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "me again", msgs[2].Content)

	msgs, err = s.LoadMessages(ctx, "+15550100", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content, "limit keeps the newest messages")
}

func TestUpdateMessageAudio(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.StartCall(ctx, CallRecord{CallID: "c1", CallerID: "+15550100"})
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, "c1", StoredMessage{MessageID: "m1", Role: "assistant", Content: "hello"}))

	audio := []byte{1, 2, 3, 4}
	require.NoError(t, s.UpdateMessageAudio(ctx, "c1", "m1", audio, 16000, 1))

	msgs, err := s.LoadMessages(ctx, "+15550100", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].HasAudio)
	assert.Equal(t, len(audio), msgs[0].AudioSize)
	assert.Equal(t, 16000, msgs[0].SampleRate)

	assert.ErrorIs(t, s.UpdateMessageAudio(ctx, "c1", "missing", audio, 16000, 1), ErrNotFound)
	assert.ErrorIs(t, s.UpdateMessageAudio(ctx, "missing", "m1", audio, 16000, 1), ErrNotFound)
}

func TestSaveMessageUnknownCall(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveMessage(context.Background(), "nope", StoredMessage{MessageID: "m1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEndCall(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.StartCall(ctx, CallRecord{CallID: "c1", CallerID: "+15550100"})
	require.NoError(t, err)

	require.NoError(t, s.EndCall(ctx, "c1", time.Now()))
	assert.ErrorIs(t, s.EndCall(ctx, "missing", time.Now()), ErrNotFound)
}
