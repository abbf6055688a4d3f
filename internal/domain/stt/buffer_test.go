package stt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptOverwriteSemantics(t *testing.T) {
	b := NewTranscriptBuffer()

	// Partials overwrite the live fragment; a final freezes it.
	b.Push(Event{Kind: EventPartial, Text: "he"})
	b.Push(Event{Kind: EventPartial, Text: "hello"})
	b.Push(Event{Kind: EventFinal, Text: "hello there"})

	text := b.PullTranscript(context.Background(), time.Second)
	assert.Equal(t, "hello there", text)
}

func TestTranscriptMultipleFragments(t *testing.T) {
	b := NewTranscriptBuffer()

	b.Push(Event{Kind: EventFinal, Text: "first part."})
	b.Push(Event{Kind: EventPartial, Text: "and"})
	b.Push(Event{Kind: EventFinal, Text: "and then some"})

	text := b.PullTranscript(context.Background(), time.Second)
	assert.Equal(t, "first part. and then some", text)
}

func TestPullClearsBuffer(t *testing.T) {
	b := NewTranscriptBuffer()
	b.Push(Event{Kind: EventFinal, Text: "hello"})

	require.Equal(t, "hello", b.PullTranscript(context.Background(), time.Second))

	// The clear runs asynchronously after the read.
	require.Eventually(t, func() bool { return !b.HasText() }, time.Second, 5*time.Millisecond)

	start := time.Now()
	text := b.PullTranscript(context.Background(), 50*time.Millisecond)
	assert.Empty(t, text)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "second pull should wait out the timeout")
}

func TestPullTimeoutDegradesToPartial(t *testing.T) {
	b := NewTranscriptBuffer()
	b.Push(Event{Kind: EventPartial, Text: "still talki"})

	start := time.Now()
	text := b.PullTranscript(context.Background(), 50*time.Millisecond)
	assert.Equal(t, "still talki", text)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPullUnblocksOnFinal(t *testing.T) {
	b := NewTranscriptBuffer()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Push(Event{Kind: EventFinal, Text: "late arrival"})
	}()

	text := b.PullTranscript(context.Background(), time.Second)
	assert.Equal(t, "late arrival", text)
}

func TestPushErrorEventIgnored(t *testing.T) {
	b := NewTranscriptBuffer()
	b.Push(Event{Kind: EventPartial, Text: "keep me"})
	b.Push(Event{Err: assert.AnError})

	assert.True(t, b.HasText())
	text := b.PullTranscript(context.Background(), 30*time.Millisecond)
	assert.Equal(t, "keep me", text)
}
