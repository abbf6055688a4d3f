package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	log "voxline-server-golang/logger"
)

// TranscriptBuffer aggregates recognition events for one call. It keeps an
// ordered list of frozen fragments plus one live fragment that every
// partial/final event overwrites in place; a final event freezes the live
// fragment, opens a fresh one, and opens the completion gate.
//
// The buffer is the single owner of its state; callers interact only
// through Push/Pull.
type TranscriptBuffer struct {
	mu        sync.Mutex
	fragments []string
	current   string
	gate      chan struct{}
}

func NewTranscriptBuffer() *TranscriptBuffer {
	return &TranscriptBuffer{
		gate: make(chan struct{}, 1),
	}
}

// Push applies one recognition event. The latest text always wins for the
// live fragment.
func (b *TranscriptBuffer) Push(ev Event) {
	if ev.Err != nil {
		log.Warnf("transcript event error: %v", ev.Err)
		return
	}

	b.mu.Lock()
	b.current = ev.Text
	if ev.Kind == EventFinal {
		b.fragments = append(b.fragments, b.current)
		b.current = ""
		b.openGate()
	}
	b.mu.Unlock()
}

// openGate signals completion without blocking; an already-open gate stays
// open. Callers hold b.mu.
func (b *TranscriptBuffer) openGate() {
	select {
	case b.gate <- struct{}{}:
	default:
	}
}

// PullTranscript waits for a final event up to timeout, then returns the
// joined and trimmed text. On timeout it degrades to whatever partial text
// is present rather than blocking the turn. The buffer and gate are
// cleared asynchronously after the read so a straggling completion from
// the next utterance does not contaminate this one.
func (b *TranscriptBuffer) PullTranscript(ctx context.Context, timeout time.Duration) string {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.gate:
	case <-timer.C:
		log.Debugf("transcript pull timed out after %v, using partial text", timeout)
	case <-ctx.Done():
	}

	b.mu.Lock()
	parts := make([]string, 0, len(b.fragments)+1)
	parts = append(parts, b.fragments...)
	if b.current != "" {
		parts = append(parts, b.current)
	}
	b.mu.Unlock()

	// Clear asynchronously so a late completion event belonging to the
	// next utterance cannot contaminate the text just read.
	go b.Clear()

	return strings.TrimSpace(strings.Join(parts, " "))
}

// Clear wipes all fragments and drains the gate.
func (b *TranscriptBuffer) Clear() {
	b.mu.Lock()
	b.fragments = nil
	b.current = ""
	select {
	case <-b.gate:
	default:
	}
	b.mu.Unlock()
}

// HasText reports whether any recognized text is buffered.
func (b *TranscriptBuffer) HasText() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fragments) > 0 || strings.TrimSpace(b.current) != ""
}
