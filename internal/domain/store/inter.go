package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for lookups that matched nothing.
var ErrNotFound = errors.New("store: not found")

// StoredMessage is one dialogue message as persisted. Audio arrives in a
// second commit phase after synthesis completes, so HasAudio starts false
// and flips on update.
type StoredMessage struct {
	MessageID  string    `json:"message_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	HasAudio   bool      `json:"has_audio"`
	AudioSize  int       `json:"audio_size,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CallRecord is the persisted view of one call.
type CallRecord struct {
	CallID   string    `json:"call_id"`
	CallerID string    `json:"caller_id"`
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended,omitempty"`
}

// CallStore is the persistence boundary. Writes are incremental deltas;
// the store never needs the whole call state at once.
type CallStore interface {
	// StartCall records call metadata and returns whether the caller
	// has been seen before. Marking and checking are one operation so
	// two concurrent calls from the same number cannot both read
	// "new".
	StartCall(ctx context.Context, record CallRecord) (returning bool, err error)
	// EndCall stamps the call finished.
	EndCall(ctx context.Context, callID string, ended time.Time) error
	// SaveMessage appends one message (phase one: text only).
	SaveMessage(ctx context.Context, callID string, msg StoredMessage) error
	// UpdateMessageAudio attaches synthesized audio to a previously
	// saved message (phase two).
	UpdateMessageAudio(ctx context.Context, callID, messageID string, audio []byte, sampleRate, channels int) error
	// LoadMessages returns the most recent messages across the
	// caller's calls, oldest first, up to limit.
	LoadMessages(ctx context.Context, callerID string, limit int) ([]StoredMessage, error)
	Close() error
}
