package eventbus

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// AddMessageEvent asks the history worker to persist one dialogue
// message. Saving is two-phase: the first event carries text only, a
// second event with IsUpdate set attaches the synthesized audio once
// playback finished.
type AddMessageEvent struct {
	CallID   string
	CallerID string

	Msg       schema.Message
	MessageID string

	// Phase one: AudioData nil. Phase two: the played PCM16 frames.
	AudioData  [][]byte
	AudioSize  int
	SampleRate int
	Channels   int

	Timestamp time.Time
	IsUpdate  bool
}

// CallEndEvent marks a call finished so the worker can stamp the record
// and drop per-call routing state.
type CallEndEvent struct {
	CallID   string
	CallerID string
	Ended    time.Time
}
