package audio

import "fmt"

// AudioFormat describes one PCM16 mono stream leg. FrameDuration is in
// milliseconds. Every frame exchanged between pipeline stages must be
// exactly FrameBytes() long.
type AudioFormat struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	FrameDuration int `json:"frame_duration"`
}

func DefaultFormat() AudioFormat {
	return AudioFormat{
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 20,
	}
}

// FrameSamples is the per-frame sample count per channel.
func (f AudioFormat) FrameSamples() int {
	return f.SampleRate * f.FrameDuration / 1000
}

// FrameBytes is the per-frame byte size (PCM16: 2 bytes per sample).
func (f AudioFormat) FrameBytes() int {
	return f.FrameSamples() * f.Channels * 2
}

// FrameSizeError is a fatal input contract violation: the audio transport
// delivered a frame whose size does not match the negotiated format.
type FrameSizeError struct {
	Want int
	Got  int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("audio frame size mismatch: want %d bytes, got %d", e.Want, e.Got)
}

// CheckFrame validates a raw frame against the format.
func (f AudioFormat) CheckFrame(frame []byte) error {
	if len(frame) != f.FrameBytes() {
		return &FrameSizeError{Want: f.FrameBytes(), Got: len(frame)}
	}
	return nil
}

// Frame pairs one conditioned PCM16 frame with its speech flag.
type Frame struct {
	Data     []byte
	IsSpeech bool
}
