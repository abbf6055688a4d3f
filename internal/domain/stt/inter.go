package stt

import "context"

// EventKind distinguishes the recognition collaborator's event stream.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
)

// Event is one transcription update. Partial and final events both carry
// the full text of the current utterance fragment so far.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Recognizer is the boundary to the speech-recognition collaborator. The
// implementation streams PCM16 frames in and emits partial/final events
// until the context ends or the input channel closes.
type Recognizer interface {
	StreamingRecognize(ctx context.Context, frames <-chan []byte) (<-chan Event, error)
}
