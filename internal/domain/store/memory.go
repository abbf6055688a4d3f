package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process CallStore used by tests and by
// deployments without redis.
type MemoryStore struct {
	mu       sync.Mutex
	calls    map[string]CallRecord
	caller   map[string]string // callID -> callerID
	seen     map[string]bool
	messages map[string][]StoredMessage // callerID -> messages
	audio    map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:    make(map[string]CallRecord),
		caller:   make(map[string]string),
		seen:     make(map[string]bool),
		messages: make(map[string][]StoredMessage),
		audio:    make(map[string][]byte),
	}
}

func (s *MemoryStore) StartCall(ctx context.Context, record CallRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[record.CallID] = record
	s.caller[record.CallID] = record.CallerID
	returning := s.seen[record.CallerID]
	s.seen[record.CallerID] = true
	return returning, nil
}

func (s *MemoryStore) EndCall(ctx context.Context, callID string, ended time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.calls[callID]
	if !ok {
		return ErrNotFound
	}
	record.Ended = ended
	s.calls[callID] = record
	return nil
}

func (s *MemoryStore) SaveMessage(ctx context.Context, callID string, msg StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	callerID, ok := s.caller[callID]
	if !ok {
		return ErrNotFound
	}
	s.messages[callerID] = append(s.messages[callerID], msg)
	return nil
}

func (s *MemoryStore) UpdateMessageAudio(ctx context.Context, callID, messageID string, audio []byte, sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	callerID, ok := s.caller[callID]
	if !ok {
		return ErrNotFound
	}
	msgs := s.messages[callerID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].MessageID != messageID {
			continue
		}
		msgs[i].HasAudio = true
		msgs[i].AudioSize = len(audio)
		msgs[i].SampleRate = sampleRate
		msgs[i].Channels = channels
		s.audio[messageID] = audio
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) LoadMessages(ctx context.Context, callerID string, limit int) ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[callerID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
