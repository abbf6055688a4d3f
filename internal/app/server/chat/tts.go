package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"voxline-server-golang/internal/data/call"
	"voxline-server-golang/internal/domain/aec"
	"voxline-server-golang/internal/domain/prompts"
	"voxline-server-golang/internal/domain/telephony"
	"voxline-server-golang/internal/domain/tts"
	"voxline-server-golang/internal/util"
	log "voxline-server-golang/logger"
)

// TTSQueueItem is one utterance awaiting synthesis and playback. Canned
// prompts carry pre-decoded frames and skip the synthesis call. Only
// generated items count as spoken output; fillers and canned prompts do
// not silence the loading ticker.
type TTSQueueItem struct {
	ctx       context.Context
	text      string
	frames    [][]byte
	generated bool
	onEndFunc func(err error)
}

// TTSManager serializes all spoken output of one call: a bounded queue of
// utterances, a paced sender that keeps a small client-side buffer, and
// the audio history that feeds the second phase of message persistence.
// Every sent frame is also republished into the AEC reference stream.
type TTSManager struct {
	state    *call.State
	media    *telephony.MediaStream
	provider tts.Provider
	pipeline *aec.Pipeline

	ttsQueue *util.Queue[TTSQueueItem]

	audioHistoryBuffer [][]byte
	audioMutex         sync.Mutex

	// spoken flips when the first generated frame of the current turn
	// goes out; the loading ticker stops playing filler once it does.
	spokenMu sync.Mutex
	spoken   bool

	// inflight tracks queued plus playing items so a turn can wait for
	// its audio to finish.
	inflightMu   sync.Mutex
	inflightCond *sync.Cond
	inflight     int
}

func NewTTSManager(state *call.State, media *telephony.MediaStream, provider tts.Provider, pipeline *aec.Pipeline) *TTSManager {
	t := &TTSManager{
		state:    state,
		media:    media,
		provider: provider,
		pipeline: pipeline,
		ttsQueue: util.NewQueue[TTSQueueItem](10),
	}
	t.inflightCond = sync.NewCond(&t.inflightMu)
	return t
}

// Start consumes the utterance queue until ctx ends.
func (t *TTSManager) Start(ctx context.Context) {
	for {
		item, err := t.ttsQueue.Pop(ctx, 0)
		if err != nil {
			if err == util.ErrQueueCtxDone || err == util.ErrQueueClosed {
				return
			}
			continue
		}
		playErr := t.handleItem(item)
		if item.onEndFunc != nil {
			item.onEndFunc(playErr)
		}
		t.itemDone()
	}
}

func (t *TTSManager) enqueue(item TTSQueueItem) error {
	t.inflightMu.Lock()
	t.inflight++
	t.inflightMu.Unlock()
	if err := t.ttsQueue.Push(item); err != nil {
		t.itemDone()
		log.Warnf("tts queue full, dropping utterance: %s", item.text)
		return err
	}
	return nil
}

func (t *TTSManager) itemDone() {
	t.inflightMu.Lock()
	t.inflight--
	if t.inflight <= 0 {
		t.inflightCond.Broadcast()
	}
	t.inflightMu.Unlock()
}

// Speak queues a generated text utterance for synthesis.
func (t *TTSManager) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return t.enqueue(TTSQueueItem{ctx: ctx, text: text, generated: true})
}

// SpeakPrompt queues a canned prompt, using its pre-decoded audio when
// present and live synthesis of its text otherwise.
func (t *TTSManager) SpeakPrompt(ctx context.Context, p prompts.Prompt) error {
	return t.enqueue(TTSQueueItem{ctx: ctx, text: p.Text, frames: p.Frames})
}

// WaitIdle blocks until every queued utterance has been played or ctx
// ends.
func (t *TTSManager) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		t.inflightCond.Broadcast()
	})
	defer stop()

	t.inflightMu.Lock()
	defer t.inflightMu.Unlock()
	for t.inflight > 0 && ctx.Err() == nil {
		t.inflightCond.Wait()
	}
	return ctx.Err()
}

// Interrupt drops all queued utterances and tells the client to stop
// playback immediately. Used on barge-in; the caller cancels the turn
// context separately so the in-flight sender unwinds.
func (t *TTSManager) Interrupt() {
	dropped := t.ttsQueue.Clear()
	for i := 0; i < dropped; i++ {
		t.itemDone()
	}
	if err := t.media.SendControl(telephony.ControlMessage{Type: telephony.ControlTtsStop}); err != nil && !telephony.IsHangUp(err) {
		log.Warnf("send tts stop marker: %v", err)
	}
}

func (t *TTSManager) handleItem(item TTSQueueItem) error {
	select {
	case <-item.ctx.Done():
		return nil
	default:
	}

	t.state.SetStatus(call.StatusTTSStart)

	if len(item.frames) > 0 {
		audioChan := make(chan []byte, len(item.frames))
		for _, frame := range item.frames {
			audioChan <- frame
		}
		close(audioChan)
		return t.SendTTSAudio(item.ctx, audioChan, item.generated)
	}

	outputChan, err := t.provider.TextToSpeechStream(item.ctx, item.text, t.state.OutputAudioFormat)
	if err != nil {
		return fmt.Errorf("synthesize %q: %w", item.text, err)
	}
	return t.SendTTSAudio(item.ctx, outputChan, item.generated)
}

// SendTTSAudio paces frames to the client against absolute time, keeping
// a small lead so the client buffer neither starves nor grows without
// bound. Sent frames feed the AEC reference stream and the audio
// history; only generated utterances flip the spoken flag.
func (t *TTSManager) SendTTSAudio(ctx context.Context, audioChan chan []byte, generated bool) error {
	frameDuration := time.Duration(t.state.OutputAudioFormat.FrameDuration) * time.Millisecond
	leadFrames := int(t.state.Config.TTSLeadTime / frameDuration)
	startTime := time.Now()
	totalFrames := 0

	for {
		nextFrameTime := startTime.Add(time.Duration(totalFrames-leadFrames) * frameDuration)
		if wait := time.Until(nextFrameTime); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-audioChan:
			if !ok {
				// Let the client drain its buffer before the next
				// utterance starts.
				elapsed := time.Since(startTime)
				if total := time.Duration(totalFrames) * frameDuration; total > elapsed {
					select {
					case <-ctx.Done():
					case <-time.After(total - elapsed):
					}
				}
				return nil
			}
			if err := t.media.SendAudio(frame); err != nil {
				return err
			}
			t.pipeline.PushReference(frame)

			frameCopy := make([]byte, len(frame))
			copy(frameCopy, frame)
			t.audioMutex.Lock()
			t.audioHistoryBuffer = append(t.audioHistoryBuffer, frameCopy)
			t.audioMutex.Unlock()

			if generated {
				t.markSpoken()
			}
			totalFrames++
		}
	}
}

func (t *TTSManager) markSpoken() {
	t.spokenMu.Lock()
	t.spoken = true
	t.spokenMu.Unlock()
}

// ResetSpoken clears the spoken flag at turn start.
func (t *TTSManager) ResetSpoken() {
	t.spokenMu.Lock()
	t.spoken = false
	t.spokenMu.Unlock()
}

// Spoken reports whether any audio went out since the last reset.
func (t *TTSManager) Spoken() bool {
	t.spokenMu.Lock()
	defer t.spokenMu.Unlock()
	return t.spoken
}

// ClearAudioHistory drops the accumulated history at turn start.
func (t *TTSManager) ClearAudioHistory() {
	t.audioMutex.Lock()
	defer t.audioMutex.Unlock()
	t.audioHistoryBuffer = nil
}

// GetAndClearAudioHistory hands the accumulated frames to the persistence
// phase and resets the buffer.
func (t *TTSManager) GetAndClearAudioHistory() [][]byte {
	t.audioMutex.Lock()
	defer t.audioMutex.Unlock()
	data := t.audioHistoryBuffer
	t.audioHistoryBuffer = nil
	return data
}
