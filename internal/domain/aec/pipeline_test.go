package aec

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/util"
)

func testFormat() audio.AudioFormat {
	return audio.AudioFormat{SampleRate: 16000, Channels: 1, FrameDuration: 20}
}

// fakeConditioner lets tests control latency and output per frame.
type fakeConditioner struct {
	mu    sync.Mutex
	delay func(seq int) time.Duration
	seq   int
}

func (f *fakeConditioner) UpdateReference(ref []byte) Profile {
	return Profile{Silent: len(ref) == 0}
}

func (f *fakeConditioner) ConditionFrame(raw []byte, profile Profile) ([]byte, bool) {
	f.mu.Lock()
	seq := f.seq
	f.seq++
	f.mu.Unlock()
	if f.delay != nil {
		time.Sleep(f.delay(seq))
	}
	return raw, true
}

func TestPushFrameSizeViolation(t *testing.T) {
	format := testFormat()
	p, err := NewPipeline(format, &fakeConditioner{}, Config{})
	require.NoError(t, err)
	defer p.Stop()

	err = p.PushFrame(make([]byte, format.FrameBytes()-2))
	require.Error(t, err)
	var sizeErr *audio.FrameSizeError
	assert.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, format.FrameBytes(), sizeErr.Want)

	assert.NoError(t, p.PushFrame(make([]byte, format.FrameBytes())))
}

func TestPullPreservesInputOrder(t *testing.T) {
	format := testFormat()
	cond := &fakeConditioner{
		// The first frame is the slowest so later frames finish first.
		delay: func(seq int) time.Duration {
			if seq == 0 {
				return 60 * time.Millisecond
			}
			return 0
		},
	}
	p, err := NewPipeline(format, cond, Config{
		Workers:              4,
		FrameTimeoutMultiple: 50,
		PullTimeoutMultiple:  50,
	})
	require.NoError(t, err)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Start(ctx)

	const n = 8
	for i := 0; i < n; i++ {
		frame := make([]byte, format.FrameBytes())
		frame[0] = byte(i + 1)
		require.NoError(t, p.PushFrame(frame))
	}

	for i := 0; i < n; i++ {
		frame, err := p.Pull(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(i+1), frame.Data[0], "frame %d out of order", i)
	}
}

func TestFrameTimeoutDegradesToRaw(t *testing.T) {
	format := testFormat()
	cond := &fakeConditioner{
		delay: func(seq int) time.Duration { return 200 * time.Millisecond },
	}
	// Frame SLA of one frame duration (20ms), generous pull SLA so the
	// degraded frame is observed rather than dropped.
	p, err := NewPipeline(format, cond, Config{
		Workers:              2,
		FrameTimeoutMultiple: 1,
		PullTimeoutMultiple:  50,
	})
	require.NoError(t, err)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Start(ctx)

	raw := make([]byte, format.FrameBytes())
	raw[0] = 0x7f
	require.NoError(t, p.PushFrame(raw))

	frame, err := p.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7f), frame.Data[0], "raw frame should pass through unconditioned")
	assert.False(t, frame.IsSpeech, "degraded frame must not count as speech")
	assert.Equal(t, int64(1), p.Stats().Missed)
	assert.Equal(t, int64(0), p.Stats().Dropped)
}

func TestPullTimeoutYieldsSilence(t *testing.T) {
	format := testFormat()
	cond := &fakeConditioner{
		delay: func(seq int) time.Duration { return 500 * time.Millisecond },
	}
	// Pull SLA shorter than both the conditioning latency and the frame SLA
	// so the consumer gets a synthetic frame on schedule.
	p, err := NewPipeline(format, cond, Config{
		Workers:              2,
		FrameTimeoutMultiple: 100,
		PullTimeoutMultiple:  1.5,
	})
	require.NoError(t, err)
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Start(ctx)

	raw := make([]byte, format.FrameBytes())
	raw[0] = 0x7f
	require.NoError(t, p.PushFrame(raw))

	frame, err := p.Pull(ctx)
	require.NoError(t, err)
	assert.True(t, util.IsSilence(frame.Data), "late frame must be replaced with silence")
	assert.False(t, frame.IsSpeech)
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPullCtxCancel(t *testing.T) {
	p, err := NewPipeline(testFormat(), &fakeConditioner{}, Config{})
	require.NoError(t, err)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	_, err = p.Pull(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
