package aec

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/util"
	log "voxline-server-golang/logger"
)

const (
	rawQueueSize = 100
	refQueueSize = 100
	outQueueSize = 100
)

// Stats are the pipeline's degradation counters. Latency-budget breaches
// are never errors; they only tick these.
type Stats struct {
	Missed  int64 // conditioning calls that blew the frame SLA
	Dropped int64 // output pulls that timed out and got a silent frame
}

// slot is the ordered-delivery cell: enqueued on the output queue in frame
// arrival order at submit time, filled by whichever worker finishes the
// job. Consumers therefore always see frames FIFO even when workers
// complete out of order.
type slot struct {
	ch chan audio.Frame
}

// Pipeline drains the raw caller stream through a bounded conditioning
// worker pool under the two latency SLAs. A dedicated forwarder goroutine
// validates frame sizes, owns the reference buffer, and dispatches work.
type Pipeline struct {
	format audio.AudioFormat
	cond   FrameConditioner

	frameTimeout time.Duration
	pullTimeout  time.Duration

	rawIn chan []byte
	refIn chan []byte
	out   chan *slot

	pool *ants.Pool

	missed  atomic.Int64
	dropped atomic.Int64

	cancel context.CancelFunc
}

// Config carries the SLA knobs; multiples are of the frame duration.
type Config struct {
	FrameTimeoutMultiple float64
	PullTimeoutMultiple  float64
	Workers              int
}

func NewPipeline(format audio.AudioFormat, cond FrameConditioner, cfg Config) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.FrameTimeoutMultiple <= 0 {
		cfg.FrameTimeoutMultiple = 4
	}
	if cfg.PullTimeoutMultiple <= 0 {
		cfg.PullTimeoutMultiple = 1.5
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	frameDur := time.Duration(format.FrameDuration) * time.Millisecond
	return &Pipeline{
		format:       format,
		cond:         cond,
		frameTimeout: time.Duration(float64(frameDur) * cfg.FrameTimeoutMultiple),
		pullTimeout:  time.Duration(float64(frameDur) * cfg.PullTimeoutMultiple),
		rawIn:        make(chan []byte, rawQueueSize),
		refIn:        make(chan []byte, refQueueSize),
		out:          make(chan *slot, outQueueSize),
		pool:         pool,
	}, nil
}

// PushFrame enqueues one raw caller frame. A size mismatch is a fatal
// contract violation by the audio transport and is returned immediately.
func (p *Pipeline) PushFrame(raw []byte) error {
	if err := p.format.CheckFrame(raw); err != nil {
		return err
	}
	select {
	case p.rawIn <- raw:
	default:
		log.Warnf("aec raw queue full, dropping frame")
	}
	return nil
}

// PushReference republishes played-back bot audio into the reference
// stream, re-chunked to frame size with a zero-padded tail.
func (p *Pipeline) PushReference(data []byte) {
	for _, frame := range util.Rechunk(data, p.format.FrameBytes()) {
		select {
		case p.refIn <- frame:
		default:
			log.Debugf("aec reference queue full, dropping reference frame")
		}
	}
}

// Start launches the forwarder. It returns immediately; Stop or ctx
// cancellation ends processing.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.forward(ctx)
}

func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.pool.Release()
}

// forward pairs each raw frame with the pending reference frame (silence
// when none is queued), snapshots the reference profile, and dispatches
// the conditioning job. The slot goes onto the output queue here, in
// arrival order, before the worker runs.
func (p *Pipeline) forward(ctx context.Context) {
	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			if s := p.Stats(); s.Missed > 0 || s.Dropped > 0 {
				log.Debugf("aec degradation counters: missed=%d dropped=%d", s.Missed, s.Dropped)
			}
		case raw := <-p.rawIn:
			var ref []byte
			select {
			case ref = <-p.refIn:
			default:
				ref = nil
			}

			profile := p.cond.UpdateReference(ref)

			s := &slot{ch: make(chan audio.Frame, 1)}
			select {
			case p.out <- s:
			case <-ctx.Done():
				return
			}

			if err := p.pool.Submit(func() {
				p.runConditioning(raw, profile, s)
			}); err != nil {
				// Pool rejected (released); degrade like a timeout.
				s.ch <- audio.Frame{Data: raw, IsSpeech: false}
			}
		}
	}
}

// runConditioning enforces the per-frame SLA: if conditioning does not
// finish inside the budget the raw frame passes through unconditioned
// with the speech flag down, and the missed counter ticks once.
func (p *Pipeline) runConditioning(raw []byte, profile Profile, s *slot) {
	done := make(chan audio.Frame, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("aec conditioning panic: %v", r)
				done <- audio.Frame{Data: raw, IsSpeech: false}
			}
		}()
		clean, isSpeech := p.cond.ConditionFrame(raw, profile)
		done <- audio.Frame{Data: clean, IsSpeech: isSpeech}
	}()

	timer := time.NewTimer(p.frameTimeout)
	defer timer.Stop()
	select {
	case frame := <-done:
		s.ch <- frame
	case <-timer.C:
		p.missed.Add(1)
		s.ch <- audio.Frame{Data: raw, IsSpeech: false}
	}
}

// Pull returns the next conditioned frame in strict input order. If the
// frame is not ready inside the pull SLA the caller gets a synthetic
// silent frame and the dropped counter ticks.
func (p *Pipeline) Pull(ctx context.Context) (audio.Frame, error) {
	var s *slot
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case s = <-p.out:
	}

	timer := time.NewTimer(p.pullTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case frame := <-s.ch:
		return frame, nil
	case <-timer.C:
		p.dropped.Add(1)
		return audio.Frame{Data: util.SilentFrame(p.format.FrameBytes()), IsSpeech: false}, nil
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Missed:  p.missed.Load(),
		Dropped: p.dropped.Load(),
	}
}
