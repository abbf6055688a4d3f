package aec

import (
	"math"
	"time"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/domain/vad/inter"
	"voxline-server-golang/internal/util"
)

const (
	// noiseAlpha scales how aggressively the reference noise profile is
	// subtracted from the caller signal.
	noiseAlpha = 0.9
	// minGain keeps the residual from being zeroed out entirely so the
	// caller never goes fully dead during bot playback.
	minGain = 0.1
	epsilon = 1e-6
)

// Profile is an immutable snapshot of the reference state taken by the
// owning goroutine before a frame is handed to a conditioning worker.
// Workers never touch the reference buffer itself.
type Profile struct {
	Silent   bool
	NoiseRMS float64
}

// FrameConditioner is the seam the pipeline drives. Conditioner is the
// production implementation; tests substitute slow or failing ones.
type FrameConditioner interface {
	UpdateReference(ref []byte) Profile
	ConditionFrame(raw []byte, profile Profile) (clean []byte, isSpeech bool)
}

// Conditioner removes played-back bot audio from the caller signal and
// scores speech presence. The reference buffer is a rolling window sized
// to the acoustic round-trip delay and is owned exclusively by the
// pipeline's forwarder goroutine.
type Conditioner struct {
	format audio.AudioFormat
	vad    inter.VAD

	refBuf  []float32
	refSize int // samples covering maxDelay
}

func NewConditioner(format audio.AudioFormat, vad inter.VAD, maxDelay time.Duration) *Conditioner {
	refSize := int(maxDelay.Milliseconds()) * format.SampleRate / 1000 * format.Channels
	if refSize < format.FrameSamples() {
		refSize = format.FrameSamples()
	}
	return &Conditioner{
		format:  format,
		vad:     vad,
		refBuf:  make([]float32, 0, refSize),
		refSize: refSize,
	}
}

// UpdateReference folds one played-back frame into the rolling window:
// replaced wholesale when the new data covers the window, shifted and
// appended otherwise. Returns the profile for the paired caller frame.
func (c *Conditioner) UpdateReference(ref []byte) Profile {
	if len(ref) > 0 && !util.IsSilence(ref) {
		samples := util.PCM16ToFloat32(ref)
		if len(samples) >= c.refSize {
			c.refBuf = append(c.refBuf[:0], samples[len(samples)-c.refSize:]...)
		} else if len(c.refBuf)+len(samples) <= c.refSize {
			c.refBuf = append(c.refBuf, samples...)
		} else {
			shift := len(c.refBuf) + len(samples) - c.refSize
			c.refBuf = append(c.refBuf[:copy(c.refBuf, c.refBuf[shift:])], samples...)
		}
	}

	if len(ref) == 0 || util.IsSilence(ref) {
		// Nothing played back right now: skip noise reduction entirely.
		return Profile{Silent: true}
	}
	return Profile{NoiseRMS: util.RMS(c.refBuf)}
}

// ConditionFrame applies stationary noise reduction against the profile
// and scores speech presence on the residual. With a silent reference the
// raw signal is scored directly.
func (c *Conditioner) ConditionFrame(raw []byte, profile Profile) ([]byte, bool) {
	samples := util.PCM16ToFloat32(raw)

	if profile.Silent {
		isSpeech, err := c.vad.IsVADExt(samples, c.format.SampleRate, c.format.FrameSamples())
		if err != nil {
			return raw, false
		}
		return raw, isSpeech
	}

	frameRMS := util.RMS(samples)
	gain := 1.0 - noiseAlpha*profile.NoiseRMS/(frameRMS+epsilon)
	gain = math.Max(minGain, math.Min(1.0, gain))

	residual := make([]float32, len(samples))
	for i, s := range samples {
		residual[i] = s * float32(gain)
	}

	isSpeech, err := c.vad.IsVADExt(residual, c.format.SampleRate, c.format.FrameSamples())
	if err != nil {
		return raw, false
	}
	return util.Float32ToPCM16(residual), isSpeech
}

// Condition is the direct single-call contract: update the reference with
// one aligned frame, then condition the caller frame against it.
func (c *Conditioner) Condition(raw, ref []byte) ([]byte, bool) {
	return c.ConditionFrame(raw, c.UpdateReference(ref))
}
