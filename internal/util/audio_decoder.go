package util

import (
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"

	"voxline-server-golang/internal/data/audio"
	log "voxline-server-golang/logger"
)

// AudioDecoder turns an encoded audio stream into fixed-size PCM16 frames
// on outputChan. Run closes outputChan when the input ends, so consumers
// can range over it.
type AudioDecoder struct {
	reader     io.Reader
	outputChan chan []byte
	format     audio.AudioFormat
	codec      string

	// inputFormat describes raw pcm input; ignored for self-describing
	// codecs.
	inputFormat beep.Format
}

// CreateAudioDecoder builds a decoder for one of "mp3", "wav" or "pcm".
// For "pcm" the input format defaults to the output format; override it
// with WithFormat.
func CreateAudioDecoder(reader io.Reader, outputChan chan []byte, format audio.AudioFormat, codec string) (*AudioDecoder, error) {
	switch codec {
	case "mp3", "wav", "pcm":
	default:
		return nil, fmt.Errorf("unsupported audio codec: %s", codec)
	}
	return &AudioDecoder{
		reader:     reader,
		outputChan: outputChan,
		format:     format,
		codec:      codec,
		inputFormat: beep.Format{
			SampleRate:  beep.SampleRate(format.SampleRate),
			NumChannels: format.Channels,
			Precision:   2,
		},
	}, nil
}

// WithFormat sets the raw-pcm input format.
func (d *AudioDecoder) WithFormat(f beep.Format) *AudioDecoder {
	d.inputFormat = f
	return d
}

// Run decodes until the input ends, emitting full frames as they fill.
// The trailing partial frame is zero-padded. Always closes outputChan.
func (d *AudioDecoder) Run(startTs int64) error {
	defer close(d.outputChan)

	var err error
	switch d.codec {
	case "mp3":
		err = d.runMP3()
	case "wav":
		err = d.runWav()
	case "pcm":
		err = d.runPCM()
	}
	if err != nil {
		return err
	}
	log.Debugf("audio decode finished in %d ms", time.Now().UnixMilli()-startTs)
	return nil
}

type streamCloser struct {
	io.Reader
}

func (streamCloser) Close() error { return nil }

func (d *AudioDecoder) runMP3() error {
	streamer, format, err := mp3.Decode(streamCloser{d.reader})
	if err != nil {
		return fmt.Errorf("decode mp3 stream: %w", err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if int(format.SampleRate) != d.format.SampleRate {
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(d.format.SampleRate), streamer)
	}
	return d.pump(src)
}

// pump drains a beep streamer, downmixing to mono and chunking to frames.
func (d *AudioDecoder) pump(src beep.Streamer) error {
	frameBytes := d.format.FrameBytes()
	buf := make([][2]float64, 512)
	pending := make([]byte, 0, frameBytes)

	for {
		n, ok := src.Stream(buf)
		for _, s := range buf[:n] {
			v := (s[0] + s[1]) / 2
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			iv := int16(v * 32767)
			pending = append(pending, byte(iv), byte(iv>>8))
			if len(pending) == frameBytes {
				d.outputChan <- pending
				pending = make([]byte, 0, frameBytes)
			}
		}
		if !ok {
			break
		}
	}
	d.flushPending(pending)
	return nil
}

func (d *AudioDecoder) runWav() error {
	data, err := io.ReadAll(d.reader)
	if err != nil {
		return fmt.Errorf("read wav stream: %w", err)
	}
	pcm, sampleRate, channels, err := WavBytesToPCM16(data)
	if err != nil {
		return err
	}
	if channels > 1 {
		pcm = downmixPCM16(pcm, channels)
	}
	if sampleRate != d.format.SampleRate {
		pcm = ResamplePCM16(pcm, sampleRate, d.format.SampleRate)
	}
	d.emitChunks(pcm)
	return nil
}

func (d *AudioDecoder) runPCM() error {
	data, err := io.ReadAll(d.reader)
	if err != nil {
		return fmt.Errorf("read pcm stream: %w", err)
	}
	if d.inputFormat.NumChannels > 1 {
		data = downmixPCM16(data, d.inputFormat.NumChannels)
	}
	if int(d.inputFormat.SampleRate) != d.format.SampleRate {
		data = ResamplePCM16(data, int(d.inputFormat.SampleRate), d.format.SampleRate)
	}
	d.emitChunks(data)
	return nil
}

func (d *AudioDecoder) emitChunks(pcm []byte) {
	frameBytes := d.format.FrameBytes()
	for len(pcm) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, pcm[:frameBytes])
		d.outputChan <- frame
		pcm = pcm[frameBytes:]
	}
	d.flushPending(pcm)
}

func (d *AudioDecoder) flushPending(pending []byte) {
	if len(pending) == 0 {
		return
	}
	frame := make([]byte, d.format.FrameBytes())
	copy(frame, pending)
	d.outputChan <- frame
}

// downmixPCM16 averages interleaved channels into mono.
func downmixPCM16(data []byte, channels int) []byte {
	sampleBytes := 2 * channels
	out := make([]byte, 0, len(data)/channels)
	for i := 0; i+sampleBytes <= len(data); i += sampleBytes {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(int16(data[i+2*c]) | int16(data[i+2*c+1])<<8)
		}
		v := int16(sum / channels)
		out = append(out, byte(v), byte(v>>8))
	}
	return out
}

// ResamplePCM16 linearly interpolates mono PCM16 from one rate to
// another. Good enough for speech prompts; synthesis paths resample
// through beep.
func ResamplePCM16(data []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return data
	}
	samples := len(data) / 2
	if samples == 0 {
		return nil
	}
	outSamples := int(int64(samples) * int64(to) / int64(from))
	out := make([]byte, 0, outSamples*2)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * float64(from) / float64(to)
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := int16(data[idx*2]) | int16(data[idx*2+1])<<8
		s1 := s0
		if idx+1 < samples {
			s1 = int16(data[(idx+1)*2]) | int16(data[(idx+1)*2+1])<<8
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out = append(out, byte(v), byte(v>>8))
	}
	return out
}
