package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep/mp3"
)

// PCM16ToFloat32 converts little-endian PCM16 mono bytes to normalized
// float32 samples in [-1, 1). The byte length must be even.
func PCM16ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// Float32ToPCM16 converts normalized float32 samples back to little-endian
// PCM16 bytes, clamping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return data
}

// Float32SliceToBytes reinterprets float32 samples as little-endian bytes,
// 4 bytes per sample. Used when archiving caller audio.
func Float32SliceToBytes(samples []float32) []byte {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return data
}

// RMS returns the root-mean-square of normalized samples, itself in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsSilence reports whether every byte in a PCM16 buffer is zero.
func IsSilence(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// SilentFrame returns an all-zero PCM16 frame of the given byte size.
func SilentFrame(size int) []byte {
	return make([]byte, size)
}

// Rechunk splits data into frameSize-byte frames, zero-padding the tail so
// every emitted frame has identical size.
func Rechunk(data []byte, frameSize int) [][]byte {
	if frameSize <= 0 || len(data) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(data)+frameSize-1)/frameSize)
	for off := 0; off < len(data); off += frameSize {
		end := off + frameSize
		if end <= len(data) {
			frames = append(frames, data[off:end])
			continue
		}
		tail := make([]byte, frameSize)
		copy(tail, data[off:])
		frames = append(frames, tail)
	}
	return frames
}

// writeSeekerBuffer adapts bytes.Buffer-style growth to io.WriteSeeker for
// the wav encoder, which rewinds to patch the header.
type writeSeekerBuffer struct {
	buf []byte
	pos int
}

func (w *writeSeekerBuffer) Write(p []byte) (int, error) {
	if w.pos+len(p) > len(w.buf) {
		grown := make([]byte, w.pos+len(p))
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *writeSeekerBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case 0:
		next = int(offset)
	case 1:
		next = w.pos + int(offset)
	case 2:
		next = len(w.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	w.pos = next
	return int64(next), nil
}

// PCM16BytesToWav wraps raw PCM16 audio in a WAV container.
func PCM16BytesToWav(pcmData []byte, sampleRate, channels int) ([]byte, error) {
	wsb := &writeSeekerBuffer{}
	enc := wav.NewEncoder(wsb, sampleRate, 16, channels, 1)

	intData := make([]int, len(pcmData)/2)
	for i := range intData {
		intData[i] = int(int16(binary.LittleEndian.Uint16(pcmData[i*2:])))
	}
	buf := &audio.IntBuffer{
		Data:           intData,
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav close: %v", err)
	}
	return wsb.buf, nil
}

// WavBytesToPCM16 decodes a WAV file into raw PCM16 bytes plus its format.
func WavBytesToPCM16(wavData []byte) ([]byte, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(wavData))
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wav decode: %v", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return pcm, int(dec.SampleRate), int(dec.NumChans), nil
}

type readCloserWrapper struct {
	*bytes.Reader
}

func (r *readCloserWrapper) Close() error { return nil }

// Mp3BytesToPCM16 decodes an MP3 file into raw PCM16 mono bytes at the
// stream's native rate. Stereo sources are downmixed.
func Mp3BytesToPCM16(mp3Data []byte) ([]byte, int, error) {
	streamer, format, err := mp3.Decode(&readCloserWrapper{bytes.NewReader(mp3Data)})
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 decode: %v", err)
	}
	defer streamer.Close()

	var out bytes.Buffer
	samples := make([][2]float64, 512)
	tmp := make([]byte, 2)
	for {
		n, ok := streamer.Stream(samples)
		for i := 0; i < n; i++ {
			mono := (samples[i][0] + samples[i][1]) / 2
			if mono > 1.0 {
				mono = 1.0
			} else if mono < -1.0 {
				mono = -1.0
			}
			binary.LittleEndian.PutUint16(tmp, uint16(int16(mono*32767.0)))
			out.Write(tmp)
		}
		if !ok {
			break
		}
	}
	return out.Bytes(), int(format.SampleRate), nil
}
