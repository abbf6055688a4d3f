package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/util"
)

func TestProviderDefaults(t *testing.T) {
	p := NewOpenAITTSProvider(map[string]interface{}{"api_key": "test-key"})

	assert.Equal(t, "https://api.openai.com/v1/audio/speech", p.APIURL)
	assert.Equal(t, "tts-1", p.Model)
	assert.Equal(t, "alloy", p.Voice)
	assert.Equal(t, "mp3", p.ResponseFormat)
	assert.Equal(t, 1.0, p.Speed)
}

func TestTextToSpeechFramesFromWav(t *testing.T) {
	format := audio.DefaultFormat()

	// 100ms of non-silent PCM at the output rate: exactly 5 frames.
	samples := make([]float32, format.SampleRate/10)
	for i := range samples {
		samples[i] = 0.25
	}
	wavBody, err := util.PCM16BytesToWav(util.Float32ToPCM16(samples), format.SampleRate, 1)
	require.NoError(t, err)

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write(wavBody)
	}))
	defer srv.Close()

	p := NewOpenAITTSProvider(map[string]interface{}{
		"api_key":         "test-key",
		"api_url":         srv.URL,
		"response_format": "wav",
	})

	frames, err := p.TextToSpeech(context.Background(), "hello", format)
	require.NoError(t, err)
	require.Len(t, frames, 5)
	for i, frame := range frames {
		assert.Len(t, frame, format.FrameBytes(), "frame %d", i)
	}
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestTextToSpeechAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAITTSProvider(map[string]interface{}{
		"api_key": "test-key",
		"api_url": srv.URL,
	})

	_, err := p.TextToSpeech(context.Background(), "hello", audio.DefaultFormat())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
