package tts

import (
	"context"
	"errors"

	"voxline-server-golang/constants"
	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/domain/tts/openai"
	ws_tts "voxline-server-golang/internal/domain/tts/websocket"
)

// Provider synthesizes one utterance into PCM16 frames matching the
// call's output format. TextToSpeechStream returns frames as they are
// decoded and closes the channel at end of synthesis.
type Provider interface {
	TextToSpeech(ctx context.Context, text string, format audio.AudioFormat) ([][]byte, error)
	TextToSpeechStream(ctx context.Context, text string, format audio.AudioFormat) (chan []byte, error)
	Close() error
}

// GetTTSProvider constructs the configured provider.
func GetTTSProvider(providerName string, config map[string]interface{}) (Provider, error) {
	switch providerName {
	case constants.TtsTypeOpenai, "":
		return openai.NewOpenAITTSProvider(config), nil
	case constants.TtsTypeWebsocket:
		return ws_tts.NewWebsocketTTSProvider(config), nil
	default:
		return nil, errors.New("invalid tts provider: " + providerName)
	}
}
