package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cast"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/util"
	log "voxline-server-golang/logger"
)

// Shared HTTP client with a connection pool; synthesis is bursty and
// per-request clients would churn TLS handshakes.
var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		}
	})
	return httpClient
}

// OpenAITTSProvider synthesizes through an openai-compatible speech API.
type OpenAITTSProvider struct {
	APIKey         string
	APIURL         string
	Model          string
	Voice          string
	ResponseFormat string
	Speed          float64
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

func NewOpenAITTSProvider(config map[string]interface{}) *OpenAITTSProvider {
	p := &OpenAITTSProvider{
		APIKey:         cast.ToString(config["api_key"]),
		APIURL:         cast.ToString(config["api_url"]),
		Model:          cast.ToString(config["model"]),
		Voice:          cast.ToString(config["voice"]),
		ResponseFormat: cast.ToString(config["response_format"]),
		Speed:          cast.ToFloat64(config["speed"]),
	}
	if p.APIURL == "" {
		p.APIURL = "https://api.openai.com/v1/audio/speech"
	}
	if p.Model == "" {
		p.Model = "tts-1"
	}
	if p.Voice == "" {
		p.Voice = "alloy"
	}
	if p.ResponseFormat == "" {
		p.ResponseFormat = "mp3"
	}
	if p.Speed == 0 {
		p.Speed = 1.0
	}
	return p
}

func (p *OpenAITTSProvider) doRequest(ctx context.Context, text string) (*http.Response, error) {
	reqBody := speechRequest{
		Model:          p.Model,
		Input:          text,
		Voice:          p.Voice,
		ResponseFormat: p.ResponseFormat,
		Speed:          p.Speed,
	}
	jsonData, err := sonic.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.APIKey))

	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("tts api status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// TextToSpeech synthesizes text and returns all frames at once.
func (p *OpenAITTSProvider) TextToSpeech(ctx context.Context, text string, format audio.AudioFormat) ([][]byte, error) {
	outputChan, err := p.TextToSpeechStream(ctx, text, format)
	if err != nil {
		return nil, err
	}
	var frames [][]byte
	for frame := range outputChan {
		frames = append(frames, frame)
	}
	return frames, nil
}

// TextToSpeechStream synthesizes text and emits frames as the response
// body decodes. The channel closes when synthesis ends or fails.
func (p *OpenAITTSProvider) TextToSpeechStream(ctx context.Context, text string, format audio.AudioFormat) (chan []byte, error) {
	startTs := time.Now().UnixMilli()
	outputChan := make(chan []byte, 100)

	resp, err := p.doRequest(ctx, text)
	if err != nil {
		return nil, err
	}

	decoder, err := util.CreateAudioDecoder(resp.Body, outputChan, format, p.ResponseFormat)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	go func() {
		defer resp.Body.Close()
		if err := decoder.Run(startTs); err != nil {
			log.Errorf("tts audio decode failed: %v", err)
			return
		}
		log.Debugf("tts synthesis done in %d ms, text: %s", time.Now().UnixMilli()-startTs, text)
	}()

	return outputChan, nil
}

func (p *OpenAITTSProvider) Close() error {
	return nil
}
