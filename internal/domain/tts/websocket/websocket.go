package websocket

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/util"
	log "voxline-server-golang/logger"
)

// endMarker is the text frame the synthesis server sends after the last
// audio chunk of an utterance.
const endMarker = "end"

// WebsocketTTSProvider talks to a self-hosted synthesis server over a
// persistent websocket: one text frame per utterance in, raw PCM chunks
// out, a text end marker after the last chunk.
type WebsocketTTSProvider struct {
	ServerURL        string
	HandshakeTimeout time.Duration
	ServerSampleRate int

	conn      *websocket.Conn
	connMutex sync.RWMutex
	// sendMutex serializes utterances; the protocol has no request ids
	// so interleaved requests would interleave audio.
	sendMutex sync.Mutex
}

func NewWebsocketTTSProvider(config map[string]interface{}) *WebsocketTTSProvider {
	p := &WebsocketTTSProvider{
		ServerURL:        cast.ToString(config["server_url"]),
		HandshakeTimeout: time.Duration(cast.ToInt(config["handshake_timeout"])) * time.Second,
		ServerSampleRate: cast.ToInt(config["sample_rate"]),
	}
	if p.ServerURL == "" {
		p.ServerURL = "ws://localhost:8080/tts"
	}
	if p.HandshakeTimeout == 0 {
		p.HandshakeTimeout = 10 * time.Second
	}
	if p.ServerSampleRate == 0 {
		p.ServerSampleRate = 24000
	}
	return p
}

// getConnection returns the shared connection, dialing on first use.
func (p *WebsocketTTSProvider) getConnection(ctx context.Context) (*websocket.Conn, error) {
	p.connMutex.RLock()
	conn := p.conn
	p.connMutex.RUnlock()
	if conn != nil {
		return conn, nil
	}

	p.connMutex.Lock()
	defer p.connMutex.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}

	dialer := &websocket.Dialer{HandshakeTimeout: p.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, p.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial tts server: %w", err)
	}
	p.conn = conn
	log.Infof("tts websocket connected: %s", p.ServerURL)
	return conn, nil
}

// clearConnection drops the connection so the next request redials.
func (p *WebsocketTTSProvider) clearConnection() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *WebsocketTTSProvider) TextToSpeech(ctx context.Context, text string, format audio.AudioFormat) ([][]byte, error) {
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

func (p *WebsocketTTSProvider) TextToSpeechStream(ctx context.Context, text string, format audio.AudioFormat) (chan []byte, error) {
	outputChan := make(chan []byte, 100)

	p.sendMutex.Lock()
	conn, err := p.getConnection(ctx)
	if err != nil {
		p.sendMutex.Unlock()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		p.clearConnection()
		p.sendMutex.Unlock()
		return nil, fmt.Errorf("send tts text: %w", err)
	}

	pipeReader, pipeWriter := io.Pipe()
	startTs := time.Now().UnixMilli()

	decoder, err := util.CreateAudioDecoder(pipeReader, outputChan, format, "pcm")
	if err != nil {
		pipeWriter.Close()
		p.sendMutex.Unlock()
		return nil, err
	}
	decoder.WithFormat(beep.Format{
		SampleRate:  beep.SampleRate(p.ServerSampleRate),
		NumChannels: 1,
		Precision:   2,
	})

	go func() {
		if err := decoder.Run(startTs); err != nil {
			log.Errorf("tts pcm decode failed: %v", err)
		}
	}()

	// Reader goroutine holds the send lock until the utterance ends so
	// the next request cannot interleave its audio.
	go func() {
		defer p.sendMutex.Unlock()
		defer pipeWriter.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Errorf("read tts message: %v", err)
					p.clearConnection()
				}
				return
			}
			switch messageType {
			case websocket.TextMessage:
				if string(data) == endMarker {
					return
				}
			case websocket.BinaryMessage:
				if _, err := pipeWriter.Write(data); err != nil {
					return
				}
			}
		}
	}()

	return outputChan, nil
}

func (p *WebsocketTTSProvider) Close() error {
	p.clearConnection()
	return nil
}
