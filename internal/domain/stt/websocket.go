package stt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"

	log "voxline-server-golang/logger"
)

// recognitionResult is the wire format of the recognition server: one
// JSON text frame per event.
type recognitionResult struct {
	Type string `json:"type"` // "partial" or "final"
	Text string `json:"text"`
}

// WebsocketRecognizer streams call audio to an external recognition
// server over a per-call websocket and relays its partial/final events.
type WebsocketRecognizer struct {
	ServerURL        string
	HandshakeTimeout time.Duration
}

func NewWebsocketRecognizer(config map[string]interface{}) *WebsocketRecognizer {
	r := &WebsocketRecognizer{
		ServerURL:        cast.ToString(config["server_url"]),
		HandshakeTimeout: time.Duration(cast.ToInt(config["handshake_timeout"])) * time.Second,
	}
	if r.ServerURL == "" {
		r.ServerURL = "ws://localhost:8090/asr"
	}
	if r.HandshakeTimeout == 0 {
		r.HandshakeTimeout = 10 * time.Second
	}
	return r
}

// GetRecognizer constructs the configured recognition adapter.
func GetRecognizer(provider string, config map[string]interface{}) (Recognizer, error) {
	switch provider {
	case "websocket", "":
		return NewWebsocketRecognizer(config), nil
	default:
		return nil, errors.New("invalid stt provider: " + provider)
	}
}

// StreamingRecognize dials the server, pumps frames until the input
// channel closes or ctx ends, and emits events until the server closes.
func (r *WebsocketRecognizer) StreamingRecognize(ctx context.Context, frames <-chan []byte) (<-chan Event, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: r.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, r.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial recognition server: %w", err)
	}

	events := make(chan Event, 32)

	// Writer: audio in.
	go func() {
		defer conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					log.Warnf("send audio to recognizer: %v", err)
					return
				}
			}
		}
	}()

	// Reader: events out.
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
					events <- Event{Err: err}
				}
				return
			}
			var result recognitionResult
			if err := sonic.Unmarshal(data, &result); err != nil {
				log.Warnf("undecodable recognition event: %v", err)
				continue
			}
			kind := EventPartial
			if result.Type == "final" {
				kind = EventFinal
			}
			select {
			case events <- Event{Kind: kind, Text: result.Text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
