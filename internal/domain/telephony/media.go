package telephony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voxline-server-golang/internal/data/audio"
	log "voxline-server-golang/logger"
)

const (
	writeTimeout = 5 * time.Second

	// Control message types on the signaling side of the media socket.
	ControlAnswer   = "answer"
	ControlHangUp   = "hangup"
	ControlTransfer = "transfer"
	ControlSMS      = "sms"
	ControlTtsStart = "tts_start"
	ControlTtsStop  = "tts_stop"
)

// ControlMessage is the JSON envelope for non-audio traffic on the media
// socket. Binary frames carry PCM16 audio; text frames carry these.
type ControlMessage struct {
	Type        string `json:"type"`
	CallID      string `json:"call_id,omitempty"`
	CallerID    string `json:"caller_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Destination string `json:"destination,omitempty"`
	To          string `json:"to,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Envelope is one inbound unit from the media socket: either an audio
// frame or a control message, never both.
type Envelope struct {
	Audio   []byte
	Control *ControlMessage
}

// MediaStream carries one call's duplex audio over a websocket, plus the
// thin signaling channel multiplexed as text frames. It implements
// Signaling so tool execution can drive call state through the same
// connection.
type MediaStream struct {
	conn    *websocket.Conn
	format  audio.AudioFormat
	writeMu sync.Mutex

	closeOnce sync.Once
	hungUp    bool
	hungUpMu  sync.Mutex
}

func NewMediaStream(conn *websocket.Conn, format audio.AudioFormat) *MediaStream {
	return &MediaStream{
		conn:   conn,
		format: format,
	}
}

// Recv blocks for the next inbound frame or control message. Once the
// peer hangs up or the socket closes it returns ErrCallHungUp.
func (m *MediaStream) Recv() (Envelope, error) {
	for {
		msgType, data, err := m.conn.ReadMessage()
		if err != nil {
			m.markHungUp()
			return Envelope{}, ErrCallHungUp
		}
		switch msgType {
		case websocket.BinaryMessage:
			return Envelope{Audio: data}, nil
		case websocket.TextMessage:
			var ctrl ControlMessage
			if err := sonic.Unmarshal(data, &ctrl); err != nil {
				log.Warnf("undecodable control message: %v", err)
				continue
			}
			if ctrl.Type == ControlHangUp {
				m.markHungUp()
				return Envelope{Control: &ctrl}, ErrCallHungUp
			}
			return Envelope{Control: &ctrl}, nil
		default:
			continue
		}
	}
}

// SendAudio writes one PCM16 frame downstream.
func (m *MediaStream) SendAudio(frame []byte) error {
	if m.isHungUp() {
		return ErrCallHungUp
	}
	return m.writeMessage(websocket.BinaryMessage, frame)
}

// SendControl writes one control message downstream.
func (m *MediaStream) SendControl(ctrl ControlMessage) error {
	data, err := sonic.Marshal(ctrl)
	if err != nil {
		return fmt.Errorf("encode control message: %w", err)
	}
	return m.writeMessage(websocket.TextMessage, data)
}

func (m *MediaStream) writeMessage(msgType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := m.conn.WriteMessage(msgType, data); err != nil {
		m.markHungUp()
		return ErrCallHungUp
	}
	return nil
}

func (m *MediaStream) markHungUp() {
	m.hungUpMu.Lock()
	m.hungUp = true
	m.hungUpMu.Unlock()
}

func (m *MediaStream) isHungUp() bool {
	m.hungUpMu.Lock()
	defer m.hungUpMu.Unlock()
	return m.hungUp
}

func (m *MediaStream) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.markHungUp()
		err = m.conn.Close()
	})
	return err
}

// Signaling over the media socket.

func (m *MediaStream) Answer(ctx context.Context) error {
	return m.SendControl(ControlMessage{Type: ControlAnswer})
}

func (m *MediaStream) HangUp(ctx context.Context, reason string) error {
	if m.isHungUp() {
		return nil
	}
	err := m.SendControl(ControlMessage{Type: ControlHangUp, Reason: reason})
	m.markHungUp()
	if err != nil && IsHangUp(err) {
		return nil
	}
	return err
}

func (m *MediaStream) Transfer(ctx context.Context, destination string) error {
	return m.SendControl(ControlMessage{Type: ControlTransfer, Destination: destination})
}

func (m *MediaStream) SendSMS(ctx context.Context, to, body string) error {
	return m.SendControl(ControlMessage{Type: ControlSMS, To: to, Body: body})
}
