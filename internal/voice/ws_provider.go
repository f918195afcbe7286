package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsProviderPingInterval = 20 * time.Second
	wsProviderWriteWait    = 10 * time.Second
	wsProviderReadLimit    = 1 << 20
)

// wsProviderFrame is the wire shape exchanged with a realtime voice
// backend: audio chunks travel base64-encoded inside a JSON envelope
// alongside the command/event frames, rather than as raw binary
// WebSocket frames, so a single connection carries both control and
// media without needing message-type switching on receive.
type wsProviderFrame struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Audio      string          `json:"audio,omitempty"` // base64
	SampleRate int             `json:"sample_rate,omitempty"`
	TrackID    string          `json:"track_id,omitempty"`
	Tool       *ToolStatus     `json:"tool,omitempty"`
	Media      map[string]any  `json:"media,omitempty"`
	Error      string          `json:"error,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

type wsConnectPayload struct {
	EntityID                  string `json:"entity_id"`
	UserID                    string `json:"user_id"`
	UserName                  string `json:"user_name,omitempty"`
	UserInfo                  string `json:"user_info,omitempty"`
	VoiceID                   string `json:"voice_id,omitempty"`
	VoiceProviderInstructions string `json:"voice_provider_instructions,omitempty"`
}

// WSProvider is the reference VoiceProvider: it speaks wsProviderFrame
// JSON envelopes over a single WebSocket connection to an upstream
// realtime speech backend. It exists to exercise the VoiceProvider
// contract end to end; it names no concrete vendor.
type WSProvider struct {
	dialer *websocket.Dialer
	url    string
	token  string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	speaking  bool

	events chan Event
	done   chan struct{}
}

// NewWSProvider builds a reference provider that will dial url on
// Connect, presenting token (minted by TokenIssuer.Issue) as a bearer
// credential.
func NewWSProvider(url, token string) *WSProvider {
	return &WSProvider{
		dialer: websocket.DefaultDialer,
		url:    url,
		token:  token,
		events: make(chan Event, 64),
	}
}

// Connect dials the upstream endpoint and sends the initial connect frame.
func (p *WSProvider) Connect(ctx context.Context, cfg ConnectConfig) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return errAlreadyConnected
	}
	p.mu.Unlock()

	header := make(map[string][]string)
	if p.token != "" {
		header["Authorization"] = []string{"Bearer " + p.token}
	}
	conn, _, err := p.dialer.DialContext(ctx, p.url, header)
	if err != nil {
		return fmt.Errorf("voice: dial: %w", err)
	}

	payload, err := json.Marshal(wsConnectPayload{
		EntityID:                  cfg.EntityID,
		UserID:                    cfg.UserID,
		UserName:                  cfg.UserName,
		UserInfo:                  cfg.UserInfo,
		VoiceID:                   cfg.VoiceID,
		VoiceProviderInstructions: cfg.VoiceProviderInstructions,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	if err := p.send(wsProviderFrame{Type: "connect", Config: payload}); err != nil {
		_ = conn.Close()
		return err
	}

	go p.readLoop()
	go p.pingLoop()
	return nil
}

func (p *WSProvider) readLoop() {
	defer close(p.done)
	defer close(p.events)

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	conn.SetReadLimit(wsProviderReadLimit)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsProviderFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			p.emit(Event{Type: EventError, Timestamp: time.Now(), Err: err})
			continue
		}
		p.handleFrame(frame)
	}
}

func (p *WSProvider) handleFrame(frame wsProviderFrame) {
	now := time.Now()
	switch frame.Type {
	case "transcript":
		p.emit(Event{Type: EventTranscript, Timestamp: now, Transcript: frame.Text})
	case "audio":
		data, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			p.emit(Event{Type: EventError, Timestamp: now, Err: err})
			return
		}
		p.emit(Event{Type: EventAudio, Timestamp: now, Audio: &AudioFrame{Data: data, SampleRate: frame.SampleRate, TrackID: frame.TrackID}})
	case "track-start":
		p.mu.Lock()
		p.speaking = true
		p.mu.Unlock()
		p.emit(Event{Type: EventTrackStart, Timestamp: now, TrackID: frame.TrackID, Text: frame.Text})
	case "track-complete":
		p.mu.Lock()
		p.speaking = false
		p.mu.Unlock()
		p.emit(Event{Type: EventTrackComplete, Timestamp: now, TrackID: frame.TrackID})
	case "tool-status":
		p.emit(Event{Type: EventToolStatus, Timestamp: now, Tool: frame.Tool})
	case "media":
		p.emit(Event{Type: EventMedia, Timestamp: now, Media: frame.Media})
	case "error":
		p.emit(Event{Type: EventError, Timestamp: now, Err: fmt.Errorf("voice: %s", frame.Error)})
	}
}

func (p *WSProvider) emit(evt Event) {
	select {
	case p.events <- evt:
	default:
	}
}

func (p *WSProvider) pingLoop() {
	ticker := time.NewTicker(wsProviderPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsProviderWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *WSProvider) send(frame wsProviderFrame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsProviderWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendAudio forwards one chunk of caller audio, unless the assistant
// is currently mid-response.
func (p *WSProvider) SendAudio(chunk []byte) error {
	p.mu.Lock()
	speaking := p.speaking
	p.mu.Unlock()
	if speaking {
		return nil
	}
	return p.send(wsProviderFrame{Type: "audio", Audio: base64.StdEncoding.EncodeToString(chunk)})
}

// SendText forwards a pre-transcribed caller utterance.
func (p *WSProvider) SendText(text string) error {
	return p.send(wsProviderFrame{Type: "text", Text: text})
}

// Interrupt cancels the current response and clears the speaking gate.
func (p *WSProvider) Interrupt() error {
	p.mu.Lock()
	p.speaking = false
	p.mu.Unlock()
	return p.send(wsProviderFrame{Type: "interrupt"})
}

// Events returns the provider's event stream.
func (p *WSProvider) Events() <-chan Event {
	return p.events
}

// Close closes the underlying connection.
func (p *WSProvider) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.connected = false
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
