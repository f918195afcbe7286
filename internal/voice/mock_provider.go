package voice

import (
	"context"
	"sync"
	"time"
)

// MockProvider is an in-process VoiceProvider double: it never leaves
// the process, echoing SendText as a transcript and recording every
// call so tests can assert on them without a network round trip.
type MockProvider struct {
	mu        sync.Mutex
	connected bool
	speaking  bool
	cfg       ConnectConfig

	SentAudio [][]byte
	SentText  []string
	Interrupted int

	events chan Event
}

// NewMockProvider builds an unconnected MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{events: make(chan Event, 64)}
}

func (m *MockProvider) Connect(ctx context.Context, cfg ConnectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return errAlreadyConnected
	}
	m.connected = true
	m.cfg = cfg
	return nil
}

func (m *MockProvider) SendAudio(chunk []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speaking {
		return nil
	}
	m.SentAudio = append(m.SentAudio, chunk)
	return nil
}

// SendText simulates a round trip: it echoes the text back as a
// transcript event and emits a track-start/track-complete pair around
// a synthetic reply.
func (m *MockProvider) SendText(text string) error {
	m.mu.Lock()
	m.SentText = append(m.SentText, text)
	m.mu.Unlock()

	m.emit(Event{Type: EventTranscript, Timestamp: time.Now(), Transcript: text})

	trackID := "track-" + time.Now().Format("150405.000000")
	m.mu.Lock()
	m.speaking = true
	m.mu.Unlock()
	m.emit(Event{Type: EventTrackStart, Timestamp: time.Now(), TrackID: trackID, Text: text})
	m.emit(Event{Type: EventTrackComplete, Timestamp: time.Now(), TrackID: trackID})
	m.mu.Lock()
	m.speaking = false
	m.mu.Unlock()
	return nil
}

func (m *MockProvider) Interrupt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Interrupted++
	m.speaking = false
	return nil
}

func (m *MockProvider) Events() <-chan Event { return m.events }

func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	close(m.events)
	return nil
}

func (m *MockProvider) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
	}
}
