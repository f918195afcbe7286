// Package voice defines the contract a realtime speech provider
// implements to drive an entity over a half-duplex audio channel, and
// a reference provider that exercises it over a WebSocket connection.
package voice

import (
	"context"
	"time"
)

// ConnectConfig is supplied when a caller opens a voice session for an
// entity; it tells the provider who it is speaking for and with.
type ConnectConfig struct {
	EntityID                 string
	UserID                   string
	UserName                 string
	UserInfo                 string
	VoiceID                  string
	VoiceProviderInstructions string
}

// EntitySessionContext is the periodic snapshot a provider pulls to
// keep its system prompt and memory usage current without tearing
// down and reopening the underlying call.
type EntitySessionContext struct {
	EntityName        string
	Identity           string
	ContinuityContext string
	UseMemory          bool
}

// SessionContextProvider supplies the refresh data a VoiceProvider
// polls on connect and periodically thereafter.
type SessionContextProvider interface {
	GetSessionContext(ctx context.Context, entityID, userID string) (EntitySessionContext, error)
}

// EventType categorizes the events a VoiceProvider emits over its
// event stream.
type EventType string

const (
	EventTranscript    EventType = "transcript"
	EventAudio         EventType = "audio"
	EventTrackStart    EventType = "track-start"
	EventTrackComplete EventType = "track-complete"
	EventToolStatus    EventType = "tool-status"
	EventMedia         EventType = "media"
	EventError         EventType = "error"
)

// AudioFrame carries a chunk of synthesized audio for playback.
type AudioFrame struct {
	Data       []byte
	SampleRate int
	TrackID    string
}

// ToolStatus reports the progress of a tool invocation triggered
// during a voice turn, surfaced to the caller so a UI can show
// "searching...", "done", etc.
type ToolStatus struct {
	Name    string
	Status  string // running, ok, error
	Message string
}

// Event is one item on a VoiceProvider's event stream. Exactly the
// fields relevant to Type are populated.
type Event struct {
	Type      EventType
	Timestamp time.Time

	Transcript string
	Audio      *AudioFrame
	TrackID    string
	Text       string // track-start text
	Tool       *ToolStatus
	Media      map[string]any
	Err        error
}

// VoiceProvider is a realtime, half-duplex speech channel for one
// entity session. Implementations gate inbound audio while the
// assistant is speaking: SendAudio is a no-op during playback rather
// than an error, since the caller's microphone keeps streaming.
type VoiceProvider interface {
	// Connect opens the session and starts emitting events.
	Connect(ctx context.Context, cfg ConnectConfig) error

	// SendAudio delivers one chunk of caller audio. Silently dropped
	// while the assistant is speaking.
	SendAudio(chunk []byte) error

	// SendText delivers a caller utterance already transcribed
	// upstream, bypassing STT.
	SendText(text string) error

	// Interrupt cancels whatever the assistant is currently saying
	// and clears the speaking gate so new audio is accepted again.
	Interrupt() error

	// Events returns the channel the provider publishes Events on.
	// Closed when the session ends.
	Events() <-chan Event

	// Close ends the session and releases its resources.
	Close() error
}
