package turn

// Emitter streams incremental turn events to a caller, mirroring the
// invocation event sequence: response.created, text deltas,
// tool-status transitions, audio passthrough (for voice sessions),
// and response.done. Every method must return promptly; a slow
// emitter blocks the turn.
type Emitter interface {
	// Created marks the start of a new turn.
	Created()

	// TrackStart begins a synthesis track (a contiguous run of
	// assistant text), identified by trackID.
	TrackStart(trackID string)

	// TextDelta emits one incremental chunk of assistant text on the
	// current track.
	TextDelta(delta string)

	// ToolStatus reports a tool call's lifecycle: "running",
	// "completed", "duplicate", or "failed".
	ToolStatus(name, status, message string)

	// AudioPassthrough forwards a raw audio chunk for a voice session;
	// text-only callers may no-op this.
	AudioPassthrough(data []byte, sampleRate int, trackID string)

	// TrackComplete ends the current synthesis track.
	TrackComplete(trackID string)

	// Done marks the end of the turn.
	Done()
}

// NoopEmitter discards every event; callers that only want the final
// RunOutput can pass this instead of implementing Emitter.
type NoopEmitter struct{}

func (NoopEmitter) Created()                                          {}
func (NoopEmitter) TrackStart(trackID string)                         {}
func (NoopEmitter) TextDelta(delta string)                            {}
func (NoopEmitter) ToolStatus(name, status, message string)           {}
func (NoopEmitter) AudioPassthrough(data []byte, sampleRate int, trackID string) {}
func (NoopEmitter) TrackComplete(trackID string)                      {}
func (NoopEmitter) Done()                                             {}

// CollectingEmitter accumulates every event in order, for tests that
// assert on the exact event sequence a turn produced.
type CollectingEmitter struct {
	Events []string
}

func (c *CollectingEmitter) Created() { c.Events = append(c.Events, "created") }
func (c *CollectingEmitter) TrackStart(trackID string) {
	c.Events = append(c.Events, "track-start:"+trackID)
}
func (c *CollectingEmitter) TextDelta(delta string) {
	c.Events = append(c.Events, "text-delta")
}
func (c *CollectingEmitter) ToolStatus(name, status, message string) {
	c.Events = append(c.Events, "tool-status:"+name+":"+status)
}
func (c *CollectingEmitter) AudioPassthrough(data []byte, sampleRate int, trackID string) {
	c.Events = append(c.Events, "audio:"+trackID)
}
func (c *CollectingEmitter) TrackComplete(trackID string) {
	c.Events = append(c.Events, "track-complete:"+trackID)
}
func (c *CollectingEmitter) Done() { c.Events = append(c.Events, "done") }
