package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// contextRefreshInterval and contextRefreshTurns mirror the
	// "~2 min or every 10 turns" cadence: whichever fires first wins.
	contextRefreshInterval = 2 * time.Minute
	contextRefreshTurns    = 10

	instructionsTag = "<INSTRUCTIONS>"
)

// TranscriptLine is one turn of a voice session's running history, as
// passed to the cortex_query callback tool.
type TranscriptLine struct {
	Role    string
	Content string
}

// QueryRunner re-invokes the entity agent pathway on behalf of the
// provider's cortex_query tool.
type QueryRunner interface {
	RunQuery(ctx context.Context, entityID, userID string, history []TranscriptLine, query string) (string, error)
}

// QueryRunnerFunc adapts a function to QueryRunner.
type QueryRunnerFunc func(ctx context.Context, entityID, userID string, history []TranscriptLine, query string) (string, error)

func (f QueryRunnerFunc) RunQuery(ctx context.Context, entityID, userID string, history []TranscriptLine, query string) (string, error) {
	return f(ctx, entityID, userID, history, query)
}

// Session binds a VoiceProvider to one entity/user pair: it keeps the
// provider's session context current, gates the provider's speaking
// state, and answers the provider's cortex_query callback.
type Session struct {
	logger   *slog.Logger
	provider VoiceProvider
	ctxSrc   SessionContextProvider
	queries  QueryRunner

	cfg ConnectConfig

	mu             sync.Mutex
	transcript     []TranscriptLine
	speaking       bool
	turnsSinceSync int
	lastSync       time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession builds a Session. ctxSrc and queries may be nil, in which
// case session-context refresh and cortex_query are both disabled.
func NewSession(provider VoiceProvider, ctxSrc SessionContextProvider, queries QueryRunner, cfg ConnectConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger:   logger.With("component", "voice", "entity_id", cfg.EntityID),
		provider: provider,
		ctxSrc:   ctxSrc,
		queries:  queries,
		cfg:      cfg,
	}
}

// Start connects the provider, performs the initial context pull, and
// begins consuming the provider's event stream in the background.
func (s *Session) Start(ctx context.Context) error {
	if err := s.provider.Connect(ctx, s.cfg); err != nil {
		return err
	}
	s.refreshContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(contextRefreshInterval)
	defer ticker.Stop()

	events := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshContext(ctx)
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, evt)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, evt Event) {
	switch evt.Type {
	case EventTrackStart:
		s.mu.Lock()
		s.speaking = true
		s.mu.Unlock()
	case EventTrackComplete:
		s.mu.Lock()
		s.speaking = false
		s.mu.Unlock()
	case EventTranscript:
		s.recordTurn(ctx, "user", evt.Transcript)
	case EventError:
		s.logger.Warn("voice provider error", "error", evt.Err)
	}
}

// recordTurn appends to the running transcript and, every
// contextRefreshTurns turns, refreshes the provider's session context
// early rather than waiting for the interval tick.
func (s *Session) recordTurn(ctx context.Context, role, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, TranscriptLine{Role: role, Content: content})
	s.turnsSinceSync++
	due := s.turnsSinceSync >= contextRefreshTurns
	if due {
		s.turnsSinceSync = 0
	}
	s.mu.Unlock()

	if due {
		s.refreshContext(ctx)
	}
}

func (s *Session) refreshContext(ctx context.Context) {
	if s.ctxSrc == nil {
		return
	}
	sessCtx, err := s.ctxSrc.GetSessionContext(ctx, s.cfg.EntityID, s.cfg.UserID)
	if err != nil {
		s.logger.Warn("session context refresh failed", "error", err)
		return
	}
	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
	s.logger.Debug("refreshed session context", "entity_name", sessCtx.EntityName, "use_memory", sessCtx.UseMemory)
}

// SendAudio forwards to the provider unless the assistant is mid-response.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	speaking := s.speaking
	s.mu.Unlock()
	if speaking {
		return nil
	}
	return s.provider.SendAudio(chunk)
}

// SendText forwards a pre-transcribed utterance and records it.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.recordTurn(ctx, "user", text)
	return s.provider.SendText(text)
}

// Interrupt cancels the current response and clears the speaking gate.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
	return s.provider.Interrupt()
}

// CortexQuery answers the provider's cortex_query tool: it filters
// instruction-only turns out of the running transcript and re-invokes
// the query runner with the remaining history plus query as the final
// synthetic user turn.
func (s *Session) CortexQuery(ctx context.Context, query string) (string, error) {
	if s.queries == nil {
		return "", errProviderUnconfigured
	}
	s.mu.Lock()
	history := make([]TranscriptLine, 0, len(s.transcript))
	for _, line := range s.transcript {
		if strings.Contains(line.Content, instructionsTag) {
			continue
		}
		history = append(history, line)
	}
	s.mu.Unlock()

	return s.queries.RunQuery(ctx, s.cfg.EntityID, s.cfg.UserID, history, query)
}

// Close stops the session loop and closes the underlying provider.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	return s.provider.Close()
}
