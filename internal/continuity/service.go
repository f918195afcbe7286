// Package continuity is the process-wide orchestrator over one hot
// memory store and one cold memory index: session lifecycle, context
// assembly, turn recording, and debounced fire-and-forget synthesis,
// composed from the hotmem, coldmem, contextbuilder, and synthesis
// packages rather than reimplementing any of their logic.
package continuity

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/continuity/coldmem"
	"github.com/cortexd/runtime/internal/continuity/hotmem"
	"github.com/cortexd/runtime/internal/observability"
	"github.com/cortexd/runtime/pkg/models"
)

const (
	defaultIdleThreshold = 4 * time.Hour
	defaultPulseTTL      = 5 * time.Minute
	defaultEpisodicCap   = 200
)

// ContextBuilder assembles one entity turn's system-prompt context
// block.
type ContextBuilder interface {
	Build(ctx context.Context, entityID, userID, query string) (string, error)
}

// Synthesizer runs the fire-and-forget memory-writing passes.
type Synthesizer interface {
	RunTurnSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn)
	RunSessionSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn)
	RunDeepSynthesis(ctx context.Context, entityID, userID string)
}

// SessionInfo describes an (entityID, userID) pair's current session.
type SessionInfo struct {
	SessionStartTimestamp time.Time `json:"session_start_timestamp"`
	LastInteractionTime   time.Time `json:"last_interaction_time"`
	Idle                  bool      `json:"idle"`
}

// Service is the Continuity Service: the single seam an entity turn
// pipeline calls into for context, recording, and memory search.
type Service struct {
	hot   *hotmem.Store
	cold  *coldmem.Index
	build ContextBuilder
	synth Synthesizer

	idleThreshold time.Duration
	pulseTTL      time.Duration
	episodicCap   int64
	logger        *slog.Logger
}

// Option configures a Service at construction.
type Option func(*Service)

// WithIdleThreshold overrides the idle-session boundary (default 4h).
func WithIdleThreshold(d time.Duration) Option {
	return func(s *Service) { s.idleThreshold = d }
}

// WithPulseTTL overrides the debounce window a triggered synthesis
// holds its in-flight marker for.
func WithPulseTTL(d time.Duration) Option {
	return func(s *Service) { s.pulseTTL = d }
}

// WithEpisodicCap overrides the episodic stream's sliding-window size.
func WithEpisodicCap(n int64) Option {
	return func(s *Service) { s.episodicCap = n }
}

// WithLogger attaches a continuity-scoped logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New builds the Continuity Service over one hot store and one cold
// index (cold may be nil when an entity has no cold memory
// configured; every cold-backed operation then degrades to a no-op).
func New(hot *hotmem.Store, cold *coldmem.Index, build ContextBuilder, synth Synthesizer, opts ...Option) *Service {
	s := &Service{
		hot:           hot,
		cold:          cold,
		build:         build,
		synth:         synth,
		idleThreshold: defaultIdleThreshold,
		pulseTTL:      defaultPulseTTL,
		episodicCap:   defaultEpisodicCap,
		logger:        slog.Default().With("component", "continuity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetContextWindow assembles the system-prompt context block for the
// given entity/user and query.
func (s *Service) GetContextWindow(ctx context.Context, entityID, userID, query string) (string, error) {
	if s.build == nil {
		return "", nil
	}
	return s.build.Build(ctx, entityID, userID, query)
}

// RecordTurn appends a turn to the episodic stream and starts a new
// session first if the prior interaction is more than the idle
// threshold in the past.
func (s *Service) RecordTurn(ctx context.Context, entityID, userID string, turn models.EpisodicTurn) error {
	info, err := s.GetSessionInfo(ctx, entityID, userID)
	if err != nil {
		return err
	}
	if info.Idle {
		if err := s.InitSession(ctx, entityID, userID, false); err != nil {
			return err
		}
	}

	if err := s.hot.AppendTurn(ctx, entityID, userID, turn, s.episodicCap); err != nil {
		return err
	}

	state, err := s.hot.GetExpressionState(ctx, entityID, userID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &models.ExpressionState{SessionStartTimestamp: turn.Timestamp}
	}
	state.LastInteractionTime = turn.Timestamp
	if turn.EmotionalTone != "" {
		state.LastInteractionTone = turn.EmotionalTone
	}
	return s.hot.SetExpressionState(ctx, entityID, userID, state)
}

// TriggerSynthesis fires a synthesis pass in the background, debounced
// so at most one runs at a time per (entityID, userID); a re-entry
// while one is already in flight is silently dropped.
func (s *Service) TriggerSynthesis(ctx context.Context, entityID, userID, kind string) {
	if s.synth == nil {
		return
	}
	claimed, err := s.hot.MarkPulsePending(ctx, entityID, userID, s.pulseTTL)
	if err != nil {
		s.logger.Error("failed to claim synthesis pulse", "entity_id", entityID, "user_id", userID, "error", err)
		return
	}
	if !claimed {
		return
	}

	go func() {
		bg := context.Background()
		defer func() {
			if err := s.hot.ClearPulsePending(bg, entityID, userID); err != nil {
				s.logger.Error("failed to clear synthesis pulse", "entity_id", entityID, "user_id", userID, "error", err)
			}
		}()

		turns, err := s.hot.RecentTurns(bg, entityID, userID, 10)
		if err != nil {
			s.logger.Error("failed to read turns for synthesis", "entity_id", entityID, "user_id", userID, "error", err)
			return
		}

		switch kind {
		case "session":
			s.synth.RunSessionSynthesis(bg, entityID, userID, turns)
		default:
			s.synth.RunTurnSynthesis(bg, entityID, userID, turns)
		}
	}()
}

// RunDeepSynthesis runs the periodic cross-session consolidation pass
// synchronously; callers that want it backgrounded (a cron-driven
// scheduler, say) are responsible for that themselves.
func (s *Service) RunDeepSynthesis(ctx context.Context, entityID, userID string) {
	if s.synth == nil {
		return
	}
	s.synth.RunDeepSynthesis(ctx, entityID, userID)
}

// SearchMemory runs a semantic search over cold memory; a nil cold
// index returns an empty result rather than an error.
func (s *Service) SearchMemory(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if s.cold == nil {
		return &models.SearchResponse{}, nil
	}
	return s.cold.Search(ctx, req)
}

// GetMemoriesByType returns every node of the given types for the
// entity/user.
func (s *Service) GetMemoriesByType(ctx context.Context, entityID, userID string, types []models.NodeType) ([]*models.MemoryNode, error) {
	if s.cold == nil {
		return nil, nil
	}
	return s.cold.GetByType(ctx, entityID, userID, types)
}

// AddMemory upserts one memory node and invalidates the cached active
// context, so the next turn's context assembly sees it.
func (s *Service) AddMemory(ctx context.Context, node *models.MemoryNode) error {
	if s.cold == nil {
		return nil
	}
	if err := s.cold.Upsert(ctx, []*models.MemoryNode{node}); err != nil {
		return err
	}
	return s.hot.InvalidateActiveContext(ctx, node.EntityID, node.UserID)
}

// DeleteMemory removes a single node outright.
func (s *Service) DeleteMemory(ctx context.Context, id string) error {
	if s.cold == nil {
		return nil
	}
	return s.cold.DeleteMemory(ctx, id)
}

// LinkMemories makes two nodes mutually related.
func (s *Service) LinkMemories(ctx context.Context, aID, bID string) error {
	if s.cold == nil {
		return nil
	}
	return s.cold.LinkMemories(ctx, aID, bID)
}

// ForgetUser runs the cascading forget across both tiers: cold memory
// is anonymized/deleted per-node per the cascade rule, and every hot
// state structure for the pair is cleared outright.
func (s *Service) ForgetUser(ctx context.Context, entityID, userID string) (deleted, anonymized int, err error) {
	if s.cold != nil {
		deleted, anonymized, err = s.cold.ForgetUser(ctx, entityID, userID)
		if err != nil {
			return 0, 0, err
		}
	}
	if err := s.hot.ClearEpisodic(ctx, entityID, userID); err != nil {
		return deleted, anonymized, err
	}
	if err := s.hot.ResetExpressionState(ctx, entityID, userID); err != nil {
		return deleted, anonymized, err
	}
	if err := s.hot.InvalidateActiveContext(ctx, entityID, userID); err != nil {
		return deleted, anonymized, err
	}
	return deleted, anonymized, nil
}

// InitSession begins a new session: the episodic stream is cleared
// and the session-start timestamp reset, but the expression state's
// base personality persists across the boundary. force=true starts a
// new session regardless of idle time.
func (s *Service) InitSession(ctx context.Context, entityID, userID string, force bool) error {
	reason := "session_boundary"
	if !force {
		info, err := s.GetSessionInfo(ctx, entityID, userID)
		if err != nil {
			return err
		}
		if !info.Idle {
			return nil
		}
	} else {
		reason = "forced"
	}

	if err := s.hot.ClearEpisodic(ctx, entityID, userID); err != nil {
		return err
	}

	state, err := s.hot.GetExpressionState(ctx, entityID, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if state == nil {
		state = &models.ExpressionState{}
	}
	state.SessionStartTimestamp = now
	if err := s.hot.SetExpressionState(ctx, entityID, userID, state); err != nil {
		return err
	}

	observability.EmitSessionState(&observability.SessionStateEvent{
		EntityID:  entityID,
		SessionID: userID,
		PrevState: observability.SessionStateIdle,
		State:     observability.SessionStateProcessing,
		Reason:    reason,
	})
	return nil
}

// GetSessionInfo reports the entity/user's current session timestamps
// and whether the pair is idle past the session boundary.
func (s *Service) GetSessionInfo(ctx context.Context, entityID, userID string) (*SessionInfo, error) {
	state, err := s.hot.GetExpressionState(ctx, entityID, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, "continuity.GetSessionInfo", err)
	}
	if state == nil {
		return &SessionInfo{Idle: true}, nil
	}
	idle := state.LastInteractionTime.IsZero() || time.Since(state.LastInteractionTime) > s.idleThreshold
	return &SessionInfo{
		SessionStartTimestamp: state.SessionStartTimestamp,
		LastInteractionTime:   state.LastInteractionTime,
		Idle:                  idle,
	}, nil
}
