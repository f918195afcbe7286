package continuity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cortexd/runtime/internal/continuity/hotmem"
	"github.com/cortexd/runtime/pkg/models"
)

func newTestHot(t *testing.T) *hotmem.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := hotmem.New(context.Background(), hotmem.Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("hotmem.New: %v", err)
	}
	return store
}

type fakeSynth struct {
	turnCalls, sessionCalls, deepCalls int
}

func (f *fakeSynth) RunTurnSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn) {
	f.turnCalls++
}
func (f *fakeSynth) RunSessionSynthesis(ctx context.Context, entityID, userID string, turns []models.EpisodicTurn) {
	f.sessionCalls++
}
func (f *fakeSynth) RunDeepSynthesis(ctx context.Context, entityID, userID string) {
	f.deepCalls++
}

func TestRecordTurnStartsNewSessionWhenIdle(t *testing.T) {
	hot := newTestHot(t)
	svc := New(hot, nil, nil, nil, WithIdleThreshold(time.Hour))
	ctx := context.Background()

	stale := &models.ExpressionState{
		BasePersonality:     "warm",
		LastInteractionTime: time.Now().Add(-2 * time.Hour),
	}
	if err := hot.SetExpressionState(ctx, "e1", "u1", stale); err != nil {
		t.Fatalf("SetExpressionState: %v", err)
	}
	if err := hot.AppendTurn(ctx, "e1", "u1", models.EpisodicTurn{Role: "user", Content: "old"}, 50); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := svc.RecordTurn(ctx, "e1", "u1", models.EpisodicTurn{Role: "user", Content: "hello again", Timestamp: time.Now()}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}

	turns, err := hot.RecentTurns(ctx, "e1", "u1", 50)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "hello again" {
		t.Fatalf("expected the stale episodic stream to be cleared before recording the new turn, got %+v", turns)
	}

	state, err := hot.GetExpressionState(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetExpressionState: %v", err)
	}
	if state.BasePersonality != "warm" {
		t.Fatalf("expected base personality to survive the session boundary, got %q", state.BasePersonality)
	}
}

func TestRecordTurnWithinSessionDoesNotClearEpisodic(t *testing.T) {
	hot := newTestHot(t)
	svc := New(hot, nil, nil, nil, WithIdleThreshold(4*time.Hour))
	ctx := context.Background()

	if err := hot.AppendTurn(ctx, "e1", "u1", models.EpisodicTurn{Role: "user", Content: "first"}, 50); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := hot.SetExpressionState(ctx, "e1", "u1", &models.ExpressionState{LastInteractionTime: time.Now()}); err != nil {
		t.Fatalf("SetExpressionState: %v", err)
	}

	if err := svc.RecordTurn(ctx, "e1", "u1", models.EpisodicTurn{Role: "assistant", Content: "second", Timestamp: time.Now()}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}

	turns, err := hot.RecentTurns(ctx, "e1", "u1", 50)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected both turns to survive a same-session record, got %d", len(turns))
	}
}

func TestGetSessionInfoReportsIdleWithNoPriorState(t *testing.T) {
	hot := newTestHot(t)
	svc := New(hot, nil, nil, nil)
	info, err := svc.GetSessionInfo(context.Background(), "e1", "u1")
	if err != nil {
		t.Fatalf("GetSessionInfo: %v", err)
	}
	if !info.Idle {
		t.Fatal("expected a pair with no recorded state to be reported idle")
	}
}

func TestTriggerSynthesisDebouncesConcurrentCalls(t *testing.T) {
	hot := newTestHot(t)
	synth := &fakeSynth{}
	svc := New(hot, nil, nil, synth, WithPulseTTL(time.Minute))
	ctx := context.Background()

	svc.TriggerSynthesis(ctx, "e1", "u1", "turn")
	svc.TriggerSynthesis(ctx, "e1", "u1", "turn")

	deadline := time.Now().Add(2 * time.Second)
	for synth.turnCalls == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if synth.turnCalls != 1 {
		t.Fatalf("expected the second trigger to be dropped by the debounce, got %d calls", synth.turnCalls)
	}
}

func TestForgetUserClearsHotState(t *testing.T) {
	hot := newTestHot(t)
	svc := New(hot, nil, nil, nil)
	ctx := context.Background()

	if err := hot.AppendTurn(ctx, "e1", "u1", models.EpisodicTurn{Role: "user", Content: "secret"}, 50); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := hot.SetExpressionState(ctx, "e1", "u1", &models.ExpressionState{BasePersonality: "warm"}); err != nil {
		t.Fatalf("SetExpressionState: %v", err)
	}
	if err := hot.SetActiveContext(ctx, "e1", "u1", &models.ActiveContextCache{NarrativeContext: "cached", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("SetActiveContext: %v", err)
	}

	if _, _, err := svc.ForgetUser(ctx, "e1", "u1"); err != nil {
		t.Fatalf("ForgetUser: %v", err)
	}

	turns, err := hot.RecentTurns(ctx, "e1", "u1", 50)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected episodic stream to be cleared, got %d turns", len(turns))
	}
	state, err := hot.GetExpressionState(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetExpressionState: %v", err)
	}
	if state != nil {
		t.Fatalf("expected expression state to be reset, got %+v", state)
	}
	active, err := hot.GetActiveContext(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetActiveContext: %v", err)
	}
	if active != nil {
		t.Fatalf("expected active context to be invalidated, got %+v", active)
	}
}

func TestInitSessionForcePreservesBasePersonality(t *testing.T) {
	hot := newTestHot(t)
	svc := New(hot, nil, nil, nil)
	ctx := context.Background()

	if err := hot.SetExpressionState(ctx, "e1", "u1", &models.ExpressionState{BasePersonality: "curious", LastInteractionTime: time.Now()}); err != nil {
		t.Fatalf("SetExpressionState: %v", err)
	}
	if err := hot.AppendTurn(ctx, "e1", "u1", models.EpisodicTurn{Role: "user", Content: "x"}, 50); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := svc.InitSession(ctx, "e1", "u1", true); err != nil {
		t.Fatalf("InitSession: %v", err)
	}

	turns, err := hot.RecentTurns(ctx, "e1", "u1", 50)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected forced InitSession to clear episodic turns, got %d", len(turns))
	}
	state, err := hot.GetExpressionState(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetExpressionState: %v", err)
	}
	if state.BasePersonality != "curious" {
		t.Fatalf("expected base personality to survive a forced session reset, got %q", state.BasePersonality)
	}
}
