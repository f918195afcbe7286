package hotmem

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cortexd/runtime/pkg/models"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := newCipher(cfg.EncryptionKey)
	if err != nil {
		t.Fatalf("newCipher: %v", err)
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "cortex"
	}
	return &Store{
		client:    redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		namespace: namespace,
		cipher:    c,
	}
}

func TestAppendTurnTrimsToMaxTurns(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		turn := models.EpisodicTurn{Role: "user", Content: "msg", Timestamp: time.Now()}
		if err := s.AppendTurn(ctx, "e1", "u1", turn, 3); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "e1", "u1", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3 after trim", len(turns))
	}
}

func TestActiveContextRoundTripsAndExpires(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	cache := &models.ActiveContextCache{NarrativeContext: "a story", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.SetActiveContext(ctx, "e1", "u1", cache); err != nil {
		t.Fatalf("SetActiveContext: %v", err)
	}
	got, err := s.GetActiveContext(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetActiveContext: %v", err)
	}
	if got == nil || got.NarrativeContext != "a story" {
		t.Fatalf("got %+v, want narrative_context=\"a story\"", got)
	}
}

func TestEncryptedStoreRoundTrips(t *testing.T) {
	s := newTestStore(t, Config{EncryptionKey: "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="})
	ctx := context.Background()

	state := &models.ExpressionState{BasePersonality: "warm"}
	if err := s.SetExpressionState(ctx, "e1", "u1", state); err != nil {
		t.Fatalf("SetExpressionState: %v", err)
	}

	raw, err := s.client.Get(ctx, s.key("expression", "e1", "u1")).Result()
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw == "" {
		t.Fatalf("expected non-empty sealed value")
	}

	got, err := s.GetExpressionState(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetExpressionState: %v", err)
	}
	if got == nil || got.BasePersonality != "warm" {
		t.Fatalf("got %+v, want base_personality=warm", got)
	}
}

func TestMarkPulsePendingIsExclusive(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	first, err := s.MarkPulsePending(ctx, "e1", "u1", time.Minute)
	if err != nil {
		t.Fatalf("MarkPulsePending: %v", err)
	}
	if !first {
		t.Fatalf("expected first mark to succeed")
	}
	second, err := s.MarkPulsePending(ctx, "e1", "u1", time.Minute)
	if err != nil {
		t.Fatalf("MarkPulsePending: %v", err)
	}
	if second {
		t.Fatalf("expected second mark to be rejected while first is pending")
	}

	if err := s.ClearPulsePending(ctx, "e1", "u1"); err != nil {
		t.Fatalf("ClearPulsePending: %v", err)
	}
	third, err := s.MarkPulsePending(ctx, "e1", "u1", time.Minute)
	if err != nil {
		t.Fatalf("MarkPulsePending: %v", err)
	}
	if !third {
		t.Fatalf("expected mark to succeed again after clear")
	}
}

func TestResonanceMetricsRoundTrips(t *testing.T) {
	s := newTestStore(t, Config{})
	ctx := context.Background()

	none, err := s.GetResonanceMetrics(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetResonanceMetrics: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil metrics before any synthesis has run")
	}

	m := &models.ResonanceMetrics{AnchorRate: 0.4, EmotionalRange: 0.6, AttunementRatio: 0.8, Trend: models.TrendWarming}
	if err := s.SetResonanceMetrics(ctx, "e1", "u1", m); err != nil {
		t.Fatalf("SetResonanceMetrics: %v", err)
	}
	got, err := s.GetResonanceMetrics(ctx, "e1", "u1")
	if err != nil {
		t.Fatalf("GetResonanceMetrics: %v", err)
	}
	if got == nil || got.Trend != models.TrendWarming || got.AnchorRate != 0.4 {
		t.Fatalf("unexpected round-tripped metrics: %+v", got)
	}
}
