package synthesis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cortexd/runtime/pkg/models"
)

type fakeCold struct {
	upserted []*models.MemoryNode
	deleted  []string
	anchors  []*models.MemoryNode
}

func (f *fakeCold) Upsert(ctx context.Context, nodes []*models.MemoryNode) error {
	f.upserted = append(f.upserted, nodes...)
	return nil
}
func (f *fakeCold) GetByType(ctx context.Context, entityID, userID string, types []models.NodeType) ([]*models.MemoryNode, error) {
	return f.anchors, nil
}
func (f *fakeCold) GetTopByImportance(ctx context.Context, entityID, userID string, types []models.NodeType, limit int, minImportance int) ([]*models.MemoryNode, error) {
	return f.anchors, nil
}
func (f *fakeCold) DeleteMemories(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeHot struct {
	expression *models.ExpressionState
	resonance  *models.ResonanceMetrics
	invalidated int
}

func (f *fakeHot) GetExpressionState(ctx context.Context, entityID, userID string) (*models.ExpressionState, error) {
	return f.expression, nil
}
func (f *fakeHot) SetExpressionState(ctx context.Context, entityID, userID string, state *models.ExpressionState) error {
	f.expression = state
	return nil
}
func (f *fakeHot) GetResonanceMetrics(ctx context.Context, entityID, userID string) (*models.ResonanceMetrics, error) {
	return f.resonance, nil
}
func (f *fakeHot) SetResonanceMetrics(ctx context.Context, entityID, userID string, m *models.ResonanceMetrics) error {
	f.resonance = m
	return nil
}
func (f *fakeHot) InvalidateActiveContext(ctx context.Context, entityID, userID string) error {
	f.invalidated++
	return nil
}

type fakeCatalog struct {
	pathways map[string]*models.Pathway
}

func (f *fakeCatalog) Resolve(name string) (*models.Pathway, bool) {
	p, ok := f.pathways[name]
	return p, ok
}

type scriptedInvoker struct {
	responses map[string]string
}

func (s *scriptedInvoker) Invoke(ctx context.Context, p *models.Pathway, args map[string]any) (string, error) {
	return s.responses[p.Name], nil
}

func namedPathway(name string) *models.Pathway { return &models.Pathway{Name: name} }

func TestRunTurnSynthesisFiltersAndMapsResult(t *testing.T) {
	turnResult := TurnResult{
		RelationalInsights: []RelationalInsight{
			{Content: "kept: high importance", Valence: 0.5, Importance: 8},
			{Content: "dropped: low importance", Valence: 0.1, Importance: 3},
		},
		TopicResonance: []TopicResonance{
			{Topic: "career", Feeling: "excited", Conclusion: "wants to switch fields"},
			{Topic: "weather", Feeling: "neutral"},
		},
		ExpressionAdjustment: &ExpressionAdjustment{SuggestedTone: "warmer", Reason: "user shared something vulnerable"},
	}
	payload, _ := json.Marshal(turnResult)

	cold := &fakeCold{}
	hot := &fakeHot{}
	catalog := &fakeCatalog{pathways: map[string]*models.Pathway{"synthesis-turn": namedPathway("synthesis-turn")}}
	invoker := &scriptedInvoker{responses: map[string]string{"synthesis-turn": string(payload)}}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(cold, hot, catalog, invoker, Config{}, WithNow(func() time.Time { return now }))

	s.RunTurnSynthesis(context.Background(), "e1", "u1", []models.EpisodicTurn{{Role: "user", Content: "hi"}})

	if len(cold.upserted) != 2 {
		t.Fatalf("expected 2 nodes written (1 insight + 1 topic), got %d: %+v", len(cold.upserted), cold.upserted)
	}
	var sawAnchor, sawArtifact bool
	for _, n := range cold.upserted {
		if n.Type == models.NodeAnchor && n.Content == "kept: high importance" {
			sawAnchor = true
		}
		if n.Type == models.NodeArtifact {
			sawArtifact = true
		}
	}
	if !sawAnchor {
		t.Fatal("expected the high-importance insight to become an ANCHOR node")
	}
	if !sawArtifact {
		t.Fatal("expected the concluded topic to become an ARTIFACT node")
	}
	if hot.expression == nil || hot.expression.LastInteractionTone != "warmer" {
		t.Fatalf("expected expression state to be updated with the suggested tone, got %+v", hot.expression)
	}
	if hot.invalidated != 1 {
		t.Fatalf("expected active context to be invalidated once memory was written, got %d", hot.invalidated)
	}
}

func TestRunTurnSynthesisSwallowsPathwayFailure(t *testing.T) {
	cold := &fakeCold{}
	hot := &fakeHot{}
	catalog := &fakeCatalog{pathways: map[string]*models.Pathway{}}
	invoker := &scriptedInvoker{responses: map[string]string{}}
	s := New(cold, hot, catalog, invoker, Config{})

	// Should not panic even though the pathway is unregistered.
	s.RunTurnSynthesis(context.Background(), "e1", "u1", nil)

	if len(cold.upserted) != 0 {
		t.Fatalf("expected no writes when the pathway is missing, got %d", len(cold.upserted))
	}
}

func TestMergeNearDuplicatesKeepsHigherImportance(t *testing.T) {
	cold := &fakeCold{}
	hot := &fakeHot{}
	s := New(cold, hot, &fakeCatalog{pathways: map[string]*models.Pathway{}}, &scriptedInvoker{}, Config{DuplicateCosine: 0.9})

	a := &models.MemoryNode{ID: "a", Importance: 5, ContentVector: []float32{1, 0, 0}}
	b := &models.MemoryNode{ID: "b", Importance: 9, ContentVector: []float32{1, 0, 0}}

	surviving, deleted, err := s.mergeNearDuplicates(context.Background(), []*models.MemoryNode{a, b})
	if err != nil {
		t.Fatalf("mergeNearDuplicates: %v", err)
	}
	if len(surviving) != 1 || surviving[0].ID != "b" {
		t.Fatalf("expected only the higher-importance node to survive, got %+v", surviving)
	}
	if len(deleted) != 1 || deleted[0] != "a" {
		t.Fatalf("expected the lower-importance node to be deleted, got %v", deleted)
	}
}

func TestDeriveTrendWarmingNeedsTwoOfThree(t *testing.T) {
	prior := models.ResonanceMetrics{AnchorRate: 0.2, EmotionalRange: 0.2, AttunementRatio: 0.2}
	blended := models.ResonanceMetrics{AnchorRate: 0.4, EmotionalRange: 0.4, AttunementRatio: 0.2}
	if got := deriveTrend(prior, blended); got != models.TrendWarming {
		t.Fatalf("expected warming with 2-of-3 signals up, got %s", got)
	}
}

func TestDeriveTrendStableWhenSignalsSplit(t *testing.T) {
	prior := models.ResonanceMetrics{AnchorRate: 0.2, EmotionalRange: 0.2, AttunementRatio: 0.2}
	blended := models.ResonanceMetrics{AnchorRate: 0.4, EmotionalRange: 0.1, AttunementRatio: 0.2}
	if got := deriveTrend(prior, blended); got != models.TrendStable {
		t.Fatalf("expected stable with only 1-of-3 signals moving, got %s", got)
	}
}

func TestRunSessionSynthesisUpdatesExistingAnchorInstead(t *testing.T) {
	existing := &models.MemoryNode{ID: "anchor-1", Content: "old phrasing", Importance: 7}
	cold := &fakeCold{anchors: []*models.MemoryNode{existing}}
	hot := &fakeHot{}

	sessionResult := SessionResult{
		AnchorUpdates: []AnchorUpdate{{ID: "anchor-1", Content: "refined phrasing"}},
	}
	payload, _ := json.Marshal(sessionResult)
	catalog := &fakeCatalog{pathways: map[string]*models.Pathway{"synthesis-session": namedPathway("synthesis-session")}}
	invoker := &scriptedInvoker{responses: map[string]string{"synthesis-session": string(payload)}}

	s := New(cold, hot, catalog, invoker, Config{})
	s.RunSessionSynthesis(context.Background(), "e1", "u1", nil)

	if len(cold.upserted) != 1 {
		t.Fatalf("expected exactly one upsert for the anchor update, got %d", len(cold.upserted))
	}
	if cold.upserted[0].ID != "anchor-1" || cold.upserted[0].Content != "refined phrasing" {
		t.Fatalf("expected the existing anchor to be refined in place, got %+v", cold.upserted[0])
	}
}

func TestRunSessionSynthesisDropsUpdateForUnknownAnchor(t *testing.T) {
	cold := &fakeCold{anchors: nil}
	hot := &fakeHot{}
	sessionResult := SessionResult{AnchorUpdates: []AnchorUpdate{{ID: "missing", Content: "x"}}}
	payload, _ := json.Marshal(sessionResult)
	catalog := &fakeCatalog{pathways: map[string]*models.Pathway{"synthesis-session": namedPathway("synthesis-session")}}
	invoker := &scriptedInvoker{responses: map[string]string{"synthesis-session": string(payload)}}

	s := New(cold, hot, catalog, invoker, Config{})
	s.RunSessionSynthesis(context.Background(), "e1", "u1", nil)

	if len(cold.upserted) != 0 {
		t.Fatalf("expected an update naming an unknown anchor to be dropped, got %d", len(cold.upserted))
	}
}
