package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/cortexd/runtime/pkg/models"
)

// format renders the headed-section context block an entity's system
// prompt is built around: Relational Context, Expression State, Recent
// Turns, Retrieved Memories. Sections with nothing to say are omitted
// rather than emitted empty.
func format(narrative string, expression *models.ExpressionState, turns []models.EpisodicTurn, retrieved []*models.MemoryNode, anchors, artifacts []string) string {
	var b strings.Builder

	if strings.TrimSpace(narrative) != "" {
		b.WriteString("## Relational Context\n")
		b.WriteString(narrative)
		b.WriteString("\n\n")
	}

	if expression != nil {
		b.WriteString("## Expression State\n")
		if expression.BasePersonality != "" {
			fmt.Fprintf(&b, "Base personality: %s\n", expression.BasePersonality)
		}
		if len(expression.SituationalAdjustments) > 0 {
			fmt.Fprintf(&b, "Situational adjustments: %s\n", strings.Join(expression.SituationalAdjustments, ", "))
		}
		fmt.Fprintf(&b, "Emotional resonance: valence=%.2f intensity=%.2f\n", expression.EmotionalResonance.Valence, expression.EmotionalResonance.Intensity)
		if expression.LastInteractionTone != "" {
			fmt.Fprintf(&b, "Last interaction tone: %s\n", expression.LastInteractionTone)
		}
		b.WriteString("\n")
	}

	if len(turns) > 0 {
		b.WriteString("## Recent Turns\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
		b.WriteString("\n")
	}

	if len(retrieved) > 0 {
		b.WriteString("## Retrieved Memories\n")
		for _, n := range retrieved {
			fmt.Fprintf(&b, "- [%s, importance=%d] %s\n", n.Type, n.Importance, n.Content)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
