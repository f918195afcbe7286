package synthesis

import (
	"context"
	"fmt"

	"github.com/cortexd/runtime/pkg/models"
)

const emaAlpha = 0.3
const trendSignalThreshold = 0.01

// updateResonance derives this synthesis run's resonance signals from
// the nodes it just wrote, blends them into the entity/user's prior
// metrics with an EMA, derives a trend, and persists the result.
func (s *Synthesizer) updateResonance(ctx context.Context, entityID, userID string, written []*models.MemoryNode) error {
	current := deriveResonance(written)

	prior, err := s.hot.GetResonanceMetrics(ctx, entityID, userID)
	if err != nil {
		return fmt.Errorf("synthesis: read resonance metrics: %w", err)
	}
	if prior == nil {
		prior = &models.ResonanceMetrics{Trend: models.TrendUnknown}
	}

	blended := blendResonance(*prior, current, emaAlpha)
	blended.Trend = deriveTrend(*prior, blended)

	if err := s.hot.SetResonanceMetrics(ctx, entityID, userID, &blended); err != nil {
		return fmt.Errorf("synthesis: write resonance metrics: %w", err)
	}
	return nil
}

// deriveResonance computes this synthesis run's raw signal values from
// the nodes it produced: the fraction that are anchors, the fraction
// that are shorthand, the spread of emotional valence among anchors
// carrying an emotional state, and the fraction with positive valence.
func deriveResonance(nodes []*models.MemoryNode) models.ResonanceMetrics {
	if len(nodes) == 0 {
		return models.ResonanceMetrics{}
	}

	var anchors, shorthand, withEmotion, positive int
	var minV, maxV float64
	first := true
	for _, n := range nodes {
		switch n.Type {
		case models.NodeAnchor:
			anchors++
		case models.NodeShorthand:
			shorthand++
		}
		if n.EmotionalState != nil {
			withEmotion++
			v := n.EmotionalState.Valence
			if first {
				minV, maxV = v, v
				first = false
			}
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
			if v > 0 {
				positive++
			}
		}
	}

	m := models.ResonanceMetrics{
		AnchorRate:    float64(anchors) / float64(len(nodes)),
		ShorthandRate: float64(shorthand) / float64(len(nodes)),
	}
	if withEmotion > 0 {
		m.EmotionalRange = maxV - minV
		m.AttunementRatio = float64(positive) / float64(withEmotion)
	}
	return m
}

// blendResonance applies an exponential moving average, field by
// field, between the prior blended metrics and this run's raw signal.
func blendResonance(prior, current models.ResonanceMetrics, alpha float64) models.ResonanceMetrics {
	return models.ResonanceMetrics{
		AnchorRate:      ema(prior.AnchorRate, current.AnchorRate, alpha),
		ShorthandRate:   ema(prior.ShorthandRate, current.ShorthandRate, alpha),
		EmotionalRange:  ema(prior.EmotionalRange, current.EmotionalRange, alpha),
		AttunementRatio: ema(prior.AttunementRatio, current.AttunementRatio, alpha),
	}
}

func ema(prior, current, alpha float64) float64 {
	return prior*(1-alpha) + current*alpha
}

// deriveTrend compares the blended metrics against their prior values
// across three signals (anchor rate, emotional range, attunement
// ratio); warming needs at least two moving up past the threshold,
// cooling at least two moving down, otherwise stable.
func deriveTrend(prior, blended models.ResonanceMetrics) models.Trend {
	deltas := []float64{
		blended.AnchorRate - prior.AnchorRate,
		blended.EmotionalRange - prior.EmotionalRange,
		blended.AttunementRatio - prior.AttunementRatio,
	}
	up, down := 0, 0
	for _, d := range deltas {
		if d > trendSignalThreshold {
			up++
		} else if d < -trendSignalThreshold {
			down++
		}
	}
	switch {
	case up >= 2:
		return models.TrendWarming
	case down >= 2:
		return models.TrendCooling
	default:
		return models.TrendStable
	}
}
