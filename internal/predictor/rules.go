package predictor

import (
	"context"
	"fmt"
)

// RuleScorer is the threshold-based fallback coach. It is selected when no
// trained model is configured and never reports its own confidence.
type RuleScorer struct{}

// NewRuleScorer returns the rule-based strategy.
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{}
}

var ruleInputs = []string{"ratio", "extractionTime", "temperature", "daysPastRoast", "flowRate", "prepQualityScore"}

// Name implements Scorer.
func (r *RuleScorer) Name() string {
	return "rules"
}

// Features implements Scorer.
func (r *RuleScorer) Features() []string {
	return ruleInputs
}

// Score implements Scorer.
func (r *RuleScorer) Score(ctx context.Context, values []float64) (RawScore, error) {
	if len(values) != len(ruleInputs) {
		return RawScore{}, fmt.Errorf("expected %d inputs, got %d", len(ruleInputs), len(values))
	}
	ratio, tm, temp, days, flow, prep := values[0], values[1], values[2], values[3], values[4], values[5]

	score := 7.0
	if ratio < 1.8 || ratio > 2.5 {
		score -= 1
	}
	switch {
	case tm < 20 || tm > 40:
		score -= 2.5
	case tm < 25 || tm > 32:
		score -= 1
	}
	if temp < 90 || temp > 96 {
		score -= 0.5
	}
	if days > 21 {
		score -= 1
	} else if days < 4 {
		score -= 0.5
	}
	if flow > 2 {
		score -= 1
	}
	score += prep

	return RawScore{Score: score}, nil
}
