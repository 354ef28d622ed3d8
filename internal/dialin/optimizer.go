package dialin

import (
	"context"
	"math"

	"github.com/khanglvm/espresso-dialin/internal/spawner"
)

type suggestClient interface {
	Suggest(ctx context.Context, req spawner.SuggestRequest) (spawner.SuggestResponse, error)
}

// ProcessOptimizer asks an external model process for the next parameters.
type ProcessOptimizer struct {
	client suggestClient
}

// NewProcessOptimizer wraps a spawner client as an Optimizer.
func NewProcessOptimizer(client suggestClient) *ProcessOptimizer {
	return &ProcessOptimizer{client: client}
}

// Suggest implements Optimizer.
func (o *ProcessOptimizer) Suggest(ctx context.Context, q SuggestQuery) (Params, error) {
	history := make([]spawner.TrialPoint, 0, len(q.Trials))
	for _, t := range q.Trials {
		history = append(history, spawner.TrialPoint{
			TrialNumber: t.TrialNumber,
			Grind:       t.Grind,
			Dose:        t.Dose,
			TargetTime:  t.TargetTime,
			Score:       t.ObservedScore,
		})
	}

	resp, err := o.client.Suggest(ctx, spawner.SuggestRequest{
		Study:  q.Study,
		Method: q.Method,
		Space: spawner.SearchSpace{
			Grind: spawner.Range(q.Bounds.Grind),
			Dose:  spawner.Range(q.Bounds.Dose),
			TargetTime: spawner.Range{
				Min:  math.Max(q.Bounds.Time.Min, q.Profile.TimeMin),
				Max:  math.Min(q.Bounds.Time.Max, q.Profile.TimeMax),
				Step: q.Bounds.Time.Step,
			},
		},
		History: history,
	})
	if err != nil {
		return Params{}, err
	}
	return Params{Grind: resp.Grind, Dose: resp.Dose, TargetTime: resp.TargetTime}, nil
}
