package predictor

import (
	"context"
	"fmt"
	"math"

	"github.com/khanglvm/espresso-dialin/internal/feature"
	"github.com/khanglvm/espresso-dialin/internal/spawner"
)

// predictClient is the slice of spawner.Process the scorer needs.
type predictClient interface {
	Predict(ctx context.Context, req spawner.PredictRequest) (spawner.PredictResponse, error)
}

// ProcessScorer delegates scoring to an external model process.
type ProcessScorer struct {
	client predictClient
	inputs []string
}

// NewProcessScorer sends inputs (nil = every feature) to client.
func NewProcessScorer(client predictClient, inputs []string) *ProcessScorer {
	return &ProcessScorer{client: client, inputs: inputs}
}

// Name implements Scorer.
func (p *ProcessScorer) Name() string {
	return "process"
}

// Features implements Scorer.
func (p *ProcessScorer) Features() []string {
	return p.inputs
}

// Score implements Scorer.
func (p *ProcessScorer) Score(ctx context.Context, values []float64) (RawScore, error) {
	names := p.inputs
	if names == nil {
		names = feature.Names()
	}

	resp, err := p.client.Predict(ctx, spawner.PredictRequest{Features: names, Values: values})
	if err != nil {
		return RawScore{}, err
	}
	if resp.Score == nil {
		return RawScore{Score: math.NaN()}, fmt.Errorf("model process returned no score")
	}
	return RawScore{Score: *resp.Score, Confidence: resp.Confidence}, nil
}
