/*
Package predictor scores a shot's feature vector on the 0-10 quality scale.

The trained model itself is an external artifact or process. A Predictor
assembles the ordered input the model expects, enforces a timeout, clamps
the result into [0, 10], and degrades to a neutral score when the model
cannot answer. Callers always get a usable Prediction.
*/
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/khanglvm/espresso-dialin/internal/feature"
)

// ErrModelUnavailable reports that the scoring backend failed, timed out,
// or produced a non-finite score.
var ErrModelUnavailable = errors.New("model unavailable")

const (
	// NeutralScore is returned when the model cannot produce a score.
	NeutralScore = 5.0

	// SourceNeutral marks a degraded prediction.
	SourceNeutral = "neutral"
)

// RawScore is what a scoring backend returns before sanitization.
type RawScore struct {
	Score float64
	// Confidence is nil when the backend does not report one.
	Confidence *float64
}

// Scorer is one scoring strategy (trained model, process, or rules).
type Scorer interface {
	// Name identifies the strategy in predictions and logs.
	Name() string

	// Features lists the ordered input names Score expects.
	// A nil slice means feature.Names().
	Features() []string

	// Score evaluates one ordered input vector.
	Score(ctx context.Context, values []float64) (RawScore, error)
}

// Contribution is one input's share of a linear score.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Scaled       float64 `json:"scaled"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Explainer is implemented by scorers that can attribute a score to their
// inputs.
type Explainer interface {
	Explain(values []float64) ([]Contribution, error)
}

// ShotCounter reports how much recent shot data exists.
type ShotCounter interface {
	CountShotsSince(ctx context.Context, since time.Time) (int, error)
}

// Prediction is the sanitized output of Predict.
type Prediction struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Degraded   bool    `json:"degraded"`

	// Err keeps the absorbed backend failure for logging; it is never fatal.
	Err error `json:"-"`
}

// Config holds predictor tuning.
type Config struct {
	// Timeout bounds a single model call.
	Timeout time.Duration

	// ConfidenceCeiling caps the data-volume confidence heuristic.
	ConfidenceCeiling float64

	// ConfidenceSaturation is the recent shot count that reaches the ceiling.
	ConfidenceSaturation float64

	// RecentWindow is how far back shots count toward confidence.
	RecentWindow time.Duration

	// Logger for degraded predictions (optional).
	Logger *slog.Logger
}

// DefaultConfig returns the predictor defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:              2 * time.Second,
		ConfidenceCeiling:    0.9,
		ConfidenceSaturation: 50,
		RecentWindow:         30 * 24 * time.Hour,
		Logger:               slog.Default(),
	}
}

// Predictor wraps a Scorer with input assembly and output sanitization.
type Predictor struct {
	scorer Scorer
	shots  ShotCounter
	cfg    Config
	now    func() time.Time
}

// New creates a Predictor. shots may be nil, in which case the heuristic
// confidence only reflects input reasonableness.
func New(scorer Scorer, shots ShotCounter, cfg Config) *Predictor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfidenceCeiling <= 0 || cfg.ConfidenceCeiling > 1 {
		cfg.ConfidenceCeiling = 0.9
	}
	if cfg.ConfidenceSaturation <= 0 {
		cfg.ConfidenceSaturation = 50
	}
	return &Predictor{scorer: scorer, shots: shots, cfg: cfg, now: time.Now}
}

// ScorerName returns the configured strategy name.
func (p *Predictor) ScorerName() string {
	if p.scorer == nil {
		return SourceNeutral
	}
	return p.scorer.Name()
}

// Predict scores fv. Backend failures are absorbed into a neutral prediction.
func (p *Predictor) Predict(ctx context.Context, fv feature.FeatureVector) Prediction {
	raw, err := p.invoke(ctx, fv)
	if err == nil && (math.IsNaN(raw.Score) || math.IsInf(raw.Score, 0)) {
		err = fmt.Errorf("%w: non-finite score %v", ErrModelUnavailable, raw.Score)
	}
	if err != nil {
		p.cfg.Logger.Warn("quality prediction degraded to neutral score",
			"source", p.ScorerName(), "error", err)
		return Prediction{
			Score:      NeutralScore,
			Confidence: 0,
			Source:     SourceNeutral,
			Degraded:   true,
			Err:        err,
		}
	}

	confidence := p.heuristicConfidence(ctx, fv)
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) && !math.IsInf(*raw.Confidence, 0) {
		confidence = clamp(*raw.Confidence, 0, 1)
	}

	return Prediction{
		Score:      round2(clamp(raw.Score, 0, 10)),
		Confidence: round2(confidence),
		Source:     p.scorer.Name(),
	}
}

// Explain attributes the score of fv to the scorer's inputs, largest
// magnitude first. It returns nil when the scorer cannot explain itself or
// the input cannot be assembled.
func (p *Predictor) Explain(fv feature.FeatureVector) []Contribution {
	ex, ok := p.scorer.(Explainer)
	if !ok {
		return nil
	}
	values, err := fv.Assemble(p.inputNames())
	if err != nil {
		return nil
	}
	out, err := ex.Explain(values)
	if err != nil {
		p.cfg.Logger.Warn("score explanation unavailable", "source", p.ScorerName(), "error", err)
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	return out
}

func (p *Predictor) inputNames() []string {
	if names := p.scorer.Features(); names != nil {
		return names
	}
	return feature.Names()
}

// invoke calls the scorer under the configured timeout. A scorer that
// ignores ctx still cannot stall the caller past the deadline.
func (p *Predictor) invoke(ctx context.Context, fv feature.FeatureVector) (RawScore, error) {
	if p.scorer == nil {
		return RawScore{}, fmt.Errorf("%w: no scorer configured", ErrModelUnavailable)
	}

	values, err := fv.Assemble(p.inputNames())
	if err != nil {
		return RawScore{}, fmt.Errorf("%w: assembling input: %v", ErrModelUnavailable, err)
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	type result struct {
		raw RawScore
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := p.scorer.Score(ctx, values)
		done <- result{raw, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return RawScore{}, fmt.Errorf("%w: %w", ErrModelUnavailable, r.err)
		}
		return r.raw, nil
	case <-ctx.Done():
		return RawScore{}, fmt.Errorf("%w: %w", ErrModelUnavailable, ctx.Err())
	}
}

// heuristicConfidence grows with recent shot volume up to the ceiling and
// shrinks by 10% for each input outside the usual espresso window.
func (p *Predictor) heuristicConfidence(ctx context.Context, fv feature.FeatureVector) float64 {
	recent := 0
	if p.shots != nil {
		n, err := p.shots.CountShotsSince(ctx, p.now().Add(-p.cfg.RecentWindow))
		if err != nil {
			p.cfg.Logger.Warn("counting recent shots failed", "error", err)
		} else {
			recent = n
		}
	}

	conf := math.Min(float64(recent)/p.cfg.ConfidenceSaturation, p.cfg.ConfidenceCeiling)

	if fv.GrindSize < 5 || fv.GrindSize > 20 {
		conf *= 0.9
	}
	if fv.Temperature < 88 || fv.Temperature > 96 {
		conf *= 0.9
	}
	if fv.ExtractionTime < 20 || fv.ExtractionTime > 40 {
		conf *= 0.9
	}

	return conf
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
