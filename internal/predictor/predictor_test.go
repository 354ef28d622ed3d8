package predictor

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/espresso-dialin/internal/feature"
	"github.com/khanglvm/espresso-dialin/internal/shot"
	"github.com/khanglvm/espresso-dialin/internal/spawner"
)

// fixedScorer returns a canned score.
type fixedScorer struct {
	score      float64
	confidence *float64
	err        error
	delay      time.Duration
}

func (f *fixedScorer) Name() string       { return "fixed" }
func (f *fixedScorer) Features() []string { return nil }

func (f *fixedScorer) Score(ctx context.Context, values []float64) (RawScore, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return RawScore{Score: f.score, Confidence: f.confidence}, f.err
}

type countShots int

func (c countShots) CountShotsSince(ctx context.Context, since time.Time) (int, error) {
	return int(c), nil
}

func referenceVector(t *testing.T) feature.FeatureVector {
	t.Helper()
	fv, err := feature.Transform(shot.ShotRecord{
		GrindSize:      12,
		DoseIn:         18,
		WeightOut:      36,
		ExtractionTime: 28,
		Temperature:    shot.Float(93),
		RoastLevel:     shot.RoastMedium,
		ProcessMethod:  shot.ProcessWashed,
		DaysPastRoast:  10,
	})
	require.NoError(t, err)
	return fv
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	return cfg
}

func TestPredict_ClampsScore(t *testing.T) {
	fv := referenceVector(t)

	tests := []struct {
		raw  float64
		want float64
	}{
		{12.3, 10},
		{-4, 0},
		{7.456, 7.46},
	}
	for _, tt := range tests {
		p := New(&fixedScorer{score: tt.raw}, countShots(50), quietConfig())
		got := p.Predict(context.Background(), fv)
		assert.Equal(t, tt.want, got.Score, "raw=%v", tt.raw)
		assert.False(t, got.Degraded)
		assert.Equal(t, "fixed", got.Source)
	}
}

func TestPredict_NonFiniteIsNeutral(t *testing.T) {
	fv := referenceVector(t)
	for _, raw := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := New(&fixedScorer{score: raw}, countShots(50), quietConfig())
		got := p.Predict(context.Background(), fv)
		assert.Equal(t, NeutralScore, got.Score)
		assert.Equal(t, 0.0, got.Confidence)
		assert.Equal(t, SourceNeutral, got.Source)
		assert.True(t, errors.Is(got.Err, ErrModelUnavailable))
	}
}

func TestPredict_ScorerErrorIsNeutral(t *testing.T) {
	p := New(&fixedScorer{err: errors.New("boom")}, nil, quietConfig())
	got := p.Predict(context.Background(), referenceVector(t))
	assert.True(t, got.Degraded)
	assert.Equal(t, 5.0, got.Score)
	assert.True(t, errors.Is(got.Err, ErrModelUnavailable))
}

func TestPredict_TimeoutIsNeutral(t *testing.T) {
	cfg := quietConfig()
	cfg.Timeout = 20 * time.Millisecond
	p := New(&fixedScorer{score: 9, delay: 500 * time.Millisecond}, nil, cfg)

	start := time.Now()
	got := p.Predict(context.Background(), referenceVector(t))
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.True(t, got.Degraded)
	assert.True(t, errors.Is(got.Err, context.DeadlineExceeded))
}

func TestPredict_NilScorer(t *testing.T) {
	got := New(nil, nil, quietConfig()).Predict(context.Background(), referenceVector(t))
	assert.Equal(t, SourceNeutral, got.Source)
	assert.True(t, got.Degraded)
}

func TestPredict_ModelConfidenceWins(t *testing.T) {
	p := New(&fixedScorer{score: 7, confidence: shot.Float(1.7)}, countShots(0), quietConfig())
	got := p.Predict(context.Background(), referenceVector(t))
	assert.Equal(t, 1.0, got.Confidence)
}

func TestPredict_HeuristicConfidence(t *testing.T) {
	fv := referenceVector(t)

	t.Run("capped at ceiling", func(t *testing.T) {
		p := New(&fixedScorer{score: 7}, countShots(500), quietConfig())
		assert.Equal(t, 0.9, p.Predict(context.Background(), fv).Confidence)
	})

	t.Run("scales with data volume", func(t *testing.T) {
		p := New(&fixedScorer{score: 7}, countShots(20), quietConfig())
		assert.Equal(t, 0.4, p.Predict(context.Background(), fv).Confidence)
	})

	t.Run("extreme inputs reduce confidence", func(t *testing.T) {
		extreme := fv
		extreme.GrindSize = 3
		extreme.ExtractionTime = 45
		p := New(&fixedScorer{score: 7}, countShots(500), quietConfig())
		assert.Equal(t, 0.73, p.Predict(context.Background(), extreme).Confidence)
	})

	t.Run("no shot counter", func(t *testing.T) {
		p := New(&fixedScorer{score: 7}, nil, quietConfig())
		assert.Equal(t, 0.0, p.Predict(context.Background(), fv).Confidence)
	})
}

func TestPredict_Deterministic(t *testing.T) {
	fv := referenceVector(t)
	p := New(NewRuleScorer(), countShots(10), quietConfig())
	a := p.Predict(context.Background(), fv)
	b := p.Predict(context.Background(), fv)
	assert.Equal(t, a, b)
}

func TestRuleScorer(t *testing.T) {
	p := New(NewRuleScorer(), countShots(50), quietConfig())

	good := p.Predict(context.Background(), referenceVector(t))
	assert.Equal(t, "rules", good.Source)

	fast := referenceVector(t)
	fast.ExtractionTime = 12
	fast.FlowRate = 3
	bad := p.Predict(context.Background(), fast)

	assert.Greater(t, good.Score, bad.Score)
	assert.GreaterOrEqual(t, bad.Score, 0.0)
}

func TestLoadLinearModel(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"version": "v1",
		"features": ["ratio", "extractionTime"],
		"intercept": 7,
		"weights": [1, 0.5],
		"center": [2, 28],
		"scale": [0.5, 4]
	}`), 0644))

	yamlPath := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`version: v1
features: [ratio, extractionTime]
intercept: 7
weights: [1, 0.5]
center: [2, 28]
scale: [0.5, 4]
`), 0644))

	fromJSON, err := LoadLinearModel(jsonPath)
	require.NoError(t, err)
	fromYAML, err := LoadLinearModel(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)
	assert.Equal(t, "linear@v1", fromJSON.Name())

	// ratio 2.5 → +1, time 32 → +0.5
	raw, err := fromJSON.Score(context.Background(), []float64{2.5, 32})
	require.NoError(t, err)
	assert.InDelta(t, 8.5, raw.Score, 1e-9)
}

func TestLoadLinearModel_Rejects(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown feature": `{"features":["tds"],"weights":[1]}`,
		"shape mismatch":  `{"features":["ratio"],"weights":[1,2]}`,
		"zero scale":      `{"features":["ratio"],"weights":[1],"scale":[0]}`,
		"empty":           `{}`,
		"not json":        `{{`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadLinearModel(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadLinearModel(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLinearModel_ThroughPredictor(t *testing.T) {
	m := &LinearModel{Inputs: []string{"ratio"}, Intercept: 6, Weights: []float64{1}}
	require.NoError(t, m.Validate())

	got := New(m, countShots(50), quietConfig()).Predict(context.Background(), referenceVector(t))
	assert.Equal(t, 8.0, got.Score)
	assert.Equal(t, "linear", got.Source)
}

func TestLinearModel_Explain(t *testing.T) {
	m := &LinearModel{
		Inputs:    []string{"ratio", "extractionTime", "temperature"},
		Intercept: 6.8,
		Weights:   []float64{0.4, -0.05, 0.1},
		Center:    []float64{2.0, 28, 93},
		Scale:     []float64{0.5, 5, 2},
	}
	require.NoError(t, m.Validate())

	values := []float64{3.0, 33, 93}
	got, err := m.Explain(values)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "ratio", got[0].Feature)
	assert.InDelta(t, 2.0, got[0].Scaled, 1e-9)
	assert.InDelta(t, 0.8, got[0].Contribution, 1e-9)
	assert.InDelta(t, -0.05, got[1].Contribution, 1e-9)
	assert.InDelta(t, 0, got[2].Contribution, 1e-9)

	raw, err := m.Score(context.Background(), values)
	require.NoError(t, err)
	sum := m.Intercept
	for _, c := range got {
		sum += c.Contribution
	}
	assert.InDelta(t, raw.Score, sum, 1e-9)

	_, err = m.Explain([]float64{1})
	assert.Error(t, err)
}

func TestPredictor_Explain(t *testing.T) {
	m := &LinearModel{
		Inputs:    []string{"temperature", "ratio"},
		Intercept: 5,
		Weights:   []float64{0.1, 1},
	}
	p := New(m, nil, quietConfig())

	got := p.Explain(referenceVector(t))
	require.Len(t, got, 2)
	// 93 * 0.1 outweighs 2.0 * 1.
	assert.Equal(t, "temperature", got[0].Feature)
	assert.InDelta(t, 9.3, got[0].Contribution, 1e-9)
	assert.Equal(t, "ratio", got[1].Feature)
	assert.InDelta(t, 2.0, got[1].Contribution, 1e-9)

	assert.Nil(t, New(&fixedScorer{score: 7}, nil, quietConfig()).Explain(referenceVector(t)))
	assert.Nil(t, New(nil, nil, quietConfig()).Explain(referenceVector(t)))
}

type fakeClient struct {
	resp spawner.PredictResponse
	err  error
	got  spawner.PredictRequest
}

func (f *fakeClient) Predict(ctx context.Context, req spawner.PredictRequest) (spawner.PredictResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestProcessScorer(t *testing.T) {
	client := &fakeClient{resp: spawner.PredictResponse{Score: shot.Float(6.5), Confidence: shot.Float(0.8)}}
	p := New(NewProcessScorer(client, nil), nil, quietConfig())

	got := p.Predict(context.Background(), referenceVector(t))
	assert.Equal(t, 6.5, got.Score)
	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, feature.Names(), client.got.Features)
	assert.Len(t, client.got.Values, len(feature.Names()))
}

func TestProcessScorer_Failures(t *testing.T) {
	for name, client := range map[string]*fakeClient{
		"error":    {err: errors.New("pipe closed")},
		"no score": {},
	} {
		t.Run(name, func(t *testing.T) {
			got := New(NewProcessScorer(client, nil), nil, quietConfig()).Predict(context.Background(), referenceVector(t))
			assert.True(t, got.Degraded)
			assert.Equal(t, NeutralScore, got.Score)
		})
	}
}
