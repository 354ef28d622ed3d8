package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/khanglvm/espresso-dialin/internal/feature"
)

// LinearModel is a trained regression artifact: a robust-scaled linear
// model over a named, ordered subset of the feature vector.
//
// Artifact schema (JSON or YAML):
//
//	version: "2024-06-01"
//	features: [ratio, extractionTime, temperature]
//	intercept: 6.8
//	weights: [0.4, -0.05, 0.1]
//	center: [2.0, 28, 93]   # optional, defaults to 0
//	scale: [0.5, 5, 2]      # optional, defaults to 1
//	confidence: 0.72        # optional model-reported confidence
type LinearModel struct {
	Version    string    `json:"version" yaml:"version"`
	Inputs     []string  `json:"features" yaml:"features"`
	Intercept  float64   `json:"intercept" yaml:"intercept"`
	Weights    []float64 `json:"weights" yaml:"weights"`
	Center     []float64 `json:"center,omitempty" yaml:"center,omitempty"`
	Scale      []float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	Confidence *float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// LoadLinearModel reads an artifact from path. The format is chosen by
// extension: .yaml/.yml for YAML, anything else as JSON.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var m LinearModel
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse model artifact %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks shape consistency and that every input is a known feature.
func (m *LinearModel) Validate() error {
	if len(m.Inputs) == 0 {
		return fmt.Errorf("no features listed")
	}
	if len(m.Weights) != len(m.Inputs) {
		return fmt.Errorf("%d weights for %d features", len(m.Weights), len(m.Inputs))
	}
	if m.Center != nil && len(m.Center) != len(m.Inputs) {
		return fmt.Errorf("%d center values for %d features", len(m.Center), len(m.Inputs))
	}
	if m.Scale != nil && len(m.Scale) != len(m.Inputs) {
		return fmt.Errorf("%d scale values for %d features", len(m.Scale), len(m.Inputs))
	}
	for i, s := range m.Scale {
		if s == 0 {
			return fmt.Errorf("scale for %q is zero", m.Inputs[i])
		}
	}

	known := make(map[string]bool)
	for _, n := range feature.Names() {
		known[n] = true
	}
	for _, n := range m.Inputs {
		if !known[n] {
			return fmt.Errorf("unknown feature %q", n)
		}
	}
	return nil
}

// Name implements Scorer.
func (m *LinearModel) Name() string {
	if m.Version == "" {
		return "linear"
	}
	return "linear@" + m.Version
}

// Features implements Scorer.
func (m *LinearModel) Features() []string {
	return m.Inputs
}

// Score implements Scorer.
func (m *LinearModel) Score(ctx context.Context, values []float64) (RawScore, error) {
	if len(values) != len(m.Weights) {
		return RawScore{}, fmt.Errorf("expected %d inputs, got %d", len(m.Weights), len(values))
	}

	sum := m.Intercept
	for i, x := range values {
		sum += m.Weights[i] * m.scaled(i, x)
	}

	return RawScore{Score: sum, Confidence: m.Confidence}, nil
}

// Explain implements Explainer. Contributions are in input order and sum
// to the raw score minus the intercept.
func (m *LinearModel) Explain(values []float64) ([]Contribution, error) {
	if len(values) != len(m.Weights) {
		return nil, fmt.Errorf("expected %d inputs, got %d", len(m.Weights), len(values))
	}

	out := make([]Contribution, len(values))
	for i, x := range values {
		z := m.scaled(i, x)
		out[i] = Contribution{
			Feature:      m.Inputs[i],
			Value:        x,
			Scaled:       z,
			Weight:       m.Weights[i],
			Contribution: m.Weights[i] * z,
		}
	}
	return out, nil
}

func (m *LinearModel) scaled(i int, x float64) float64 {
	if m.Center != nil {
		x -= m.Center[i]
	}
	if m.Scale != nil {
		x /= m.Scale[i]
	}
	return x
}
