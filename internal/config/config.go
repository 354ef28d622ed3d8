/*
Package config handles loading, saving, and validating espresso-dialin
configuration.

Configuration is stored in ~/.espresso-dialin.json using camelCase keys.
Every field is optional; missing values take the defaults below.

Schema:
  {
    "storage":   {"path": "~/.espresso-dialin/history.db"},
    "model": {
      "kind": "rules",                  // rules | linear | process
      "path": "model.yaml",             // linear artifact (.json or .yaml)
      "command": "python3",             // process backend
      "args": ["-m", "dialin_model"],
      "env": {"KEY": "value"},
      "timeoutMs": 2000
    },
    "predictor": {"confidenceCeiling": 0.9, "confidenceSaturation": 50, "recentWindowDays": 30},
    "dialIn": {
      "refineMinTrials": 5, "refineMinScore": 7.0, "convergedScore": 8.5,
      "maxAppendRetries": 5, "backendTimeoutMs": 1500,
      "secondsPerGrindStep": 2.0,
      "exploreGrindStep": 3.0, "exploreDoseStep": 1.0,
      "refineGrindStep": 1.0, "refineDoseStep": 0.5, "stepDecay": 0.8,
      "bounds": {"grind": {"min": 1, "max": 25, "step": 0.5}, ...},
      "methods": {"espresso": {"targetRatio": 2.0, "timeMin": 22, "timeMax": 35, ...}}
    }
  }

DIALIN_CONFIG moves the file. DIALIN_DB_PATH and DIALIN_MODEL_PATH override
storage.path and model.path.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
	"github.com/khanglvm/espresso-dialin/internal/predictor"
)

// Model kinds.
const (
	ModelRules   = "rules"
	ModelLinear  = "linear"
	ModelProcess = "process"
)

// Environment overrides.
const (
	EnvConfigPath = "DIALIN_CONFIG"
	EnvDBPath     = "DIALIN_DB_PATH"
	EnvModelPath  = "DIALIN_MODEL_PATH"
)

// Config represents the root configuration structure.
type Config struct {
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Model     *ModelConfig     `json:"model,omitempty"`
	Predictor *PredictorConfig `json:"predictor,omitempty"`
	DialIn    *DialInConfig    `json:"dialIn,omitempty"`
}

// StorageConfig locates the trial history database.
type StorageConfig struct {
	// Path is the SQLite file. Empty means ~/.espresso-dialin/history.db.
	Path string `json:"path,omitempty"`
}

// ModelConfig selects the quality model.
type ModelConfig struct {
	// Kind is rules, linear, or process.
	Kind string `json:"kind,omitempty"`

	// Path is the linear model artifact.
	Path string `json:"path,omitempty"`

	// Command, Args, and Env start the process backend. The same process
	// also serves as the optimization backend.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// TimeoutMs bounds one model call.
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

// PredictorConfig tunes prediction confidence.
type PredictorConfig struct {
	ConfidenceCeiling    float64 `json:"confidenceCeiling,omitempty"`
	ConfidenceSaturation float64 `json:"confidenceSaturation,omitempty"`
	RecentWindowDays     int     `json:"recentWindowDays,omitempty"`
}

// DialInConfig tunes the dial-in state machine and search policy.
type DialInConfig struct {
	RefineMinTrials  int     `json:"refineMinTrials,omitempty"`
	RefineMinScore   float64 `json:"refineMinScore,omitempty"`
	ConvergedScore   float64 `json:"convergedScore,omitempty"`
	MaxAppendRetries int     `json:"maxAppendRetries,omitempty"`
	BackendTimeoutMs int     `json:"backendTimeoutMs,omitempty"`

	SecondsPerGrindStep float64 `json:"secondsPerGrindStep,omitempty"`
	ExploreGrindStep    float64 `json:"exploreGrindStep,omitempty"`
	ExploreDoseStep     float64 `json:"exploreDoseStep,omitempty"`
	RefineGrindStep     float64 `json:"refineGrindStep,omitempty"`
	RefineDoseStep      float64 `json:"refineDoseStep,omitempty"`
	StepDecay           float64 `json:"stepDecay,omitempty"`

	Bounds  *dialin.Bounds            `json:"bounds,omitempty"`
	Methods map[string]dialin.Profile `json:"methods,omitempty"`
}

// NewConfig creates a configuration holding every default.
func NewConfig() *Config {
	d := dialin.DefaultConfig()
	p := predictor.DefaultConfig()
	bounds := d.Bounds

	return &Config{
		Storage: &StorageConfig{},
		Model: &ModelConfig{
			Kind:      ModelRules,
			TimeoutMs: int(p.Timeout / time.Millisecond),
		},
		Predictor: &PredictorConfig{
			ConfidenceCeiling:    p.ConfidenceCeiling,
			ConfidenceSaturation: p.ConfidenceSaturation,
			RecentWindowDays:     int(p.RecentWindow / (24 * time.Hour)),
		},
		DialIn: &DialInConfig{
			RefineMinTrials:     d.Thresholds.RefineMinTrials,
			RefineMinScore:      d.Thresholds.RefineMinScore,
			ConvergedScore:      d.Thresholds.ConvergedScore,
			MaxAppendRetries:    d.MaxAppendRetries,
			BackendTimeoutMs:    int(d.BackendTimeout / time.Millisecond),
			SecondsPerGrindStep: d.SecondsPerGrindStep,
			ExploreGrindStep:    d.ExploreGrindStep,
			ExploreDoseStep:     d.ExploreDoseStep,
			RefineGrindStep:     d.RefineGrindStep,
			RefineDoseStep:      d.RefineDoseStep,
			StepDecay:           d.StepDecay,
			Bounds:              &bounds,
			Methods:             d.Profiles,
		},
	}
}

// GetDefaultConfigPath returns $DIALIN_CONFIG, or ~/.espresso-dialin.json
func GetDefaultConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".espresso-dialin.json"), nil
}

// fillDefaults replaces missing sections and zero fields with defaults.
func (c *Config) fillDefaults() {
	d := NewConfig()

	if c.Storage == nil {
		c.Storage = d.Storage
	}

	if c.Model == nil {
		c.Model = d.Model
	}
	if c.Model.Kind == "" {
		c.Model.Kind = d.Model.Kind
	}
	if c.Model.TimeoutMs == 0 {
		c.Model.TimeoutMs = d.Model.TimeoutMs
	}

	if c.Predictor == nil {
		c.Predictor = d.Predictor
	}
	if c.Predictor.ConfidenceCeiling == 0 {
		c.Predictor.ConfidenceCeiling = d.Predictor.ConfidenceCeiling
	}
	if c.Predictor.ConfidenceSaturation == 0 {
		c.Predictor.ConfidenceSaturation = d.Predictor.ConfidenceSaturation
	}
	if c.Predictor.RecentWindowDays == 0 {
		c.Predictor.RecentWindowDays = d.Predictor.RecentWindowDays
	}

	if c.DialIn == nil {
		c.DialIn = d.DialIn
		return
	}
	di, dd := c.DialIn, d.DialIn
	if di.RefineMinTrials == 0 {
		di.RefineMinTrials = dd.RefineMinTrials
	}
	if di.RefineMinScore == 0 {
		di.RefineMinScore = dd.RefineMinScore
	}
	if di.ConvergedScore == 0 {
		di.ConvergedScore = dd.ConvergedScore
	}
	if di.MaxAppendRetries == 0 {
		di.MaxAppendRetries = dd.MaxAppendRetries
	}
	if di.BackendTimeoutMs == 0 {
		di.BackendTimeoutMs = dd.BackendTimeoutMs
	}
	if di.SecondsPerGrindStep == 0 {
		di.SecondsPerGrindStep = dd.SecondsPerGrindStep
	}
	if di.ExploreGrindStep == 0 {
		di.ExploreGrindStep = dd.ExploreGrindStep
	}
	if di.ExploreDoseStep == 0 {
		di.ExploreDoseStep = dd.ExploreDoseStep
	}
	if di.RefineGrindStep == 0 {
		di.RefineGrindStep = dd.RefineGrindStep
	}
	if di.RefineDoseStep == 0 {
		di.RefineDoseStep = dd.RefineDoseStep
	}
	if di.StepDecay == 0 {
		di.StepDecay = dd.StepDecay
	}
	if di.Bounds == nil {
		di.Bounds = dd.Bounds
	}
	if len(di.Methods) == 0 {
		di.Methods = dd.Methods
	}
}

// applyEnv applies the environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		c.Model.Path = v
	}
}

// ModelTimeout returns the model call timeout.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutMs) * time.Millisecond
}

// DialInSettings converts the dialIn section to service settings.
func (c *Config) DialInSettings() dialin.Config {
	d := dialin.DefaultConfig()
	di := c.DialIn
	if di == nil {
		return d
	}

	d.Thresholds = dialin.Thresholds{
		RefineMinTrials: di.RefineMinTrials,
		RefineMinScore:  di.RefineMinScore,
		ConvergedScore:  di.ConvergedScore,
	}
	if di.Bounds != nil {
		d.Bounds = *di.Bounds
	}
	if len(di.Methods) > 0 {
		d.Profiles = di.Methods
	}
	d.SecondsPerGrindStep = di.SecondsPerGrindStep
	d.ExploreGrindStep = di.ExploreGrindStep
	d.ExploreDoseStep = di.ExploreDoseStep
	d.RefineGrindStep = di.RefineGrindStep
	d.RefineDoseStep = di.RefineDoseStep
	d.StepDecay = di.StepDecay
	d.BackendTimeout = time.Duration(di.BackendTimeoutMs) * time.Millisecond
	d.MaxAppendRetries = di.MaxAppendRetries
	return d
}

// PredictorSettings converts the predictor section to predictor settings.
func (c *Config) PredictorSettings() predictor.Config {
	p := predictor.DefaultConfig()
	if c.Model != nil && c.Model.TimeoutMs > 0 {
		p.Timeout = c.ModelTimeout()
	}
	if c.Predictor != nil {
		p.ConfidenceCeiling = c.Predictor.ConfidenceCeiling
		p.ConfidenceSaturation = c.Predictor.ConfidenceSaturation
		p.RecentWindow = time.Duration(c.Predictor.RecentWindowDays) * 24 * time.Hour
	}
	return p
}
