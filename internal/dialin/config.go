package dialin

import (
	"log/slog"
	"time"
)

// Config tunes the recommender and the service.
type Config struct {
	Thresholds Thresholds
	Bounds     Bounds
	Profiles   map[string]Profile

	// SecondsPerGrindStep is the extraction-time change per grind unit.
	// A finer (lower) grind extracts slower.
	SecondsPerGrindStep float64

	ExploreGrindStep float64
	ExploreDoseStep  float64
	RefineGrindStep  float64
	RefineDoseStep   float64

	// StepDecay shrinks the step once per scored trial.
	StepDecay float64

	// BackendTimeout bounds a call to the optimization backend.
	BackendTimeout time.Duration

	// MaxAppendRetries bounds retries on a trial-number collision.
	MaxAppendRetries int

	// Logger (optional).
	Logger *slog.Logger
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		Bounds:              DefaultBounds(),
		Profiles:            DefaultProfiles(),
		SecondsPerGrindStep: 2.0,
		ExploreGrindStep:    3.0,
		ExploreDoseStep:     1.0,
		RefineGrindStep:     1.0,
		RefineDoseStep:      0.5,
		StepDecay:           0.8,
		BackendTimeout:      1500 * time.Millisecond,
		MaxAppendRetries:    5,
		Logger:              slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if len(c.Profiles) == 0 {
		c.Profiles = d.Profiles
	}
	if c.Bounds == (Bounds{}) {
		c.Bounds = d.Bounds
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	if c.SecondsPerGrindStep <= 0 {
		c.SecondsPerGrindStep = d.SecondsPerGrindStep
	}
	if c.ExploreGrindStep <= 0 {
		c.ExploreGrindStep = d.ExploreGrindStep
	}
	if c.ExploreDoseStep <= 0 {
		c.ExploreDoseStep = d.ExploreDoseStep
	}
	if c.RefineGrindStep <= 0 {
		c.RefineGrindStep = d.RefineGrindStep
	}
	if c.RefineDoseStep <= 0 {
		c.RefineDoseStep = d.RefineDoseStep
	}
	if c.StepDecay <= 0 || c.StepDecay > 1 {
		c.StepDecay = d.StepDecay
	}
	if c.MaxAppendRetries <= 0 {
		c.MaxAppendRetries = d.MaxAppendRetries
	}
	return c
}
