/*
Package config provides validation helpers for espresso-dialin configuration.

Validate is shared by the loader and the saver so that a file that fails
validation is never written and never used.
*/
package config

import (
	"fmt"
	"math"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
)

// Validate checks ranges and cross-field invariants. Missing sections are
// skipped; they take defaults on load.
func Validate(cfg *Config) error {
	if m := cfg.Model; m != nil {
		switch m.Kind {
		case "", ModelRules:
		case ModelLinear:
			if m.Path == "" {
				return invalid("model.path", "required when model.kind is linear", "Set model.path or DIALIN_MODEL_PATH")
			}
		case ModelProcess:
			if m.Command == "" {
				return invalid("model.command", "required when model.kind is process", "")
			}
		default:
			return invalid("model.kind", fmt.Sprintf("unknown kind %q", m.Kind), "Use one of: rules, linear, process")
		}
		if m.TimeoutMs < 0 {
			return invalid("model.timeoutMs", "must not be negative", "")
		}
	}

	if p := cfg.Predictor; p != nil {
		if p.ConfidenceCeiling < 0 || p.ConfidenceCeiling > 1 {
			return invalid("predictor.confidenceCeiling", "must be between 0 and 1", "")
		}
		if p.ConfidenceSaturation < 0 || p.RecentWindowDays < 0 {
			return invalid("predictor", "confidenceSaturation and recentWindowDays must not be negative", "")
		}
	}

	if d := cfg.DialIn; d != nil {
		if err := validateDialIn(d); err != nil {
			return err
		}
	}
	return nil
}

func validateDialIn(d *DialInConfig) error {
	for name, v := range map[string]float64{
		"dialIn.refineMinScore": d.RefineMinScore,
		"dialIn.convergedScore": d.ConvergedScore,
	} {
		if !finite(v) || v < 0 || v > 10 {
			return invalid(name, "must be between 0 and 10", "")
		}
	}
	if d.ConvergedScore != 0 && d.RefineMinScore > d.ConvergedScore {
		return invalid("dialIn.refineMinScore", "must not exceed convergedScore", "")
	}
	if d.RefineMinTrials < 0 || d.MaxAppendRetries < 0 || d.BackendTimeoutMs < 0 {
		return invalid("dialIn", "refineMinTrials, maxAppendRetries and backendTimeoutMs must not be negative", "")
	}

	for name, v := range map[string]float64{
		"dialIn.secondsPerGrindStep": d.SecondsPerGrindStep,
		"dialIn.exploreGrindStep":    d.ExploreGrindStep,
		"dialIn.exploreDoseStep":     d.ExploreDoseStep,
		"dialIn.refineGrindStep":     d.RefineGrindStep,
		"dialIn.refineDoseStep":      d.RefineDoseStep,
	} {
		if !finite(v) || v < 0 {
			return invalid(name, "must be positive", "")
		}
	}
	if !finite(d.StepDecay) || d.StepDecay < 0 || d.StepDecay > 1 {
		return invalid("dialIn.stepDecay", "must be between 0 and 1", "")
	}

	if b := d.Bounds; b != nil {
		for name, r := range map[string]dialin.Range{
			"dialIn.bounds.grind": b.Grind,
			"dialIn.bounds.dose":  b.Dose,
			"dialIn.bounds.time":  b.Time,
		} {
			if err := validateRange(name, r); err != nil {
				return err
			}
		}
	}

	for method, p := range d.Methods {
		field := "dialIn.methods." + method
		if method == "" {
			return invalid("dialIn.methods", "method name must not be empty", "")
		}
		if p.TimeMin <= 0 || p.TimeMax < p.TimeMin {
			return invalid(field, "timeMin must be positive and not above timeMax", "")
		}
		if p.DefaultGrind <= 0 || p.DefaultDose <= 0 || p.TargetRatio <= 0 {
			return invalid(field, "targetRatio, defaultGrind and defaultDose must be positive", "")
		}
	}
	return nil
}

func validateRange(field string, r dialin.Range) error {
	if !finite(r.Min) || !finite(r.Max) || !finite(r.Step) {
		return invalid(field, "must be finite", "")
	}
	if r.Min > r.Max {
		return invalid(field, fmt.Sprintf("min %g is above max %g", r.Min, r.Max), "Swap min and max")
	}
	if r.Step <= 0 {
		return invalid(field, "step must be positive", "")
	}
	return nil
}

func invalid(field, msg, hint string) error {
	return &InvalidConfigError{Field: field, Message: msg, Hint: hint}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
