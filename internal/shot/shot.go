/*
Package shot defines the espresso shot record logged by users and the
boundary validation applied before any shot reaches the dial-in engine.

A ShotRecord is immutable once logged. Derived values (ratio, flow rate,
buckets) are never stored here; see package feature.
*/
package shot

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidInput is returned for malformed or out-of-range shot fields.
var ErrInvalidInput = errors.New("invalid input")

// DefaultPressure is the brew pressure assumed when none is recorded (bar).
const DefaultPressure = 9.0

// DefaultTemperature is the brew temperature assumed when none is recorded (°C).
const DefaultTemperature = 93.0

// RoastLevel is the roast degree of the bean.
type RoastLevel string

const (
	RoastLight       RoastLevel = "light"
	RoastLightMedium RoastLevel = "light-medium"
	RoastMedium      RoastLevel = "medium"
	RoastMediumDark  RoastLevel = "medium-dark"
	RoastDark        RoastLevel = "dark"
)

var roastOrdinals = map[RoastLevel]int{
	RoastLight:       1,
	RoastLightMedium: 2,
	RoastMedium:      3,
	RoastMediumDark:  4,
	RoastDark:        5,
}

// Ordinal maps the roast onto 1 (light) through 5 (dark).
// Unknown or empty roasts map to medium.
func (r RoastLevel) Ordinal() int {
	if o, ok := roastOrdinals[r]; ok {
		return o
	}
	return roastOrdinals[RoastMedium]
}

// Valid reports whether r is one of the known roast levels.
func (r RoastLevel) Valid() bool {
	_, ok := roastOrdinals[r]
	return ok
}

// ProcessMethod is how the green coffee was processed.
type ProcessMethod string

const (
	ProcessWashed     ProcessMethod = "washed"
	ProcessNatural    ProcessMethod = "natural"
	ProcessHoney      ProcessMethod = "honey"
	ProcessSemiWashed ProcessMethod = "semi-washed"
	ProcessOther      ProcessMethod = "other"
)

// ProcessMethods lists every process method in one-hot encoding order.
var ProcessMethods = []ProcessMethod{
	ProcessWashed,
	ProcessNatural,
	ProcessHoney,
	ProcessSemiWashed,
	ProcessOther,
}

// Valid reports whether p is one of the known process methods.
func (p ProcessMethod) Valid() bool {
	for _, m := range ProcessMethods {
		if m == p {
			return true
		}
	}
	return false
}

// TasteProfile holds the user's 1-5 sensory ratings.
type TasteProfile struct {
	Sweetness  float64 `json:"sweetness" yaml:"sweetness"`
	Acidity    float64 `json:"acidity" yaml:"acidity"`
	Bitterness float64 `json:"bitterness" yaml:"bitterness"`
	Body       float64 `json:"body" yaml:"body"`
}

// IsZero reports whether no taste ratings were given.
func (t TasteProfile) IsZero() bool {
	return t == TasteProfile{}
}

// ShotRecord is one logged espresso pull.
type ShotRecord struct {
	GrindSize      float64  `json:"grindSize"`
	DoseIn         float64  `json:"doseIn"`
	WeightOut      float64  `json:"weightOut"`
	ExtractionTime float64  `json:"extractionTime"`
	Temperature    *float64 `json:"temperature,omitempty"`
	Pressure       float64  `json:"pressure,omitempty"`

	UsedPuckScreen      bool     `json:"usedPuckScreen"`
	UsedWDT             bool     `json:"usedWDT"`
	UsedPreInfusion     bool     `json:"usedPreInfusion"`
	PreInfusionTime     *float64 `json:"preInfusionTime,omitempty"`
	PreInfusionPressure *float64 `json:"preInfusionPressure,omitempty"`

	RoastLevel    RoastLevel    `json:"roastLevel,omitempty"`
	ProcessMethod ProcessMethod `json:"processMethod,omitempty"`
	DaysPastRoast int           `json:"daysPastRoast"`

	// BeanUsageCount counts shots pulled from the bag, this one included.
	// Zero means not recorded.
	BeanUsageCount int `json:"beanUsageCount,omitempty"`

	QualityScore *float64     `json:"qualityScore,omitempty"`
	TasteProfile TasteProfile `json:"tasteProfile,omitempty"`
}

// EffectivePressure returns the recorded pressure or DefaultPressure.
func (s ShotRecord) EffectivePressure() float64 {
	if s.Pressure <= 0 {
		return DefaultPressure
	}
	return s.Pressure
}

// EffectiveTemperature returns the recorded temperature or DefaultTemperature.
func (s ShotRecord) EffectiveTemperature() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

// FieldError describes a single rejected shot field.
type FieldError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid input: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *FieldError) Unwrap() error {
	return ErrInvalidInput
}

type bound struct {
	field    string
	value    float64
	min, max float64
}

// Validate checks the documented ranges and cross-field invariants.
// The first violation is returned as a *FieldError.
func (s ShotRecord) Validate() error {
	bounds := []bound{
		{"grindSize", s.GrindSize, 1, 50},
		{"doseIn", s.DoseIn, 10, 30},
		{"weightOut", s.WeightOut, 15, 80},
		{"extractionTime", s.ExtractionTime, 10, 60},
	}
	if s.Temperature != nil {
		bounds = append(bounds, bound{"temperature", *s.Temperature, 85, 96})
	}
	if s.Pressure != 0 {
		bounds = append(bounds, bound{"pressure", s.Pressure, 1, 15})
	}
	if s.PreInfusionTime != nil {
		bounds = append(bounds, bound{"preInfusionTime", *s.PreInfusionTime, 0, 30})
	}
	if s.PreInfusionPressure != nil {
		bounds = append(bounds, bound{"preInfusionPressure", *s.PreInfusionPressure, 0, 15})
	}
	if s.QualityScore != nil {
		bounds = append(bounds, bound{"qualityScore", *s.QualityScore, 0, 10})
	}
	if !s.TasteProfile.IsZero() {
		bounds = append(bounds,
			bound{"tasteProfile.sweetness", s.TasteProfile.Sweetness, 1, 5},
			bound{"tasteProfile.acidity", s.TasteProfile.Acidity, 1, 5},
			bound{"tasteProfile.bitterness", s.TasteProfile.Bitterness, 1, 5},
			bound{"tasteProfile.body", s.TasteProfile.Body, 1, 5},
		)
	}

	for _, b := range bounds {
		if math.IsNaN(b.value) || math.IsInf(b.value, 0) {
			return &FieldError{Field: b.field, Value: b.value, Reason: "must be a finite number"}
		}
		if b.value < b.min || b.value > b.max {
			return &FieldError{
				Field:  b.field,
				Value:  b.value,
				Reason: fmt.Sprintf("must be between %g and %g", b.min, b.max),
			}
		}
	}

	if s.WeightOut <= s.DoseIn {
		return &FieldError{Field: "weightOut", Value: s.WeightOut, Reason: "must be greater than doseIn"}
	}
	if s.DaysPastRoast < 0 || s.DaysPastRoast > 60 {
		return &FieldError{Field: "daysPastRoast", Value: s.DaysPastRoast, Reason: "must be between 0 and 60"}
	}
	// Zero is unset; a recorded count starts at 1.
	if s.BeanUsageCount < 0 {
		return &FieldError{Field: "beanUsageCount", Value: s.BeanUsageCount, Reason: "must be at least 1 when set"}
	}
	if s.RoastLevel != "" && !s.RoastLevel.Valid() {
		return &FieldError{Field: "roastLevel", Value: s.RoastLevel, Reason: "unknown roast level"}
	}
	if s.ProcessMethod != "" && !s.ProcessMethod.Valid() {
		return &FieldError{
			Field:  "processMethod",
			Value:  s.ProcessMethod,
			Reason: "must be one of: " + joinProcessMethods(),
		}
	}

	return nil
}

func joinProcessMethods() string {
	names := make([]string, len(ProcessMethods))
	for i, m := range ProcessMethods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// Float returns a pointer to v. Handy for optional fields.
func Float(v float64) *float64 {
	return &v
}
