/*
Package feature turns a raw shot record into the numeric feature vector
consumed by the quality predictor.

Transform is a pure function. Every derived number is rounded to a fixed
precision (2 decimals, 4 for PressureEfficiency) so outputs are stable
across runs and easy to diff in tests. Buckets are computed from the
unrounded values.
*/
package feature

import (
	"errors"
	"fmt"
	"math"

	"github.com/khanglvm/espresso-dialin/internal/shot"
)

// ErrInvalidInput is shot.ErrInvalidInput, re-exported for callers that only import feature.
var ErrInvalidInput = shot.ErrInvalidInput

// ShotType buckets a shot by brew ratio.
type ShotType string

const (
	Ristretto ShotType = "ristretto"
	Normale   ShotType = "normale"
	Lungo     ShotType = "lungo"
)

// FreshnessCategory buckets a shot by days past roast.
type FreshnessCategory string

const (
	VeryFresh FreshnessCategory = "very_fresh"
	Fresh     FreshnessCategory = "fresh"
	Aging     FreshnessCategory = "aging"
	Stale     FreshnessCategory = "stale"
)

// TempZone buckets a shot by brew temperature.
type TempZone string

const (
	TooCold TempZone = "too_cold"
	Low     TempZone = "low"
	Ideal   TempZone = "ideal"
	High    TempZone = "high"
)

// FeatureVector is the derived, ephemeral view of a ShotRecord.
type FeatureVector struct {
	// Raw inputs, with defaults applied.
	GrindSize      float64 `json:"grindSize"`
	DoseIn         float64 `json:"doseIn"`
	WeightOut      float64 `json:"weightOut"`
	ExtractionTime float64 `json:"extractionTime"`
	Temperature    float64 `json:"temperature"`
	Pressure       float64 `json:"pressure"`
	DaysPastRoast  float64 `json:"daysPastRoast"`
	BeanUsageCount float64 `json:"beanUsageCount"`

	UsedPuckScreen  float64 `json:"usedPuckScreen"`
	UsedWDT         float64 `json:"usedWDT"`
	UsedPreInfusion float64 `json:"usedPreInfusion"`

	// Calculated.
	Ratio           float64 `json:"ratio"`
	FlowRate        float64 `json:"flowRate"`
	ExtractionYield float64 `json:"extractionYield"`

	// Encodings.
	RoastOrdinal  float64            `json:"roastOrdinal"`
	ProcessOneHot map[string]float64 `json:"processOneHot"`

	// Interactions.
	PressureTime        float64 `json:"pressureTime"`
	TempRatio           float64 `json:"tempRatio"`
	GrindDose           float64 `json:"grindDose"`
	FlowPressure        float64 `json:"flowPressure"`
	HeatPerRatio        float64 `json:"heatPerRatio"`
	PressureEfficiency  float64 `json:"pressureEfficiency"`
	ExtractionIntensity float64 `json:"extractionIntensity"`
	GrindDensity        float64 `json:"grindDensity"`

	// Domain scores.
	PrepQualityScore float64 `json:"prepQualityScore"`
	FreshnessScore   float64 `json:"freshnessScore"`
	CO2Activity      float64 `json:"co2Activity"`
	PreInfusionScore float64 `json:"preInfusionScore"`

	// Buckets.
	ShotType          ShotType          `json:"shotType"`
	FreshnessCategory FreshnessCategory `json:"freshnessCategory"`
	TempZone          TempZone          `json:"tempZone"`
}

// Transform derives the feature vector for s.
// It only guards the divisions; range checks belong to shot.Validate.
func Transform(s shot.ShotRecord) (FeatureVector, error) {
	if s.DoseIn <= 0 {
		return FeatureVector{}, &shot.FieldError{Field: "doseIn", Value: s.DoseIn, Reason: "must be positive"}
	}
	if s.WeightOut <= 0 {
		return FeatureVector{}, &shot.FieldError{Field: "weightOut", Value: s.WeightOut, Reason: "must be positive"}
	}
	if s.ExtractionTime <= 0 {
		return FeatureVector{}, &shot.FieldError{Field: "extractionTime", Value: s.ExtractionTime, Reason: "must be positive"}
	}

	pressure := s.EffectivePressure()
	temp := s.EffectiveTemperature()
	days := float64(s.DaysPastRoast)

	ratio := s.WeightOut / s.DoseIn
	flow := s.WeightOut / s.ExtractionTime

	fv := FeatureVector{
		GrindSize:      round2(s.GrindSize),
		DoseIn:         round2(s.DoseIn),
		WeightOut:      round2(s.WeightOut),
		ExtractionTime: round2(s.ExtractionTime),
		Temperature:    round2(temp),
		Pressure:       round2(pressure),
		DaysPastRoast:  days,
		BeanUsageCount: float64(s.BeanUsageCount),

		UsedPuckScreen:  boolFloat(s.UsedPuckScreen),
		UsedWDT:         boolFloat(s.UsedWDT),
		UsedPreInfusion: boolFloat(s.UsedPreInfusion),

		Ratio:           round2(ratio),
		FlowRate:        round2(flow),
		ExtractionYield: round2(s.WeightOut * 0.12 / s.DoseIn * 100),

		RoastOrdinal:  float64(s.RoastLevel.Ordinal()),
		ProcessOneHot: processOneHot(s.ProcessMethod),

		PressureTime:        round2(pressure * s.ExtractionTime),
		TempRatio:           round2(temp * ratio),
		GrindDose:           round2(s.GrindSize * s.DoseIn),
		FlowPressure:        round2(flow * pressure),
		HeatPerRatio:        round2(s.ExtractionTime * temp / ratio),
		PressureEfficiency:  round4(s.WeightOut / (pressure * s.ExtractionTime)),
		ExtractionIntensity: round2(pressure * s.ExtractionTime / 100),
		GrindDensity:        round2(s.GrindSize / s.DoseIn),

		PrepQualityScore: round2(0.4*boolFloat(s.UsedWDT) + 0.3*boolFloat(s.UsedPuckScreen) + 0.3*boolFloat(s.UsedPreInfusion)),
		FreshnessScore:   round2(clamp(1-days/30, 0, 1)),
		CO2Activity:      round2(math.Exp(-((days - 10) * (days - 10)) / 50)),
		PreInfusionScore: round2(preInfusionScore(s)),

		ShotType:          ShotTypeFor(ratio),
		FreshnessCategory: FreshnessFor(s.DaysPastRoast),
		TempZone:          TempZoneFor(temp),
	}

	return fv, nil
}

// ShotTypeFor buckets a brew ratio: ristretto below 1.5, normale below 2.5, lungo otherwise.
func ShotTypeFor(ratio float64) ShotType {
	switch {
	case ratio < 1.5:
		return Ristretto
	case ratio < 2.5:
		return Normale
	default:
		return Lungo
	}
}

// FreshnessFor buckets bean age in days past roast.
func FreshnessFor(days int) FreshnessCategory {
	switch {
	case days <= 7:
		return VeryFresh
	case days <= 14:
		return Fresh
	case days <= 21:
		return Aging
	default:
		return Stale
	}
}

// TempZoneFor buckets a brew temperature in °C.
func TempZoneFor(temp float64) TempZone {
	switch {
	case temp < 88:
		return TooCold
	case temp < 92:
		return Low
	case temp <= 94:
		return Ideal
	default:
		return High
	}
}

func preInfusionScore(s shot.ShotRecord) float64 {
	if !s.UsedPreInfusion {
		return 0
	}
	var t, p float64
	if s.PreInfusionTime != nil {
		t = *s.PreInfusionTime
	}
	if s.PreInfusionPressure != nil {
		p = *s.PreInfusionPressure
	}
	return clamp(t/10, 0, 1)*0.5 + clamp(p/5, 0, 1)*0.5
}

func processOneHot(p shot.ProcessMethod) map[string]float64 {
	out := make(map[string]float64, len(shot.ProcessMethods))
	for _, m := range shot.ProcessMethods {
		out[string(m)] = 0
	}
	if p == "" || !p.Valid() {
		p = shot.ProcessOther
	}
	out[string(p)] = 1
	return out
}

// Names returns the canonical, ordered feature names produced by Values.
func Names() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// Values returns the numeric features in Names order.
func (fv FeatureVector) Values() []float64 {
	vals := make([]float64, len(columns))
	for i, c := range columns {
		vals[i] = c.get(fv)
	}
	return vals
}

// Lookup returns the value of a single named feature.
func (fv FeatureVector) Lookup(name string) (float64, error) {
	for _, c := range columns {
		if c.name == name {
			return c.get(fv), nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}

// Assemble orders fv's values to match names, as a model artifact expects them.
func (fv FeatureVector) Assemble(names []string) ([]float64, error) {
	out := make([]float64, len(names))
	var errs []error
	for i, n := range names {
		v, err := fv.Lookup(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[i] = v
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

type column struct {
	name string
	get  func(FeatureVector) float64
}

func processColumn(p shot.ProcessMethod) column {
	return column{
		name: "process_" + string(p),
		get:  func(fv FeatureVector) float64 { return fv.ProcessOneHot[string(p)] },
	}
}

var columns = []column{
	{"grindSize", func(fv FeatureVector) float64 { return fv.GrindSize }},
	{"doseIn", func(fv FeatureVector) float64 { return fv.DoseIn }},
	{"weightOut", func(fv FeatureVector) float64 { return fv.WeightOut }},
	{"extractionTime", func(fv FeatureVector) float64 { return fv.ExtractionTime }},
	{"temperature", func(fv FeatureVector) float64 { return fv.Temperature }},
	{"pressure", func(fv FeatureVector) float64 { return fv.Pressure }},
	{"daysPastRoast", func(fv FeatureVector) float64 { return fv.DaysPastRoast }},
	{"beanUsageCount", func(fv FeatureVector) float64 { return fv.BeanUsageCount }},
	{"usedPuckScreen", func(fv FeatureVector) float64 { return fv.UsedPuckScreen }},
	{"usedWDT", func(fv FeatureVector) float64 { return fv.UsedWDT }},
	{"usedPreInfusion", func(fv FeatureVector) float64 { return fv.UsedPreInfusion }},
	{"ratio", func(fv FeatureVector) float64 { return fv.Ratio }},
	{"flowRate", func(fv FeatureVector) float64 { return fv.FlowRate }},
	{"extractionYield", func(fv FeatureVector) float64 { return fv.ExtractionYield }},
	{"roastOrdinal", func(fv FeatureVector) float64 { return fv.RoastOrdinal }},
	processColumn(shot.ProcessWashed),
	processColumn(shot.ProcessNatural),
	processColumn(shot.ProcessHoney),
	processColumn(shot.ProcessSemiWashed),
	processColumn(shot.ProcessOther),
	{"pressureTime", func(fv FeatureVector) float64 { return fv.PressureTime }},
	{"tempRatio", func(fv FeatureVector) float64 { return fv.TempRatio }},
	{"grindDose", func(fv FeatureVector) float64 { return fv.GrindDose }},
	{"flowPressure", func(fv FeatureVector) float64 { return fv.FlowPressure }},
	{"heatPerRatio", func(fv FeatureVector) float64 { return fv.HeatPerRatio }},
	{"pressureEfficiency", func(fv FeatureVector) float64 { return fv.PressureEfficiency }},
	{"extractionIntensity", func(fv FeatureVector) float64 { return fv.ExtractionIntensity }},
	{"grindDensity", func(fv FeatureVector) float64 { return fv.GrindDensity }},
	{"prepQualityScore", func(fv FeatureVector) float64 { return fv.PrepQualityScore }},
	{"freshnessScore", func(fv FeatureVector) float64 { return fv.FreshnessScore }},
	{"co2Activity", func(fv FeatureVector) float64 { return fv.CO2Activity }},
	{"preInfusionScore", func(fv FeatureVector) float64 { return fv.PreInfusionScore }},
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
