package feature

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/espresso-dialin/internal/shot"
)

func baseShot() shot.ShotRecord {
	return shot.ShotRecord{
		GrindSize:      12,
		DoseIn:         18,
		WeightOut:      36,
		ExtractionTime: 28,
		Temperature:    shot.Float(93),
		RoastLevel:     shot.RoastMedium,
		ProcessMethod:  shot.ProcessNatural,
		DaysPastRoast:  10,
		BeanUsageCount: 2,
		UsedWDT:        true,
	}
}

func TestTransform_ReferenceShot(t *testing.T) {
	fv, err := Transform(baseShot())
	require.NoError(t, err)

	assert.Equal(t, 2.00, fv.Ratio)
	assert.Equal(t, 1.29, fv.FlowRate)
	assert.Equal(t, Normale, fv.ShotType)
	assert.Equal(t, 24.0, fv.ExtractionYield)
	assert.Equal(t, Fresh, fv.FreshnessCategory)
	assert.Equal(t, Ideal, fv.TempZone)
	assert.Equal(t, 252.0, fv.PressureTime)
	assert.Equal(t, 186.0, fv.TempRatio)
	assert.Equal(t, 216.0, fv.GrindDose)
	assert.Equal(t, 1302.0, fv.HeatPerRatio)
	assert.Equal(t, 0.1429, fv.PressureEfficiency)
	assert.Equal(t, 0.4, fv.PrepQualityScore)
	assert.Equal(t, 1.0, fv.CO2Activity)
	assert.Equal(t, 1.0, fv.ProcessOneHot["natural"])
	assert.Equal(t, 0.0, fv.ProcessOneHot["washed"])
}

func TestTransform_Deterministic(t *testing.T) {
	s := baseShot()
	a, err := Transform(s)
	require.NoError(t, err)
	b, err := Transform(s)
	require.NoError(t, err)

	assert.Equal(t, a, b)

	av, bv := a.Values(), b.Values()
	require.Len(t, av, len(Names()))
	for i := range av {
		assert.Equal(t, math.Float64bits(av[i]), math.Float64bits(bv[i]), "feature %s differs", Names()[i])
	}
}

func TestTransform_DivisionGuards(t *testing.T) {
	tests := []struct {
		name string
		mut  func(s *shot.ShotRecord)
	}{
		{"zero dose", func(s *shot.ShotRecord) { s.DoseIn = 0 }},
		{"zero yield", func(s *shot.ShotRecord) { s.WeightOut = 0 }},
		{"negative time", func(s *shot.ShotRecord) { s.ExtractionTime = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseShot()
			tt.mut(&s)
			_, err := Transform(s)
			assert.True(t, errors.Is(err, ErrInvalidInput), "expected ErrInvalidInput, got %v", err)
		})
	}
}

func TestTransform_RangeInvariant(t *testing.T) {
	for dose := 10.0; dose <= 30; dose += 2.5 {
		for out := dose + 1; out <= 80; out += 7 {
			for tm := 10.0; tm <= 60; tm += 9 {
				s := baseShot()
				s.DoseIn, s.WeightOut, s.ExtractionTime = dose, out, tm

				fv, err := Transform(s)
				require.NoError(t, err)
				assert.Greater(t, fv.Ratio, 0.0)
				assert.Greater(t, fv.FlowRate, 0.0)
				assert.GreaterOrEqual(t, fv.ExtractionYield, 0.0)
				assert.Equal(t, ShotTypeFor(out/dose), fv.ShotType)
			}
		}
	}
}

func TestShotTypeBoundaries(t *testing.T) {
	assert.Equal(t, Ristretto, ShotTypeFor(1.499))
	assert.Equal(t, Normale, ShotTypeFor(1.5))
	assert.Equal(t, Normale, ShotTypeFor(2.499))
	assert.Equal(t, Lungo, ShotTypeFor(2.5))

	// Rounded ratio reads 1.5 but the bucket uses the exact ratio.
	s := baseShot()
	s.DoseIn, s.WeightOut = 20, 29.98
	fv, err := Transform(s)
	require.NoError(t, err)
	assert.Equal(t, 1.5, fv.Ratio)
	assert.Equal(t, Ristretto, fv.ShotType)
}

func TestFreshnessBoundaries(t *testing.T) {
	cases := map[int]FreshnessCategory{
		0: VeryFresh, 7: VeryFresh,
		8: Fresh, 14: Fresh,
		15: Aging, 21: Aging,
		22: Stale, 60: Stale,
	}
	for days, want := range cases {
		assert.Equal(t, want, FreshnessFor(days), "days=%d", days)
	}
}

func TestTempZoneBoundaries(t *testing.T) {
	assert.Equal(t, TooCold, TempZoneFor(87.99))
	assert.Equal(t, Low, TempZoneFor(88))
	assert.Equal(t, Low, TempZoneFor(91.99))
	assert.Equal(t, Ideal, TempZoneFor(92))
	assert.Equal(t, Ideal, TempZoneFor(94))
	assert.Equal(t, High, TempZoneFor(94.01))
}

func TestTransform_MissingTemperatureUsesDefault(t *testing.T) {
	s := baseShot()
	s.Temperature = nil
	fv, err := Transform(s)
	require.NoError(t, err)
	assert.Equal(t, shot.DefaultTemperature, fv.Temperature)
	assert.Equal(t, Ideal, fv.TempZone)
}

func TestPreInfusionScore(t *testing.T) {
	s := baseShot()
	s.UsedPreInfusion = true
	s.PreInfusionTime = shot.Float(5)
	s.PreInfusionPressure = shot.Float(10)
	fv, err := Transform(s)
	require.NoError(t, err)
	assert.Equal(t, 0.75, fv.PreInfusionScore)
}

func TestAssemble(t *testing.T) {
	fv, err := Transform(baseShot())
	require.NoError(t, err)

	vals, err := fv.Assemble([]string{"flowRate", "ratio"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.29, 2.0}, vals)

	_, err = fv.Assemble([]string{"ratio", "tds"})
	assert.Error(t, err)
}
