package dialin

import (
	"math"
	"sort"
)

// Brewing methods.
const (
	MethodEspresso  = "espresso"
	MethodRistretto = "ristretto"
	MethodLungo     = "lungo"
)

// Profile is the per-method target used for defaults and time bands.
type Profile struct {
	TargetRatio  float64 `json:"targetRatio"`
	TimeMin      float64 `json:"timeMin"`
	TimeMax      float64 `json:"timeMax"`
	DefaultGrind float64 `json:"defaultGrind"`
	DefaultDose  float64 `json:"defaultDose"`
}

// BandMidpoint is the center of the ideal extraction-time band.
func (p Profile) BandMidpoint() float64 {
	return (p.TimeMin + p.TimeMax) / 2
}

// DefaultProfiles returns the built-in method profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		MethodEspresso:  {TargetRatio: 2.0, TimeMin: 22, TimeMax: 35, DefaultGrind: 12, DefaultDose: 18},
		MethodRistretto: {TargetRatio: 1.5, TimeMin: 15, TimeMax: 25, DefaultGrind: 10, DefaultDose: 18},
		MethodLungo:     {TargetRatio: 3.0, TimeMin: 30, TimeMax: 45, DefaultGrind: 14, DefaultDose: 18},
	}
}

// Range is an inclusive parameter range with a step grid anchored at Min.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Snap clamps v and rounds it to the nearest grid point.
func (r Range) Snap(v float64) float64 {
	v = r.Clamp(v)
	if r.Step > 0 {
		v = r.Min + math.Round((v-r.Min)/r.Step)*r.Step
		v = r.Clamp(v)
	}
	// Strip float noise left by the grid arithmetic.
	return math.Round(v*1e6) / 1e6
}

// points lists every grid value from Min to Max.
func (r Range) points() []float64 {
	if r.Step <= 0 {
		if r.Max > r.Min {
			return []float64{r.Min, r.Max}
		}
		return []float64{r.Min}
	}
	n := int(math.Floor((r.Max-r.Min)/r.Step + 1e-9))
	out := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, r.Snap(r.Min+float64(i)*r.Step))
	}
	return out
}

// Bounds is the search space of a dial-in session.
type Bounds struct {
	Grind Range `json:"grind"`
	Dose  Range `json:"dose"`
	Time  Range `json:"time"`
}

// DefaultBounds returns the default search space.
func DefaultBounds() Bounds {
	return Bounds{
		Grind: Range{Min: 1, Max: 25, Step: 0.5},
		Dose:  Range{Min: 14, Max: 22, Step: 0.1},
		Time:  Range{Min: 15, Max: 45, Step: 1},
	}
}

// Params is one brew parameter set.
type Params struct {
	Grind      float64 `json:"grind"`
	Dose       float64 `json:"dose"`
	TargetTime float64 `json:"targetTime"`
}

// snap clamps and snaps every parameter to the bounds. The target time is
// also held inside the method's ideal band.
func (b Bounds) snap(p Params, prof Profile) Params {
	band := Range{
		Min:  math.Max(b.Time.Min, prof.TimeMin),
		Max:  math.Min(b.Time.Max, prof.TimeMax),
		Step: b.Time.Step,
	}
	if band.Min > band.Max {
		band = b.Time
	}
	return Params{
		Grind:      b.Grind.Snap(p.Grind),
		Dose:       b.Dose.Snap(p.Dose),
		TargetTime: b.Time.Snap(band.Clamp(p.TargetTime)),
	}
}

// methodNames returns the configured methods in sorted order.
func methodNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for m := range profiles {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}
