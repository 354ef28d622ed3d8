package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/shot"
)

// shotFlags describes a shot on the command line, or via --shot-file.
type shotFlags struct {
	file string

	grind, dose, yield, time float64
	temp, pressure           float64
	days, usage              int
	puckScreen, wdt, preInf  bool
	preInfTime               float64
	roast, process           string
}

func addShotFlags(cmd *cobra.Command, s *shotFlags) {
	f := cmd.Flags()
	f.StringVar(&s.file, "shot-file", "", "JSON shot record ('-' reads stdin)")
	f.Float64Var(&s.grind, "grind", 0, "Grind size (1-50)")
	f.Float64Var(&s.dose, "dose", 0, "Dose in grams (10-30)")
	f.Float64Var(&s.yield, "yield", 0, "Weight out in grams (15-80)")
	f.Float64Var(&s.time, "time", 0, "Extraction time in seconds (10-60)")
	f.Float64Var(&s.temp, "temp", 0, "Brew temperature in °C (85-96)")
	f.Float64Var(&s.pressure, "pressure", 0, "Brew pressure in bar (default 9)")
	f.IntVar(&s.days, "days", 0, "Days past roast (0-60)")
	f.IntVar(&s.usage, "usage", 0, "Shots pulled from this bag")
	f.BoolVar(&s.puckScreen, "puck-screen", false, "A puck screen was used")
	f.BoolVar(&s.wdt, "wdt", false, "WDT was used")
	f.BoolVar(&s.preInf, "preinfusion", false, "Pre-infusion was used")
	f.Float64Var(&s.preInfTime, "preinfusion-time", 0, "Pre-infusion time in seconds")
	f.StringVar(&s.roast, "roast", "", "Roast level (light, light-medium, medium, medium-dark, dark)")
	f.StringVar(&s.process, "process", "", "Process method (washed, natural, honey, semi-washed, other)")
}

// given reports whether any shot was described.
func (s *shotFlags) given(cmd *cobra.Command) bool {
	if s.file != "" {
		return true
	}
	for _, name := range []string{"grind", "dose", "yield", "time"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// record builds the shot. Validation is left to the service.
func (s *shotFlags) record(cmd *cobra.Command) (shot.ShotRecord, error) {
	if s.file != "" {
		return readShotFile(cmd, s.file)
	}

	rec := shot.ShotRecord{
		GrindSize:       s.grind,
		DoseIn:          s.dose,
		WeightOut:       s.yield,
		ExtractionTime:  s.time,
		Pressure:        s.pressure,
		UsedPuckScreen:  s.puckScreen,
		UsedWDT:         s.wdt,
		UsedPreInfusion: s.preInf,
		RoastLevel:      shot.RoastLevel(s.roast),
		ProcessMethod:   shot.ProcessMethod(s.process),
		DaysPastRoast:   s.days,
		BeanUsageCount:  s.usage,
	}
	if cmd.Flags().Changed("temp") {
		rec.Temperature = shot.Float(s.temp)
	}
	if cmd.Flags().Changed("preinfusion-time") {
		rec.PreInfusionTime = shot.Float(s.preInfTime)
	}
	return rec, nil
}

func readShotFile(cmd *cobra.Command, path string) (shot.ShotRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return shot.ShotRecord{}, fmt.Errorf("failed to read shot: %w", err)
	}

	var rec shot.ShotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return shot.ShotRecord{}, fmt.Errorf("invalid shot record: %w", err)
	}
	return rec, nil
}
