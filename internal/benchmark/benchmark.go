/*
Package benchmark measures how quickly Dial-In Mode converges.

It runs the full service loop (recommend, brew, report) against a
synthetic bean whose quality peaks at a hidden optimum:

	score = peak - kg*(grind-g*)^2 - kd*(dose-d*)^2

The brew time answers grind the way a real grinder does: a finer grind
extracts slower. History lives in a throwaway SQLite store, so a run
exercises the same code path as a real session.
*/
package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
	"github.com/khanglvm/espresso-dialin/internal/predictor"
	"github.com/khanglvm/espresso-dialin/internal/shot"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// SyntheticBean is the hidden response surface of a simulated bean.
type SyntheticBean struct {
	OptimalGrind float64 `json:"optimalGrind"`
	OptimalDose  float64 `json:"optimalDose"`
	PeakScore    float64 `json:"peakScore"`

	GrindCurvature float64 `json:"grindCurvature"`
	DoseCurvature  float64 `json:"doseCurvature"`

	// Brew time at grind TimeAnchorGrind, and its change per grind unit.
	BaseTime            float64 `json:"baseTime"`
	TimeAnchorGrind     float64 `json:"timeAnchorGrind"`
	SecondsPerGrindStep float64 `json:"secondsPerGrindStep"`
}

// DefaultBean returns a bean that peaks at grind 9.5 with 18.5g in.
func DefaultBean() SyntheticBean {
	return SyntheticBean{
		OptimalGrind:        9.5,
		OptimalDose:         18.5,
		PeakScore:           9.2,
		GrindCurvature:      0.35,
		DoseCurvature:       0.8,
		BaseTime:            30,
		TimeAnchorGrind:     10.5,
		SecondsPerGrindStep: 2,
	}
}

// Score is the noiseless quality of a brew.
func (b SyntheticBean) Score(grind, dose float64) float64 {
	dg := grind - b.OptimalGrind
	dd := dose - b.OptimalDose
	return b.PeakScore - b.GrindCurvature*dg*dg - b.DoseCurvature*dd*dd
}

// BrewTime is the extraction time a grind produces.
func (b SyntheticBean) BrewTime(grind float64) float64 {
	return b.BaseTime + b.SecondsPerGrindStep*(b.TimeAnchorGrind-grind)
}

// SimulationConfig configures one simulated session.
type SimulationConfig struct {
	Bean      SyntheticBean
	Method    string
	MaxTrials int

	// Noise is the standard deviation of the score noise.
	Noise float64
	Seed  int64

	// DBPath is the trial store to use. Empty uses a temporary database
	// removed after the run.
	DBPath string

	// DialIn overrides the recommender tuning (optional).
	DialIn *dialin.Config
}

// DefaultSimulationConfig returns a noiseless 20-trial espresso run.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Bean:      DefaultBean(),
		Method:    dialin.MethodEspresso,
		MaxTrials: 20,
		Seed:      1,
	}
}

// Step is one brewed trial.
type Step struct {
	TrialNumber int          `json:"trialNumber"`
	State       dialin.State `json:"state"`
	Grind       float64      `json:"grind"`
	Dose        float64      `json:"dose"`
	TargetTime  float64      `json:"targetTime"`
	BrewTime    float64      `json:"brewTime"`
	Score       float64      `json:"score"`
	Source      string       `json:"source"`
}

// SimulationResult summarizes a run. The trials-to counters are scored
// trial counts, zero when the state was never reached.
type SimulationResult struct {
	Method            string  `json:"method"`
	Trials            int     `json:"trials"`
	TrialsToRefining  int     `json:"trialsToRefining"`
	TrialsToConverged int     `json:"trialsToConverged"`
	BestScore         float64 `json:"bestScore"`
	BestTrial         int     `json:"bestTrial"`
	OptimalScore      float64 `json:"optimalScore"`
	Regret            float64 `json:"regret"`
	Trajectory        []Step  `json:"trajectory"`
}

// Simulate runs a dial-in session until it converges or MaxTrials trials
// have been brewed.
func Simulate(ctx context.Context, cfg SimulationConfig) (*SimulationResult, error) {
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = 20
	}
	if cfg.Method == "" {
		cfg.Method = dialin.MethodEspresso
	}
	if cfg.Bean == (SyntheticBean{}) {
		cfg.Bean = DefaultBean()
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "dialin-benchmark-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "simulation.db")
	}

	store := storage.NewStorage(dbPath)
	if err := store.Init(); err != nil {
		return nil, err
	}
	defer store.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	dcfg := dialin.DefaultConfig()
	if cfg.DialIn != nil {
		dcfg = *cfg.DialIn
	}
	dcfg.Logger = quiet

	pcfg := predictor.DefaultConfig()
	pcfg.Logger = quiet
	pred := predictor.New(predictor.NewRuleScorer(), store, pcfg)

	svc := dialin.NewService(store, pred, dialin.NewRecommender(dcfg, nil), dcfg, dialin.Options{})
	ref := dialin.Ref{BeanID: "synthetic", Method: cfg.Method}

	rng := rand.New(rand.NewSource(cfg.Seed))
	res := &SimulationResult{Method: cfg.Method, OptimalScore: cfg.Bean.PeakScore}

	rec, err := svc.StartOrContinueDialIn(ctx, dialin.DialInRequest{Ref: ref})
	if err != nil {
		return nil, err
	}

	for i := 0; i < cfg.MaxTrials; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		brewTime := cfg.Bean.BrewTime(rec.Grind)
		score := cfg.Bean.Score(rec.Grind, rec.Dose) + cfg.Noise*rng.NormFloat64()
		score = math.Round(math.Max(0, math.Min(10, score))*10) / 10

		res.Trajectory = append(res.Trajectory, Step{
			TrialNumber: rec.TrialNumber,
			State:       rec.State,
			Grind:       rec.Grind,
			Dose:        rec.Dose,
			TargetTime:  rec.TargetTime,
			BrewTime:    brewTime,
			Score:       score,
			Source:      rec.Source,
		})

		rec, err = svc.StartOrContinueDialIn(ctx, dialin.DialInRequest{
			Ref: ref,
			LastShot: &dialin.LastShot{
				Shot:        brew(rec.Params, brewTime),
				Score:       &score,
				TrialNumber: rec.TrialNumber,
			},
		})
		if err != nil {
			return nil, err
		}
		res.Trials = i + 1

		if res.TrialsToRefining == 0 && (rec.State == dialin.StateRefining || rec.State == dialin.StateConverged) {
			res.TrialsToRefining = res.Trials
		}
		if rec.State == dialin.StateConverged {
			res.TrialsToConverged = res.Trials
			break
		}
	}

	if rec.BestSoFar != nil {
		res.BestScore = rec.BestSoFar.Score
		res.BestTrial = rec.BestSoFar.TrialNumber
	}
	res.Regret = math.Round((res.OptimalScore-res.BestScore)*100) / 100
	return res, nil
}

// brew builds the shot record of a simulated trial. Times are held inside
// the range a shot log accepts.
func brew(p dialin.Params, brewTime float64) shot.ShotRecord {
	return shot.ShotRecord{
		GrindSize:      p.Grind,
		DoseIn:         p.Dose,
		WeightOut:      math.Round(p.Dose*20) / 10,
		ExtractionTime: math.Max(10, math.Min(60, brewTime)),
		DaysPastRoast:  10,
	}
}

// FormatResult formats a simulation result for display.
func FormatResult(r *SimulationResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Method: %s, %d trials brewed\n", r.Method, r.Trials))
	sb.WriteString(fmt.Sprintf("Best: %.1f/10 on trial %d (optimum %.1f, regret %.2f)\n",
		r.BestScore, r.BestTrial, r.OptimalScore, r.Regret))
	sb.WriteString(fmt.Sprintf("Refining after: %s\n", trialCount(r.TrialsToRefining)))
	sb.WriteString(fmt.Sprintf("Converged after: %s\n\n", trialCount(r.TrialsToConverged)))

	sb.WriteString(fmt.Sprintf("%-6s %-10s %-7s %-6s %-7s %-6s %s\n",
		"TRIAL", "STATE", "GRIND", "DOSE", "TARGET", "SCORE", "SOURCE"))
	for _, s := range r.Trajectory {
		sb.WriteString(fmt.Sprintf("%-6d %-10s %-7.1f %-6.1f %-7.0f %-6.1f %s\n",
			s.TrialNumber, s.State, s.Grind, s.Dose, s.TargetTime, s.Score, s.Source))
	}
	return sb.String()
}

func trialCount(n int) string {
	if n == 0 {
		return "not reached"
	}
	return fmt.Sprintf("%d trials", n)
}
