package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/benchmark"
)

// NewBenchmarkCmd creates the 'benchmark' command for convergence testing.
func NewBenchmarkCmd() *cobra.Command {
	var (
		sim        = benchmark.DefaultSimulationConfig()
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Simulate a dial-in session against a synthetic bean",
		Long: `Run the full dial-in loop against a synthetic bean whose score peaks at a
hidden optimum, and report how many trials it took to reach refining and
converged.

The run uses a throwaway database; your trial history is not touched. The
dial-in tuning comes from your config file, so this is the way to check
a threshold or step change before using it on real beans.`,
		Example: `  # Run benchmark with current config
  dialin benchmark

  # A noisy lungo session with a coarser optimum
  dialin benchmark --method lungo --noise 0.4 --optimal-grind 15

  # Output as JSON
  dialin benchmark --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, sim, jsonOutput)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&sim.Method, "method", "m", sim.Method, "Brewing method")
	f.IntVarP(&sim.MaxTrials, "trials", "n", sim.MaxTrials, "Maximum trials to brew")
	f.Float64Var(&sim.Noise, "noise", sim.Noise, "Standard deviation of the score noise")
	f.Int64Var(&sim.Seed, "seed", sim.Seed, "Noise seed")
	f.Float64Var(&sim.Bean.OptimalGrind, "optimal-grind", sim.Bean.OptimalGrind, "Grind of the hidden optimum")
	f.Float64Var(&sim.Bean.OptimalDose, "optimal-dose", sim.Bean.OptimalDose, "Dose of the hidden optimum")
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}

// runBenchmark executes the convergence simulation.
func runBenchmark(cmd *cobra.Command, sim benchmark.SimulationConfig, jsonOutput bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dcfg := cfg.DialInSettings()
	sim.DialIn = &dcfg

	result, err := benchmark.Simulate(cmd.Context(), sim)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, result)
	}

	title(w, "Dial-in convergence benchmark")
	fmt.Fprintln(w)
	fmt.Fprint(w, benchmark.FormatResult(result))
	if result.TrialsToConverged == 0 {
		fmt.Fprintln(w, "\n"+warnStyle.Render(fmt.Sprintf("Did not converge within %d trials.", sim.MaxTrials)))
	}
	return nil
}
