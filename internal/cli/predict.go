package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPredictCmd creates the 'predict' command for scoring a single shot.
func NewPredictCmd() *cobra.Command {
	var (
		s          shotFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the quality of a shot",
		Long: `Run the feature transform and the quality model over one shot.

Nothing is recorded. When the model is unavailable the prediction degrades
to a neutral 5.0 with zero confidence.`,
		Example: `  dialin predict --grind 12 --dose 18 --yield 36 --time 28 --days 10
  dialin predict --shot-file shot.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := s.record(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			analysis, err := a.svc.PredictShot(cmd.Context(), rec)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, analysis)
			}

			p := analysis.Prediction
			fv := analysis.Features
			title(w, "Shot prediction")
			field(w, "Score", fmt.Sprintf("%s %s", valueStyle.Render(num(p.Score)), dimStyle.Render("("+p.Source+")")))
			field(w, "Confidence", num(p.Confidence))
			if p.Degraded {
				field(w, "Model", warnStyle.Render("unavailable"))
			}
			field(w, "Ratio", "1:"+num(fv.Ratio))
			field(w, "Flow rate", num(fv.FlowRate)+" g/s")
			field(w, "Yield", num(fv.ExtractionYield)+"%")
			field(w, "Shot type", string(fv.ShotType))
			field(w, "Freshness", string(fv.FreshnessCategory))
			field(w, "Temp zone", string(fv.TempZone))

			if len(analysis.Contributions) > 0 {
				fmt.Fprintln(w)
				title(w, "Drivers")
				for _, c := range analysis.Contributions {
					field(w, c.Feature, fmt.Sprintf("%+.2f %s", c.Contribution,
						dimStyle.Render("(value "+num(c.Value)+")")))
				}
			}
			return nil
		},
	}

	addShotFlags(cmd, &s)
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}
