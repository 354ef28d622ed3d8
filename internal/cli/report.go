package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
)

// NewReportCmd creates the 'report' command for scoring a pending trial.
func NewReportCmd() *cobra.Command {
	var (
		ref        refFlags
		req        dialin.ReportRequest
		obsTime    float64
		obsYield   float64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report the score of a pending trial",
		Long: `Record the observed score of a trial proposed by 'dialin next'.

A trial is scored once. Reporting an already scored trial keeps the first
score and says so.`,
		Example: `  dialin report --bean ethiopia-guji --trial 3 --score 7.5
  dialin report --bean ethiopia-guji --trial 3 --score 7.5 --observed-time 29 --observed-yield 37`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Ref = ref.ref()
			if cmd.Flags().Changed("observed-time") {
				req.ObservedTime = &obsTime
			}
			if cmd.Flags().Changed("observed-yield") {
				req.ObservedYield = &obsYield
			}
			return runReport(cmd, req, jsonOutput)
		},
	}

	addRefFlags(cmd, &ref)
	cmd.Flags().IntVarP(&req.TrialNumber, "trial", "t", 0, "Trial number (required)")
	cmd.Flags().Float64VarP(&req.Score, "score", "s", 0, "Observed quality score 0-10 (required)")
	cmd.Flags().Float64Var(&obsTime, "observed-time", 0, "Measured extraction time in seconds")
	cmd.Flags().Float64Var(&obsYield, "observed-yield", 0, "Measured weight out in grams")
	_ = cmd.MarkFlagRequired("trial")
	_ = cmd.MarkFlagRequired("score")
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}

func runReport(cmd *cobra.Command, req dialin.ReportRequest, jsonOutput bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.ReportResult(cmd.Context(), req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, res)
	}

	if res.AlreadyCompleted {
		fmt.Fprintf(w, "%s Trial #%d was already scored %s\n", warnStyle.Render("!"), res.Trial.TrialNumber, scoreText(res.Trial))
	} else {
		fmt.Fprintf(w, "%s Trial #%d scored %s\n", goodStyle.Render("✓"), res.Trial.TrialNumber, scoreText(res.Trial))
	}
	field(w, "State", stateStyle(res.State).Render(string(res.State)))
	if b := res.BestSoFar; b != nil {
		field(w, "Best so far", fmt.Sprintf("%s on trial #%d", goodStyle.Render(num(b.Score)), b.TrialNumber))
	}
	return nil
}
