package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the 'history' command for listing a session's trials.
func NewHistoryCmd() *cobra.Command {
	var (
		ref        refFlags
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"ls"},
		Short:   "List the trials of a dial-in session",
		Example: `  dialin history --bean ethiopia-guji
  dialin history --bean ethiopia-guji --method lungo --limit 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			r := ref.ref()
			trials, err := a.svc.GetTrialHistory(cmd.Context(), r, limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, trials)
			}
			title(w, fmt.Sprintf("Trials of %s (%d)", r.Study(), len(trials)))
			writeTrials(w, trials)
			return nil
		},
	}

	addRefFlags(cmd, &ref)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent trials (0 = all)")
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}

// NewBestCmd creates the 'best' command, printing the best trial so far.
func NewBestCmd() *cobra.Command {
	var (
		ref        refFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "best",
		Short: "Show the best parameters found so far",
		Long: `Show the highest scored trial of a session. Ties go to the earlier
trial.`,
		Example: `  dialin best --bean ethiopia-guji`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.svc.GetBestParameters(cmd.Context(), ref.ref())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, t)
			}
			title(w, fmt.Sprintf("Best of %s", t.Study))
			field(w, "Trial", fmt.Sprintf("#%d", t.TrialNumber))
			field(w, "Score", goodStyle.Render(scoreText(t)))
			field(w, "Grind", num(t.Grind))
			field(w, "Dose", num(t.Dose)+"g")
			field(w, "Target time", num(t.TargetTime)+"s")
			return nil
		},
	}

	addRefFlags(cmd, &ref)
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}
