package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
)

// NewStatusCmd creates the 'status' command for summarizing a session.
func NewStatusCmd() *cobra.Command {
	var (
		ref        refFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Summarize a dial-in session",
		Example: `  dialin status --bean ethiopia-guji --method ristretto`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.svc.GetStatus(cmd.Context(), ref.ref())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, st)
			}

			title(w, st.StudyName)
			if st.Status == dialin.StatusNotStarted {
				fmt.Fprintln(w, dimStyle.Render("  Not started. Run 'dialin next' for the first trial."))
				return nil
			}
			field(w, "State", stateStyle(st.State).Render(string(st.State)))
			field(w, "Trials", fmt.Sprintf("%d (%d scored)", st.TotalTrials, st.ScoredTrials))
			if st.Best != nil {
				field(w, "Best", fmt.Sprintf("%s on trial #%d", goodStyle.Render(scoreText(*st.Best)), st.Best.TrialNumber))
			}
			fmt.Fprintln(w)
			writeTrials(w, st.Recent)
			return nil
		},
	}

	addRefFlags(cmd, &ref)
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}
