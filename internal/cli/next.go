package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/dialin"
)

// NewNextCmd creates the 'next' command, the CLI form of StartOrContinueDialIn.
func NewNextCmd() *cobra.Command {
	var (
		ref        refFlags
		last       shotFlags
		score      float64
		trial      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Record the last shot and get the next trial to brew",
		Long: `Start or continue a dial-in session.

Without a shot, prints the next trial to brew. With a shot (flags or
--shot-file), records it first. The shot is scored with --score when given,
otherwise with its logged quality score, otherwise by the quality model.`,
		Example: `  # First shot of a new bag
  dialin next --bean ethiopia-guji

  # Report the shot brewed for trial 1
  dialin next --bean ethiopia-guji --trial 1 --grind 12 --dose 18 --yield 36 --time 27 --score 6.5

  # Let the model score a shot read from a file
  dialin next --bean ethiopia-guji --shot-file shot.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := dialin.DialInRequest{Ref: ref.ref()}
			if last.given(cmd) {
				rec, err := last.record(cmd)
				if err != nil {
					return err
				}
				ls := &dialin.LastShot{Shot: rec, TrialNumber: trial}
				if cmd.Flags().Changed("score") {
					ls.Score = &score
				}
				req.LastShot = ls
			}
			return runNext(cmd, req, jsonOutput)
		},
	}

	addRefFlags(cmd, &ref)
	addShotFlags(cmd, &last)
	cmd.Flags().Float64Var(&score, "score", 0, "Observed quality score (0-10)")
	cmd.Flags().IntVar(&trial, "trial", 0, "Pending trial the shot was brewed for")
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}

func runNext(cmd *cobra.Command, req dialin.DialInRequest, jsonOutput bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.svc.StartOrContinueDialIn(cmd.Context(), req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, rec)
	}
	writeRecommendation(w, rec)
	return nil
}

func writeRecommendation(w io.Writer, rec dialin.Recommendation) {
	if ls := rec.LastShot; ls != nil {
		title(w, "Last shot")
		if ls.AlreadyCompleted {
			field(w, "Trial", fmt.Sprintf("#%d already scored %s, kept", ls.TrialNumber, num(ls.Score)))
		} else {
			field(w, "Trial", fmt.Sprintf("#%d", ls.TrialNumber))
			field(w, "Score", fmt.Sprintf("%s %s", num(ls.Score), dimStyle.Render("("+ls.ScoreSource+")")))
		}
		if ls.Prediction.Degraded {
			field(w, "Model", warnStyle.Render("unavailable, scored neutral"))
		}
		fmt.Fprintln(w)
	}

	title(w, fmt.Sprintf("Trial #%d  %s", rec.TrialNumber, dimStyle.Render(rec.StudyName)))
	field(w, "Brew", params(rec.Params))
	field(w, "State", stateStyle(rec.State).Render(string(rec.State)))
	field(w, "Scored", fmt.Sprintf("%d", rec.TotalTrials))
	if b := rec.BestSoFar; b != nil {
		field(w, "Best so far", fmt.Sprintf("%s on trial #%d (%s)", goodStyle.Render(num(b.Score)), b.TrialNumber, params(b.Params)))
	}
	if rec.Message != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  "+rec.Message)
	}
}
