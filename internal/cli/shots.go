package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewShotsCmd creates the 'shots' command for browsing the shot archive.
func NewShotsCmd() *cobra.Command {
	var (
		bean       string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "shots",
		Short: "List archived shots of a bean",
		Long: `List the shots recorded through 'dialin next' along with the score the
quality model predicted at the time. Newest first.`,
		Example: `  dialin shots --bean ethiopia-guji --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			shots, err := a.store.ListShots(cmd.Context(), bean, limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, shots)
			}

			title(w, fmt.Sprintf("Shots of %s (%d)", bean, len(shots)))
			if len(shots) == 0 {
				fmt.Fprintln(w, dimStyle.Render("  No shots archived."))
				return nil
			}
			fmt.Fprintln(w, labelStyle.Render(fmt.Sprintf("  %-20s %-10s %-10s %s", "WHEN", "METHOD", "PREDICTED", "CONFIDENCE")))
			for _, s := range shots {
				fmt.Fprintf(w, "  %-20s %-10s %-10s %s\n",
					s.CreatedAt.Local().Format("2006-01-02 15:04"), s.Method, num(s.PredictedScore), num(s.Confidence))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&bean, "bean", "b", "", "Bean ID (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum shots to list")
	_ = cmd.MarkFlagRequired("bean")
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}
