/*
Package cli implements the espresso-dialin command line.

Every command that touches trial history opens the same stack: config file,
SQLite store, quality predictor (rules, linear artifact, or external model
process), background shot archive, and the dial-in service. serve exposes
that stack over MCP stdio; the other commands run one operation and print
the result, either styled for a terminal or as JSON with --json.
*/
package cli

import (
	"github.com/spf13/cobra"

	"github.com/khanglvm/espresso-dialin/internal/version"
)

// Persistent flag names.
const (
	flagConfig = "config"
	flagDB     = "db"
	flagJSON   = "json"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dialin",
		Short: "Espresso dial-in recommender and shot quality predictor",
		Long: `dialin guides you from a new bag of beans to a great shot.

Each (bean, method) pair is a dial-in session. Pull the recommended shot,
report how it tasted, and dialin proposes the next grind, dose, and target
time. Sessions move from cold to exploring, then refining once a promising
region is found, and finally converged.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String(flagConfig, "", "Config file (default ~/.espresso-dialin.json)")
	root.PersistentFlags().String(flagDB, "", "Trial history database (overrides storage.path)")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewNextCmd())
	root.AddCommand(NewReportCmd())
	root.AddCommand(NewHistoryCmd())
	root.AddCommand(NewBestCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewPredictCmd())
	root.AddCommand(NewShotsCmd())
	root.AddCommand(NewBenchmarkCmd())
	root.AddCommand(NewConfigCmd())
	root.AddCommand(NewVersionCmd())

	return root
}

// addJSONFlag registers the per-command --json flag.
func addJSONFlag(cmd *cobra.Command, target *bool) {
	cmd.Flags().BoolVarP(target, flagJSON, "j", false, "Output as JSON")
}

// addRefFlags registers the session flags shared by the history commands.
func addRefFlags(cmd *cobra.Command, ref *refFlags) {
	cmd.Flags().StringVarP(&ref.bean, "bean", "b", "", "Bean ID (required)")
	cmd.Flags().StringVarP(&ref.method, "method", "m", "espresso", "Brewing method")
	cmd.Flags().StringVarP(&ref.user, "user", "u", "", "User ID for a per-user session")
	_ = cmd.MarkFlagRequired("bean")
}
