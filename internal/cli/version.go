package cli

import (
	"fmt"

	"github.com/khanglvm/espresso-dialin/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the 'version' command
func NewVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the current version, commit hash, build date, and Go version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd, jsonOutput)
		},
	}
	addJSONFlag(cmd, &jsonOutput)

	return cmd
}

func runVersion(cmd *cobra.Command, jsonOutput bool) error {
	info := version.Get()
	w := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(w, info)
	}
	fmt.Fprintf(w, "Version:  %s\n", info.Version)
	fmt.Fprintf(w, "Commit:   %s\n", info.Commit)
	fmt.Fprintf(w, "Built:    %s\n", info.Date)
	fmt.Fprintf(w, "Go:       %s\n", info.GoVersion)
	return nil
}
