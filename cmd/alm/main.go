package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "almanac.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alm",
		Short: "Almanac — municipal variable pipeline",
		Long: `Almanac fetches the contact details and other variables a municipality
publishes, stages them as drafts for review, and publishes approved values.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newJobCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newCheckSourcesCmd())
	cmd.AddCommand(newDraftCmd())
	cmd.AddCommand(newVariableCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newNotificationCmd())
	cmd.AddCommand(newReviewCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alm %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
