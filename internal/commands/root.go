package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "countinghouse",
		Short: "Bookkeeping automation engine: import, categorize, dedupe, reconcile",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newDedupeCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newReviewCommand())
	rootCmd.AddCommand(newCorrectCommand())
	rootCmd.AddCommand(newRulesCommand())

	return rootCmd
}
