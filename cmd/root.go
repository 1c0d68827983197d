package cmd

import (
	"github.com/spf13/cobra"
)

// version is set via -ldflags at build time.
var version = "(devel)"

var rootCmd = &cobra.Command{
	Use:     "learnengine",
	Version: version,
	Short:   "Adaptive learning engine",
	Long: `learnengine tracks per-learner mastery of knowledge points, ranks what to
study next, plans learning paths and runs adaptive practice sessions.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if show, _ := cmd.Flags().GetBool("metrics"); show {
			printMetrics(cmd.OutOrStdout())
		}
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate("learnengine {{.Version}}\n")
	rootCmd.PersistentFlags().String("db", "", "Database DSN or SQLite file path (overrides LEARN_DB_DSN)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: sqlite or postgres (overrides LEARN_DB_DRIVER)")
	rootCmd.PersistentFlags().Bool("trace", false, "Print OpenTelemetry spans to stderr")
	rootCmd.PersistentFlags().Bool("metrics", false, "Print engine counters after the command")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(kpCmd)
	rootCmd.AddCommand(attemptCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(practiceCmd)
	rootCmd.AddCommand(reportCmd)
}
