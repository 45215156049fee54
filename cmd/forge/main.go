// Command forge runs the Arcadia Forge session orchestrator against a
// project directory: it drives an LLM coding agent across bounded sessions
// until the application specification is satisfied, and gives the human
// pause/inspect/respond controls over the run.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose    bool
	projectDir string

	logger *zap.Logger

	// exitCode carries the supervisor's exit-code contract (0 ok, 10
	// paused, 20 budget, 30 config, 40 crash) out through main.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Autonomous coding agent orchestrator",
	Long: `Arcadia Forge drives an LLM-backed coding agent across bounded sessions
until every feature in the catalogue passes with evidence. State lives in
.arcadia/ under the project directory; the run can be paused with Ctrl-C
and resumed by starting again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		if projectDir == "" {
			projectDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", "", "Project directory (default: cwd)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the forge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("forge 0.1.0")
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
