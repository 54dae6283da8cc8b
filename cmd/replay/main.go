// callwatch-replay plays recorded call transcripts into the evaluator
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mbd888/callwatch/internal/logging"
)

var (
	logLevel  string
	logFormat string
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "callwatch-replay",
	Short: "Replay recorded collections calls through the compliance evaluator",
	Long: "Loads JSON or YAML call transcripts and feeds them turn by turn to a callwatch " +
		"server, or to an in-process evaluator when no server is given, printing scores and alerts as they arrive.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		logger = logging.NewWithWriter(cmd.ErrOrStderr(), logLevel, logFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format (text or json)")
	rootCmd.AddCommand(playCmd, validateCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
