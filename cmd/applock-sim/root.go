package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logFormat  string
	jsonOutput bool
	envFile    string
	auditLog   bool
)

var rootCmd = &cobra.Command{
	Use:   "applock-sim",
	Short: "Replay session and app-lock scenarios",
	Long: `applock-sim drives a session controller through scripted steps:
startup, biometric outcomes, login, idle and lifecycle locks, network
changes and logout. Time is simulated, so idle timeouts run instantly.

Environment Variables:
  APPLOCK_*    configuration overrides (e.g. APPLOCK_IDLE_TIMEOUT=30s)
  REDIS_ADDR   default Redis address for scripts using store: redis`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "controller log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "console or json")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print step results as JSON lines")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before running")
	runCmd.Flags().BoolVar(&auditLog, "audit", false, "log audit events through the controller logger")
	rootCmd.AddCommand(runCmd)
}
