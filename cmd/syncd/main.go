package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "syncd",
		Short: "Run and inspect distributed graph simulations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A .env file never overrides variables already in the environment.
			_ = godotenv.Load()
			return applyLogLevel(logLevel)
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("SYNCD_CONFIG", "cluster.toml"), "cluster config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("SYNCD_LOG_LEVEL", "info"), "trace|debug|info|warn|error")

	rootCmd.AddCommand(runCmd, simulateCmd, renderCmd, checkpointCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func applyLogLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func envOr(name, or string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return or
}
