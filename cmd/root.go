// Package main provides the CLI entry point for the energy replay service.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
	rootCmd = &cobra.Command{
		Use:   "energy-replay",
		Short: "Replay-driven power prediction and peak detection",
		Long: `Replays historical building consumption hour by hour, predicts each hour
with an external model and flags peaks against a per-building threshold:
- serve: HTTP control surface, live event stream and gRPC health
- seed: writes synthetic history for a building
- threshold: computes and stores a building's peak threshold`,
		Version: "1.0.0",
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/energy-replay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	rootCmd.PersistentFlags().String("db-driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("db-host", "localhost", "PostgreSQL host")
	rootCmd.PersistentFlags().Int("db-port", 5432, "PostgreSQL port")
	rootCmd.PersistentFlags().String("db-user", "postgres", "PostgreSQL user")
	rootCmd.PersistentFlags().String("db-password", "", "PostgreSQL password")
	rootCmd.PersistentFlags().String("db-name", "energy", "PostgreSQL database name")
	rootCmd.PersistentFlags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	rootCmd.PersistentFlags().String("db-path", "energy-replay.db", "sqlite database file")
	rootCmd.PersistentFlags().String("threshold-type", "MU_PLUS_2SIGMA", "threshold statistic (MU_PLUS_2SIGMA, P95)")

	// Bind flags to viper
	bindings := map[string]string{
		"log.level":      "log-level",
		"log.format":     "log-format",
		"db.driver":      "db-driver",
		"db.host":        "db-host",
		"db.port":        "db-port",
		"db.user":        "db-user",
		"db.password":    "db-password",
		"db.name":        "db-name",
		"db.sslmode":     "db-sslmode",
		"db.path":        "db-path",
		"threshold.type": "threshold-type",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Fatalf("failed to bind %s flag: %v", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile, envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Log config file being used
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
