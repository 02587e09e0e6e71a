package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/energy-replay/internal/store"
	"procodus.dev/energy-replay/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml), a dotenv file and
// environment variables.
func InitConfig(cfgFile, envFile string) error {
	// Variables already set in the environment win over the dotenv file.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/energy-replay/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/energy-replay/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("ENERGY_REPLAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// The model service has historically been configured without the prefix.
	if err := viper.BindEnv("model.url", "ENERGY_REPLAY_MODEL_URL", "MODEL_API_URL"); err != nil {
		return fmt.Errorf("failed to bind model URL: %w", err)
	}

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.New(&logger.Config{
		Output:  os.Stdout,
		Service: "energy-replay",
		Format:  viper.GetString("log.format"),
		Level:   logger.ParseLevel(viper.GetString("log.level")),
	})
}

// storeConfig builds the database configuration shared by every command.
func storeConfig(log *slog.Logger) *store.Config {
	return &store.Config{
		Logger:        log,
		Driver:        viper.GetString("db.driver"),
		Host:          viper.GetString("db.host"),
		Port:          viper.GetInt("db.port"),
		User:          viper.GetString("db.user"),
		Password:      viper.GetString("db.password"),
		DBName:        viper.GetString("db.name"),
		SSLMode:       viper.GetString("db.sslmode"),
		Path:          viper.GetString("db.path"),
		ThresholdType: store.ParseThresholdType(strings.ToUpper(viper.GetString("threshold.type"))),
	}
}
