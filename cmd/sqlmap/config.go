package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// config holds the command settings. Every key can come from a flag, a
// SQLMAP_* environment variable (dashes become underscores), a .env file or
// .sqlmap.yaml in the working directory, in that order of precedence.
type config struct {
	Driver    string
	DSN       string
	Timeout   time.Duration
	Repeat    int
	Stats     bool
	LogLevel  string
	LogFormat string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(".sqlmap")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SQLMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("driver", "sqlite3")
	v.SetDefault("repeat", 1)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	return v
}

// loadConfig reads envFiles (missing ones are skipped) and the config file,
// then resolves the settings from v.
func loadConfig(v *viper.Viper, envFiles ...string) (*config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if f := v.GetString("config"); f != "" {
		v.SetConfigFile(f)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &config{
		Driver:    v.GetString("driver"),
		DSN:       v.GetString("dsn"),
		Timeout:   v.GetDuration("timeout"),
		Repeat:    v.GetInt("repeat"),
		Stats:     v.GetBool("stats"),
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
	}
	if cfg.DSN == "" {
		return nil, errors.New("no data source: set --dsn or SQLMAP_DSN")
	}
	if cfg.Repeat < 1 {
		return nil, fmt.Errorf("repeat must be at least 1, got %d", cfg.Repeat)
	}
	return cfg, nil
}
