// Package config resolves runtime configuration from defaults, an optional
// config file, environment variables, and command-line flags, producing an
// explicit Config passed to constructors. Nothing reads the environment at
// package init time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultModel          = "gpt-4.1-mini"
	DefaultMaxSteps       = 8
	DefaultDatabaseURL    = "northwind.db"
	DefaultServerCommand  = "northwind-server"
	DefaultRequestTimeout = 30 * time.Second
	DefaultShutdownGrace  = 2 * time.Second
)

// Config holds runtime configuration values.
type Config struct {
	// DatabaseURL is a postgres:// URL or a SQLite path.
	DatabaseURL string
	// ServerCommand is the Tool Host executable the adapter spawns.
	ServerCommand string
	// ServerArgs are extra arguments passed to the Tool Host.
	ServerArgs []string
	// ServerDir overrides the Tool Host working directory.
	ServerDir string

	Model   string
	APIKey  string
	BaseURL string

	MaxSteps       int
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
	Verbose        bool
}

type rawConfig struct {
	DatabaseURL    string   `mapstructure:"database_url"`
	ServerCommand  string   `mapstructure:"server_command"`
	ServerArgs     []string `mapstructure:"server_args"`
	ServerDir      string   `mapstructure:"server_dir"`
	Model          string   `mapstructure:"model"`
	APIKey         string   `mapstructure:"api_key"`
	BaseURL        string   `mapstructure:"base_url"`
	MaxSteps       int      `mapstructure:"max_steps"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	ShutdownGrace  string   `mapstructure:"shutdown_grace"`
	Verbose        bool     `mapstructure:"verbose"`
}

// Load resolves configuration. cmd may be nil when no flags apply.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NORTHWIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key gets a default so AutomaticEnv can resolve it.
	v.SetDefault("database_url", DefaultDatabaseURL)
	v.SetDefault("server_command", DefaultServerCommand)
	v.SetDefault("server_args", []string{})
	v.SetDefault("server_dir", "")
	v.SetDefault("model", DefaultModel)
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "")
	v.SetDefault("max_steps", DefaultMaxSteps)
	v.SetDefault("request_timeout", DefaultRequestTimeout.String())
	v.SetDefault("shutdown_grace", DefaultShutdownGrace.String())
	v.SetDefault("verbose", false)

	if cmd != nil {
		_ = v.BindPFlag("database_url", cmd.Flags().Lookup("database-url"))
		_ = v.BindPFlag("server_command", cmd.Flags().Lookup("server"))
		_ = v.BindPFlag("model", cmd.Flags().Lookup("model"))
		_ = v.BindPFlag("max_steps", cmd.Flags().Lookup("max-steps"))
		_ = v.BindPFlag("request_timeout", cmd.Flags().Lookup("request-timeout"))
		_ = v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	}

	// Conventional unprefixed variables are bound at env precedence, prefixed
	// name first, so they never outrank an explicitly set flag.
	_ = v.BindEnv("database_url", "NORTHWIND_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("api_key", "NORTHWIND_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("base_url", "NORTHWIND_BASE_URL", "OPENAI_BASE_URL")

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: &raw})
	if err != nil {
		return Config{}, err
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}

	requestTimeout, err := parseDuration(raw.RequestTimeout, DefaultRequestTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("invalid request_timeout: %w", err)
	}

	shutdownGrace, err := parseDuration(raw.ShutdownGrace, DefaultShutdownGrace)
	if err != nil {
		return Config{}, fmt.Errorf("invalid shutdown_grace: %w", err)
	}

	cfg := Config{
		DatabaseURL:    raw.DatabaseURL,
		ServerCommand:  raw.ServerCommand,
		ServerArgs:     raw.ServerArgs,
		ServerDir:      raw.ServerDir,
		Model:          raw.Model,
		APIKey:         raw.APIKey,
		BaseURL:        raw.BaseURL,
		MaxSteps:       raw.MaxSteps,
		RequestTimeout: requestTimeout,
		ShutdownGrace:  shutdownGrace,
		Verbose:        raw.Verbose,
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = DefaultDatabaseURL
	}

	if cfg.ServerCommand == "" {
		cfg.ServerCommand = DefaultServerCommand
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}

	if d <= 0 {
		return fallback, nil
	}

	return d, nil
}

func loadConfigFile(v *viper.Viper) error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}

	base := filepath.Join(configDir, "northwind")

	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		v.SetConfigFile(path)

		return v.ReadInConfig()
	}

	return nil
}
