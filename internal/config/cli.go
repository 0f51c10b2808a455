package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// CLIFlags holds command-line overrides. Nil fields were not set on the
// command line and leave the lower layers untouched.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// RegisterFlags adds the override flags to fs and returns a function that
// collects the ones the user actually set once fs has been parsed.
func RegisterFlags(fs *pflag.FlagSet) func() CLIFlags {
	configPath := fs.StringP("config", "c", DefaultConfigFile, "path to YAML config file")
	port := fs.StringP("port", "p", "", "HTTP listen port")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURL := fs.String("nats-url", "", "NATS server URL")

	return func() CLIFlags {
		var f CLIFlags
		if fs.Changed("config") {
			f.ConfigPath = configPath
		}
		if fs.Changed("port") {
			f.Port = port
		}
		if fs.Changed("log-level") {
			f.LogLevel = logLevel
		}
		if fs.Changed("dsn") {
			f.DSN = dsn
		}
		if fs.Changed("nats-url") {
			f.NatsURL = natsURL
		}
		return f
	}
}

// ParseFlags parses args into CLIFlags.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := pflag.NewFlagSet("reviewforge", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	collect := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}
	return collect(), nil
}

// LoadWithCLI loads configuration with the full hierarchy:
// defaults < YAML < ENV < CLI flags. It returns the YAML path used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
}
