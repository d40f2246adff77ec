// Package config loads calculator settings from defaults, an optional YAML
// file, CALC_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/lemonberrylabs/calculator/pkg/keypad"
	"github.com/lemonberrylabs/calculator/pkg/logging"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "CALC_"

// Config file names searched in the working directory.
const (
	ConfigFileName    = "calc.yaml"
	ConfigFileNameAlt = "calc.yml"
)

// Defaults.
const (
	DefaultHTTPAddr  = ":8787"
	DefaultGRPCAddr  = ":8788"
	DefaultLogLevel  = "info"
	DefaultLogFormat = logging.FormatText
)

// Config holds every calculator setting.
type Config struct {
	HTTPAddr    string `koanf:"http_addr"`
	GRPCAddr    string `koanf:"grpc_addr"`
	History     string `koanf:"history"` // SQLite path; empty keeps history in memory
	MaxDigits   int    `koanf:"max_digits"`
	TapesDir    string `koanf:"tapes_dir"`
	ReplHistory string `koanf:"repl_history"`
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http_addr":    DefaultHTTPAddr,
		"grpc_addr":    DefaultGRPCAddr,
		"history":      "",
		"max_digits":   keypad.DefaultMaxDigits,
		"tapes_dir":    "",
		"repl_history": "",
		"log_level":    DefaultLogLevel,
		"log_format":   DefaultLogFormat,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:  DefaultHTTPAddr,
		GRPCAddr:  DefaultGRPCAddr,
		MaxDigits: keypad.DefaultMaxDigits,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
	}
}

// findConfigFile returns the config file to use.
// Priority: explicit path > calc.yaml > calc.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load builds the configuration. cfgFile names an explicit config file;
// when empty, calc.yaml or calc.yml in the working directory is used if
// present. Only flags the user actually set override other sources.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path := findConfigFile(cfgFile)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// CALC_MAX_DIGITS -> max_digits
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if c.MaxDigits < 1 {
		return fmt.Errorf("max_digits must be at least 1, got %d", c.MaxDigits)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("log_format must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.LogFormat)
	}
	return nil
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default calc.yaml in the working directory)")
	fs.String("http-addr", DefaultHTTPAddr, "HTTP listen address")
	fs.String("grpc-addr", DefaultGRPCAddr, "gRPC listen address")
	fs.String("history", "", "SQLite history database (default in memory)")
	fs.Int("max-digits", keypad.DefaultMaxDigits, "digits allowed in one keypad entry")
	fs.String("tapes-dir", "", "directory of tapes to run and watch")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", DefaultLogFormat, "log format (text, json)")
}
