// Package config loads fetchdrive settings from an optional YAML file and
// FETCHDRIVE_ prefixed environment variables.
package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks the environment variables read by Load.
	EnvPrefix = "FETCHDRIVE_"
	// DefaultFile is the config file read when no path is given.
	DefaultFile = "fetchdrive.yaml"
)

type Config struct {
	Driver    DriverConfig    `koanf:"driver"`
	Journal   JournalConfig   `koanf:"journal"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
	Echo      EchoConfig      `koanf:"echo"`
}

type DriverConfig struct {
	BaseURL     string            `koanf:"base_url"`
	Timeout     time.Duration     `koanf:"timeout"`
	Headers     map[string]string `koanf:"headers"`
	UserAgent   string            `koanf:"user_agent"`
	DenyPrivate bool              `koanf:"deny_private"`
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// JournalConfig locates the sqlite exchange journal. An empty path disables it.
type JournalConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

type EchoConfig struct {
	Port int `koanf:"port"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultFile when empty), then overlays the environment.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	// FETCHDRIVE_DRIVER__BASE_URL -> driver.base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"driver.timeout":         "30s",
		"driver.user_agent":      "fetchdrive/1.0",
		"driver.burst":           1,
		"telemetry.service_name": "fetchdrive",
		"log.level":              "info",
		"log.format":             "json",
		"echo.port":              8080,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Driver.BaseURL = substituteEnvVars(cfg.Driver.BaseURL)
	for name, value := range cfg.Driver.Headers {
		cfg.Driver.Headers[name] = substituteEnvVars(value)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
