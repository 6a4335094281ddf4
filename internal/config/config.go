// Package config loads the JSON configuration file with environment
// variable expansion and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"lumichat/internal/locale"
)

// Config is the root configuration for lumichat.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Providers   ProvidersConfig   `json:"providers"`
	Persistence PersistenceConfig `json:"persistence"`
	Auth        AuthConfig        `json:"auth"`
	Web         WebConfig         `json:"web"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel          string `json:"logLevel"`
	LogFile           string `json:"logFile,omitempty"`
	Locale            string `json:"locale"`
	DefaultModel      string `json:"defaultModel"`
	SystemInstruction string `json:"systemInstruction,omitempty"`
}

type ProvidersConfig struct {
	Gemini       GeminiConfig       `json:"gemini"`
	Pollinations PollinationsConfig `json:"pollinations"`
	Speech       SpeechConfig       `json:"speech"`
}

type GeminiConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"apiKey,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model,omitempty"`
}

type PollinationsConfig struct {
	Enabled bool   `json:"enabled"`
	APIURL  string `json:"apiUrl,omitempty"`
}

type SpeechConfig struct {
	Enabled bool   `json:"enabled"`
	Voice   string `json:"voice,omitempty"`
	Model   string `json:"model,omitempty"`
}

type PersistenceConfig struct {
	DBPath string       `json:"dbPath"`
	Remote RemoteConfig `json:"remote"`
}

type RemoteConfig struct {
	Enabled bool   `json:"enabled"`
	APIBase string `json:"apiBase,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

type AuthConfig struct {
	Enabled bool   `json:"enabled"`
	APIBase string `json:"apiBase,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.lumichat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lumichat"
	}
	return filepath.Join(home, ".lumichat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Persistence.DBPath = ExpandPath(cfg.Persistence.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if _, err := locale.Parse(cfg.General.Locale); err != nil {
		errs = append(errs, "general.locale: "+err.Error())
	}

	if !cfg.Providers.Gemini.Enabled && !cfg.Providers.Pollinations.Enabled {
		errs = append(errs, "providers: at least one text provider must be enabled")
	}
	if cfg.Providers.Gemini.Enabled && cfg.Providers.Gemini.APIKey == "" {
		errs = append(errs, "providers.gemini: apiKey is required when enabled")
	}
	if cfg.Providers.Speech.Enabled && !cfg.Providers.Gemini.Enabled {
		errs = append(errs, "providers.speech: requires the gemini provider")
	}

	if cfg.Persistence.DBPath == "" {
		errs = append(errs, "persistence.dbPath must not be empty")
	}
	if cfg.Persistence.Remote.Enabled && cfg.Persistence.Remote.APIBase == "" {
		errs = append(errs, "persistence.remote: apiBase is required when enabled")
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.APIBase == "" {
			errs = append(errs, "auth: apiBase is required when enabled")
		}
		if !cfg.Persistence.Remote.Enabled {
			errs = append(errs, "auth: requires persistence.remote to be enabled")
		}
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
