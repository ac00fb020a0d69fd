package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for the gateway.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Server       ServerConfig       `json:"server"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Channels     ChannelsConfig     `json:"channels"`
	Feedback     FeedbackConfig     `json:"feedback"`
	Journal      JournalConfig      `json:"journal"`
	Catalog      CatalogConfig      `json:"catalog"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	BusBuffer             int    `json:"busBuffer"`
}

type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	PublicURL string `json:"publicUrl,omitempty"` // external base URL, used by set-webhook
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type OrchestratorConfig struct {
	URL                  string `json:"url"`
	TimeoutSeconds       int    `json:"timeoutSeconds"`
	RetryIntervalSeconds int    `json:"retryIntervalSeconds"`
}

func (o OrchestratorConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

func (o OrchestratorConfig) RetryInterval() time.Duration {
	return time.Duration(o.RetryIntervalSeconds) * time.Second
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type TelegramConfig struct {
	Enabled         bool   `json:"enabled"`
	Token           string `json:"token"`
	FeedbackChannel string `json:"feedbackChannel"` // "@name" or numeric chat ID
	ParseMode       string `json:"parseMode"`
}

type WhatsAppConfig struct {
	Enabled        bool    `json:"enabled"`
	AccountSID     string  `json:"accountSid"`
	AuthToken      string  `json:"authToken"`
	Number         string  `json:"number"` // sender, "whatsapp:+..."
	SendsPerSecond float64 `json:"sendsPerSecond"`
	Burst          int     `json:"burst"`
}

type FeedbackConfig struct {
	Enabled bool   `json:"enabled"`
	LogPath string `json:"logPath"`
}

// JournalConfig configures the SQLite retry-chain journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// CatalogConfig points at an optional override of the embedded catalog.
type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.japagenie).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".japagenie"
	}
	return filepath.Join(home, ".japagenie")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands and validates the config file at path.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrTemplate loads path, or falls back to Template() expanded against
// the environment when the file does not exist.
func LoadOrTemplate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	data, err := json.Marshal(Template())
	if err != nil {
		return nil, fmt.Errorf("cannot marshal template: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Feedback.LogPath = ExpandPath(cfg.Feedback.LogPath)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses default (possibly empty) when VAR is unset or empty;
// ${VAR} without a default is kept verbatim when VAR is unset.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		varName := groups[1]
		hasDefault := groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[3]
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

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.BusBuffer < 1 {
		errs = append(errs, "general.busBuffer must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.PublicURL != "" && !strings.HasPrefix(cfg.Server.PublicURL, "https://") {
		errs = append(errs, "server.publicUrl must use https")
	}

	if cfg.Orchestrator.TimeoutSeconds < 1 {
		errs = append(errs, "orchestrator.timeoutSeconds must be >= 1")
	}
	if cfg.Orchestrator.RetryIntervalSeconds < 1 {
		errs = append(errs, "orchestrator.retryIntervalSeconds must be >= 1")
	}
	if u := cfg.Orchestrator.URL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, "orchestrator.url must be an http(s) URL")
	}

	switch cfg.Channels.Telegram.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
	default:
		errs = append(errs, "channels.telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}

	wa := cfg.Channels.WhatsApp
	if wa.Enabled {
		if !strings.HasPrefix(wa.Number, "whatsapp:") {
			errs = append(errs, "channels.whatsapp.number must start with \"whatsapp:\"")
		}
		if wa.SendsPerSecond <= 0 {
			errs = append(errs, "channels.whatsapp.sendsPerSecond must be > 0")
		}
		if wa.Burst < 1 {
			errs = append(errs, "channels.whatsapp.burst must be >= 1")
		}
	}

	if cfg.Feedback.Enabled && cfg.Feedback.LogPath == "" {
		errs = append(errs, "feedback.logPath is required when feedback is enabled")
	}
	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
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
