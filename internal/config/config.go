// Package config loads and validates the relay's YAML configuration.
// Secrets come in through ${VAR} / ${VAR:-default} environment expansion so
// config files stay committable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Channels ChannelsConfig `yaml:"channels"`
	Backends BackendsConfig `yaml:"backends"`
	Context  ContextConfig  `yaml:"context"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel            string `yaml:"logLevel"`
	LogFile             string `yaml:"logFile,omitempty"`
	ListenAddr          string `yaml:"listenAddr"` // HTTP server for webhooks and metrics
	MaxConcurrentEvents int    `yaml:"maxConcurrentEvents"`
	MediaCacheDir       string `yaml:"mediaCacheDir,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

type TelegramConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Token     string         `yaml:"token"`
	AllowFrom FlexStringList `yaml:"allowFrom,omitempty"`
	ParseMode string         `yaml:"parseMode"`
}

type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AppSecret     string `yaml:"appSecret,omitempty"`
	AccessToken   string `yaml:"accessToken,omitempty"`
	VerifyToken   string `yaml:"verifyToken,omitempty"`
	PhoneNumberID string `yaml:"phoneNumberId,omitempty"`
	WebhookPath   string `yaml:"webhookPath"`
}

type BackendsConfig struct {
	Completion CompletionConfig `yaml:"completion"`
	Image      ImageConfig      `yaml:"image"`
	Whisper    WhisperConfig    `yaml:"whisper"`
	TTS        TTSConfig        `yaml:"tts"`
}

type CompletionConfig struct {
	APIBase      string `yaml:"apiBase"`
	APIKey       string `yaml:"apiKey,omitempty"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt,omitempty"`
	MaxTokens    int    `yaml:"maxTokens"`
}

type ImageConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIBase string `yaml:"apiBase"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model"`
	Size    string `yaml:"size"`
}

type WhisperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIBase  string `yaml:"apiBase"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model"`
	Language string `yaml:"language,omitempty"`
}

type TTSConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIBase string `yaml:"apiBase"`
	APIKey  string `yaml:"apiKey,omitempty"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
}

type ContextConfig struct {
	DBPath     string `yaml:"dbPath"`     // empty = in-memory store
	MaxEntries int    `yaml:"maxEntries"` // 0 = unbounded history per user
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// FlexStringList is a []string that also accepts YAML sequences of numbers
// (allow lists are user IDs, which people write unquoted).
type FlexStringList []string

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	var ss []string
	if err := node.Decode(&ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			result = append(result, v)
		case int:
			result = append(result, strconv.Itoa(v))
		case int64:
			result = append(result, strconv.FormatInt(v, 10))
		case float64:
			result = append(result, strconv.FormatInt(int64(v), 10))
		default:
			result = append(result, fmt.Sprint(v))
		}
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.slcbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slcbot"
	}
	return filepath.Join(home, ".slcbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
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
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Context.DBPath = ExpandPath(cfg.Context.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.MediaCacheDir = ExpandPath(cfg.General.MediaCacheDir)

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
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentEvents < 1 || cfg.General.MaxConcurrentEvents > 100 {
		errs = append(errs, "general.maxConcurrentEvents must be between 1 and 100")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.ListenAddr == "" {
		errs = append(errs, "general.listenAddr is required")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.AccessToken == "" {
			errs = append(errs, "channels.whatsapp.accessToken is required when whatsapp is enabled")
		}
		if cfg.Channels.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "channels.whatsapp.phoneNumberId is required when whatsapp is enabled")
		}
		if cfg.Channels.WhatsApp.VerifyToken == "" {
			errs = append(errs, "channels.whatsapp.verifyToken is required when whatsapp is enabled")
		}
	}
	if !cfg.Channels.Telegram.Enabled && !cfg.Channels.WhatsApp.Enabled {
		errs = append(errs, "at least one channel must be enabled")
	}

	if cfg.Backends.Completion.APIKey == "" {
		errs = append(errs, "backends.completion.apiKey is required")
	}
	if cfg.Backends.Completion.MaxTokens < 1 {
		errs = append(errs, "backends.completion.maxTokens must be >= 1")
	}
	if cfg.Context.MaxEntries < 0 {
		errs = append(errs, "context.maxEntries must be >= 0")
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
