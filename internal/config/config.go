package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for relaybot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Inference InferenceConfig `json:"inference"`
	Channels  ChannelsConfig  `json:"channels"`
	Usage     UsageConfig     `json:"usage"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel   string `json:"logLevel"`
	LogFormat  string `json:"logFormat,omitempty"`  // "text" | "json"
	LogFile    string `json:"logFile,omitempty"`    // optional, rotated
	Locale     string `json:"locale"`               // reply language, see internal/locale
	LocaleFile string `json:"localeFile,omitempty"` // optional YAML catalog replacing the built-in one
	BotName    string `json:"botName"`
	BusBuffer  int    `json:"busBuffer,omitempty"`
}

// InferenceConfig describes the completion endpoint. Model and SystemPrompt are
// the process-wide values every turn reads.
type InferenceConfig struct {
	Provider            string `json:"provider"` // "azure" | "openai"
	APIKey              string `json:"apiKey,omitempty"`
	Endpoint            string `json:"endpoint,omitempty"`
	Deployment          string `json:"deployment,omitempty"`
	APIVersion          string `json:"apiVersion,omitempty"`
	Model               string `json:"model"`
	SystemPrompt        string `json:"systemPrompt"`
	IncludeSystemPrompt bool   `json:"includeSystemPrompt"`
	TimeoutSeconds      int    `json:"timeoutSeconds"`
}

type ChannelsConfig struct {
	BotFramework BotFrameworkConfig `json:"botframework"`
	Telegram     TelegramConfig     `json:"telegram"`
	Discord      DiscordConfig      `json:"discord"`
	Slack        SlackConfig        `json:"slack"`
	WebSocket    WebSocketConfig    `json:"websocket"`
	Webhook      WebhookConfig      `json:"webhook"`
}

type BotFrameworkConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Path        string `json:"path"`
	AppID       string `json:"appId,omitempty"`
	AppPassword string `json:"appPassword,omitempty"`
	TenantID    string `json:"tenantId,omitempty"` // single-tenant bots only
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type DiscordConfig struct {
	Enabled          bool   `json:"enabled"`
	Token            string `json:"token"`
	GuildID          string `json:"guildId,omitempty"`          // optional: restrict to specific guild
	WelcomeChannelID string `json:"welcomeChannelId,omitempty"` // where joins are greeted; guild system channel when empty
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	Secret  string `json:"secret,omitempty"`
	// AllowedReplyHosts restricts reply_url callbacks; reply_url also needs a secret.
	AllowedReplyHosts FlexStringList `json:"allowedReplyHosts,omitempty"`
}

// UsageConfig configures the token usage ledger.
type UsageConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
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

	cfg.Usage.DBPath = ExpandPath(cfg.Usage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.LocaleFile = ExpandPath(cfg.General.LocaleFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Defaults().
// The bool reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Defaults()
		cfg.Usage.DBPath = ExpandPath(cfg.Usage.DBPath)
		return cfg, false, nil
	}
	return nil, false, err
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Validate checks enumerations and port ranges. Credentials are deliberately
// not checked here: a bad key surfaces as an error reply on the first turn.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Inference.Provider {
	case "", ProviderAzure, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Sprintf("inference.provider must be one of: %s, %s", ProviderAzure, ProviderOpenAI))
	}
	switch strings.ToLower(cfg.General.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.Inference.TimeoutSeconds < 0 {
		errs = append(errs, "inference.timeoutSeconds must be >= 0")
	}

	for _, p := range []struct {
		name string
		port int
	}{
		{"channels.botframework.port", cfg.Channels.BotFramework.Port},
		{"channels.websocket.port", cfg.Channels.WebSocket.Port},
		{"channels.webhook.port", cfg.Channels.Webhook.Port},
		{"metrics.port", cfg.Metrics.Port},
	} {
		if p.port < 0 || p.port > 65535 {
			errs = append(errs, p.name+" must be between 0 and 65535")
		}
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
