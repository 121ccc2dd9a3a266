package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/subosito/gotenv"
)

// Environment variables read at startup. Names follow the Azure samples so an
// existing .env keeps working.
const (
	EnvAPIKey           = "AZURE_OPENAI_API_KEY"
	EnvEndpoint         = "AZURE_OPENAI_ENDPOINT"
	EnvDeployment       = "AZURE_OPENAI_DEPLOYMENT_NAME"
	EnvModelName        = "AZURE_OPENAI_MODEL_NAME"
	EnvAPIVersion       = "AZURE_OPENAI_API_VERSION"
	EnvAppID            = "MicrosoftAppId"
	EnvAppPassword      = "MicrosoftAppPassword"
	EnvAppTenantID      = "MicrosoftAppTenantId"
	EnvBotFrameworkPort = "PORT"
)

// LoadDotEnv loads the given .env files into the process environment.
// Variables that are already set win; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := gotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the environment onto cfg. Only variables that are set and
// non-empty take effect.
func ApplyEnv(cfg *Config) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Inference.APIKey, EnvAPIKey)
	set(&cfg.Inference.Endpoint, EnvEndpoint)
	set(&cfg.Inference.Deployment, EnvDeployment)
	set(&cfg.Inference.Model, EnvModelName)
	set(&cfg.Inference.APIVersion, EnvAPIVersion)
	set(&cfg.Channels.BotFramework.AppID, EnvAppID)
	set(&cfg.Channels.BotFramework.AppPassword, EnvAppPassword)
	set(&cfg.Channels.BotFramework.TenantID, EnvAppTenantID)

	var port string
	set(&port, EnvBotFrameworkPort)
	if port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Channels.BotFramework.Port = n
		}
	}
}

// ApplyDefaults fills the process-wide values that must never be empty.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Inference.Model) == "" {
		cfg.Inference.Model = DefaultModelName
	}
	if strings.TrimSpace(cfg.Inference.SystemPrompt) == "" {
		cfg.Inference.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Inference.Provider == "" {
		cfg.Inference.Provider = ProviderAzure
	}
	if cfg.General.BotName == "" {
		cfg.General.BotName = DefaultBotName
	}
}

// Resolve is the startup sequence shared by every command: .env files, config
// file (or defaults), environment overrides, defaults.
func Resolve(path string, dotEnv ...string) (*Config, bool, error) {
	if err := LoadDotEnv(dotEnv...); err != nil {
		return nil, false, err
	}
	cfg, fromFile, err := LoadOrDefault(path)
	if err != nil {
		return nil, false, err
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	return cfg, fromFile, nil
}
