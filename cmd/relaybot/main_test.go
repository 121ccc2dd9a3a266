package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"relaybot/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func channelNames(cfg *config.Config) []string {
	var names []string
	for _, ch := range buildChannels(cfg, discardLogger()) {
		names = append(names, ch.Name())
	}
	return names
}

func TestBuildChannelsDefaults(t *testing.T) {
	assert.Equal(t, []string{"botframework"}, channelNames(config.Defaults()))
}

func TestBuildChannelsSkipsMissingTokens(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.BotFramework.Enabled = false
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "discord-token"
	cfg.Channels.Slack.Enabled = true
	cfg.Channels.Slack.BotToken = "xoxb-1"
	cfg.Channels.WebSocket.Enabled = true
	cfg.Channels.Webhook.Enabled = true

	// telegram has no token and slack has no app token
	assert.Equal(t, []string{"discord", "websocket", "webhook"}, channelNames(cfg))
}

func TestRenderServiceFiles(t *testing.T) {
	unit := renderSystemd("/usr/local/bin/relaybot", "/etc/relaybot/config.json")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/relaybot serve --config /etc/relaybot/config.json")
	assert.NotContains(t, unit, "{{")

	plist := renderLaunchd("/usr/local/bin/relaybot", "/etc/relaybot/config.json", "/tmp/logs")
	assert.Contains(t, plist, "<string>"+launchdLabel+"</string>")
	assert.Contains(t, plist, "<string>serve</string>")
	assert.Contains(t, plist, "<string>/tmp/logs/relaybot-error.log</string>")
	assert.NotContains(t, plist, "{{")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearInferenceEnv(t *testing.T) {
	for _, name := range []string{
		config.EnvAPIKey, config.EnvEndpoint, config.EnvDeployment,
		config.EnvModelName, config.EnvAPIVersion,
	} {
		t.Setenv(name, "")
	}
}

func TestDoctorReportsMissingKey(t *testing.T) {
	clearInferenceEnv(t)
	path := writeConfig(t, `{
		"inference": {"provider": "azure", "endpoint": "https://example.openai.azure.com"},
		"channels": {"botframework": {"enabled": false}}
	}`)

	var out bytes.Buffer
	err := runDoctor(context.Background(), &out, path, false)
	require.Error(t, err)
	assert.Contains(t, out.String(), "[FAIL] API key")
	assert.Contains(t, out.String(), "[WARN] Deployment")
	assert.Contains(t, out.String(), "1 failed")
}

func TestDoctorPassesWithLedger(t *testing.T) {
	clearInferenceEnv(t)
	dbPath := filepath.Join(t.TempDir(), "usage.db")
	path := writeConfig(t, `{
		"inference": {
			"provider": "azure",
			"apiKey": "k",
			"endpoint": "https://example.openai.azure.com",
			"deployment": "chat"
		},
		"channels": {"botframework": {"enabled": false}},
		"usage": {"enabled": true, "dbPath": "`+filepath.ToSlash(dbPath)+`"}
	}`)

	var out bytes.Buffer
	require.NoError(t, runDoctor(context.Background(), &out, path, false))
	assert.Contains(t, out.String(), "[PASS] Usage ledger")
	assert.Contains(t, out.String(), "[PASS] Model")
	assert.Contains(t, out.String(), "gpt-35-turbo (version 0301)")
	assert.Contains(t, out.String(), "0 failed")
}

func TestDoctorListsLanguagesForUnknownLocale(t *testing.T) {
	clearInferenceEnv(t)
	path := writeConfig(t, `{
		"general": {"locale": "fr"},
		"inference": {"provider": "azure", "apiKey": "k", "endpoint": "https://example.openai.azure.com", "deployment": "chat"},
		"channels": {"botframework": {"enabled": false}}
	}`)

	var out bytes.Buffer
	err := runDoctor(context.Background(), &out, path, false)
	require.Error(t, err)
	assert.Contains(t, out.String(), `[FAIL] Locale`)
	assert.Contains(t, out.String(), "available: en, ja")
}

func TestNewAppUsesLocaleFile(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "messages.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte("fr:\n  welcome: \"Bonjour\"\n  error: \"Erreur: {detail}\"\n"), 0o600))

	cfg := config.Defaults()
	cfg.General.Locale = "fr"
	cfg.General.LocaleFile = catalog
	cfg.Inference.APIKey = "k"
	cfg.Inference.Endpoint = "https://example.openai.azure.com"
	cfg.Inference.Deployment = "chat"
	cfg.Channels.BotFramework.Enabled = false

	a, err := newApp(cfg, discardLogger())
	require.NoError(t, err)
	a.close()

	cfg.General.LocaleFile = ""
	_, err = newApp(cfg, discardLogger())
	require.ErrorContains(t, err, `locale "fr" not found`)
}
