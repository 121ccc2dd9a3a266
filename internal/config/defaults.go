package config

const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"

	// DefaultModelName is the model reported in greetings and sent in requests
	// when AZURE_OPENAI_MODEL_NAME is not set.
	DefaultModelName = "gpt-35-turbo (version 0301)"

	DefaultSystemPrompt = "You are an AI assistant that helps people find information."
	DefaultBotName      = "my-chat-bot"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			Locale:    "ja",
			BotName:   DefaultBotName,
			BusBuffer: 100,
		},
		Inference: InferenceConfig{
			Provider:       ProviderAzure,
			Model:          DefaultModelName,
			SystemPrompt:   DefaultSystemPrompt,
			TimeoutSeconds: 120,
		},
		Channels: ChannelsConfig{
			BotFramework: BotFrameworkConfig{
				Enabled: true,
				Host:    "0.0.0.0",
				Port:    3978,
				Path:    "/api/messages",
			},
			WebSocket: WebSocketConfig{
				Port: 8081,
				Path: "/ws",
			},
			Webhook: WebhookConfig{
				Port: 9090,
				Path: "/webhook",
			},
		},
		Usage: UsageConfig{
			Enabled: false,
			DBPath:  "~/.relaybot/usage.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Port:     9464,
			Endpoint: "/metrics",
		},
	}
}
