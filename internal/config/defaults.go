package config

// FallbackText is the fixed apology sent when every backend fails.
// The chat user sees this string or a generated reply, never a raw error.
const FallbackText = "Lo siento, hubo un problema al procesar tu mensaje."

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "",
			Port:     3000,
			LogLevel: "info",
		},
		Webhook: WebhookConfig{
			Path: "/webhook",
		},
		Backends: map[string]BackendConfig{
			"openai": {
				Enabled:        true,
				APIBase:        "https://api.openai.com/v1",
				Model:          "gpt-4o-mini",
				Stream:         true,
				TimeoutSeconds: 60,
			},
			"ollama": {
				Enabled:        false,
				APIBase:        "http://localhost:11434",
				Model:          "llama3.1:8b",
				TimeoutSeconds: 60,
			},
		},
		Reply: ReplyConfig{
			Chain:         []string{"openai"},
			FallbackText:  FallbackText,
			MaxConcurrent: 5,
			BusBuffer:     100,
		},
		Voice: VoiceConfig{
			Enabled: false,
			APIBase: "https://api.openai.com/v1",
			Model:   "tts-1",
			Voice:   "alloy",
			Dir:     "~/.relaybot/audio",
		},
		Channels: ChannelsConfig{
			Messenger: MessengerConfig{
				Enabled:    false,
				APIVersion: "v19.0",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:    false,
				APIVersion: "v21.0",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Notify: NotifyConfig{
			Telegram: TelegramNotifyConfig{
				Enabled: false,
			},
		},
	}
}
