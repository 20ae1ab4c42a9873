package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:            "info",
			ListenAddr:          "127.0.0.1:8080",
			MaxConcurrentEvents: 5,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
			},
		},
		Backends: BackendsConfig{
			Completion: CompletionConfig{
				APIBase:   "https://api.openai.com/v1",
				Model:     "gpt-4o-mini",
				MaxTokens: 1024,
			},
			Image: ImageConfig{
				Enabled: true,
				APIBase: "https://api.openai.com/v1",
				Model:   "dall-e-3",
				Size:    "1024x1024",
			},
			Whisper: WhisperConfig{
				Enabled: true,
				APIBase: "https://api.groq.com/openai/v1",
				Model:   "whisper-large-v3",
			},
			TTS: TTSConfig{
				Enabled: true,
				APIBase: "https://api.openai.com/v1",
				Model:   "tts-1",
				Voice:   "alloy",
			},
		},
		Context: ContextConfig{
			DBPath:     "~/.slcbot/context.db",
			MaxEntries: 200,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
