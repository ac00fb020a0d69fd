package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 20,
			BusBuffer:             100,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Orchestrator: OrchestratorConfig{
			TimeoutSeconds:       30,
			RetryIntervalSeconds: 120,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:         true,
				FeedbackChannel: "@JapaGenieFeedback",
				ParseMode:       "Markdown",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:        true,
				Number:         "whatsapp:+14155238886",
				SendsPerSecond: 1,
				Burst:          3,
			},
		},
		Feedback: FeedbackConfig{
			Enabled: true,
			LogPath: "visa_intelligence.jsonl",
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "~/.japagenie/journal.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// Template is Defaults with secrets and deployment-specific values read
// from the environment. It is what `init` writes and what serve uses when
// no config file exists.
func Template() *Config {
	cfg := Defaults()
	cfg.Server.PublicURL = "${PUBLIC_URL:-}"
	cfg.Orchestrator.URL = "${ORCHESTRATOR_URL:-}"
	cfg.Channels.Telegram.Token = "${TELEGRAM_BOT_TOKEN:-}"
	cfg.Channels.Telegram.FeedbackChannel = "${FEEDBACK_CHANNEL:-@JapaGenieFeedback}"
	cfg.Channels.WhatsApp.AccountSID = "${TWILIO_ACCOUNT_SID:-}"
	cfg.Channels.WhatsApp.AuthToken = "${TWILIO_AUTH_TOKEN:-}"
	cfg.Channels.WhatsApp.Number = "${TWILIO_WHATSAPP_NUMBER:-whatsapp:+14155238886}"
	return cfg
}
