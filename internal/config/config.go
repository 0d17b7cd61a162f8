package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// HTTP server
	Port string `env:"PORT" envDefault:"8000"`

	// Shared secret checked against the webhook bearer token
	WebhookToken string `env:"TOKEN_ESPERADO,required"`

	// Gemini (via the OpenAI-compatible endpoint)
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	// Freshchat
	FreshchatAPIToken string `env:"FRESHCHAT_API_TOKEN"`
	FreshchatBaseURL  string `env:"FRESHCHAT_BASE_URL" envDefault:"https://api.freshchat.com/v2"`

	// Rate limiting (per source IP, in-process, resets on restart)
	MaxRequestsPerMinute int `env:"MAX_REQUESTS_PER_MINUTE" envDefault:"60"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Storage
	GeneralLogPath  string `env:"GENERAL_LOG_PATH" envDefault:"data/log_entradas.txt"`
	RawLogPath      string `env:"RAW_LOG_PATH" envDefault:"data/dados_recebidos.txt"`
	IDLogPath       string `env:"ID_LOG_PATH" envDefault:"data/ids_salvos.txt"`
	PendingFilePath string `env:"PENDING_FILE_PATH" envDefault:"data/pending.json"`
	HistoryDir      string `env:"HISTORY_DIR" envDefault:"historicos"`

	// Timeouts
	LockTimeout     time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	// Cleanup cron schedule (UTC)
	CleanupSchedule string `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`

	// Logging
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"`
	AppLogPath string `env:"APP_LOG_PATH" envDefault:"data/app.log"`
}

func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Redacted returns the configuration view exposed by GET /config.
// Secrets are reported only as configured/not-configured booleans.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"gemini_configured":    c.GeminiAPIKey != "",
		"freshchat_configured": c.FreshchatAPIToken != "",
		"freshchat_base_url":   c.FreshchatBaseURL,
		"gemini_model":         c.GeminiModel,
		"rate_limit":           c.MaxRequestsPerMinute,
	}
}
