package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	OpenAccess       bool    `env:"OPEN_ACCESS" envDefault:"false"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"gemini"`
	ModelPrimary     string      `env:"LLM_MODEL_PRIMARY" envDefault:"gemini-2.5-flash"`
	ModelFallback    string      `env:"LLM_MODEL_FALLBACK" envDefault:"gemini-1.5-flash-latest"`
	GeminiAPIKey     string      `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string      `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Character database
	MarvelPublicKey  string `env:"MARVEL_PUBLIC_KEY"`
	MarvelPrivateKey string `env:"MARVEL_PRIVATE_KEY"`
	MarvelBaseURL    string `env:"MARVEL_BASE_URL" envDefault:"https://gateway.marvel.com"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	StoragePath    string `env:"STORAGE_PATH" envDefault:"data/darkhold.json"`

	// Matching
	GazetteerPath      string  `env:"GAZETTEER_PATH"`
	CandidateThreshold float64 `env:"MATCH_CANDIDATE_THRESHOLD" envDefault:"0.4"`
	AcceptThreshold    float64 `env:"MATCH_ACCEPT_THRESHOLD" envDefault:"0.6"`

	// Pacing
	GreetingDelay        time.Duration `env:"GREETING_DELAY" envDefault:"1s"`
	InitialGreetingDelay time.Duration `env:"INITIAL_GREETING_DELAY" envDefault:"1s"`
	ClearGreetingDelay   time.Duration `env:"CLEAR_GREETING_DELAY" envDefault:"800ms"`
	CharacterReplyDelay  time.Duration `env:"CHARACTER_REPLY_DELAY" envDefault:"1200ms"`
	StreamWordDelay      time.Duration `env:"STREAM_WORD_DELAY" envDefault:"40ms"`
	BackendTimeout       time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`
	StreamEditsPerSecond float64       `env:"STREAM_EDITS_PER_SECOND" envDefault:"1"`

	// Ops
	ReportSchedule string `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`
	MetricsAddr    string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.CandidateThreshold <= 0 || cfg.CandidateThreshold > 1 {
		return nil, fmt.Errorf("MATCH_CANDIDATE_THRESHOLD must be in (0, 1], got %v", cfg.CandidateThreshold)
	}
	if cfg.AcceptThreshold <= 0 || cfg.AcceptThreshold > 1 {
		return nil, fmt.Errorf("MATCH_ACCEPT_THRESHOLD must be in (0, 1], got %v", cfg.AcceptThreshold)
	}
	return cfg, nil
}

// ValidateServe checks the settings needed to run the bot.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			errs = append(errs, errors.New("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for the yandex provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	return errors.Join(errs...)
}
