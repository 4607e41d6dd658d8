package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

type Config struct {
	HTTPAddr       string          `yaml:"http_addr"`
	LogLevel       string          `yaml:"log_level"`
	RequestTimeout time.Duration   `yaml:"http_client_timeout"`
	SupportBot     string          `yaml:"support_bot"`
	Telegram       TelegramConfig  `yaml:"telegram"`
	OpenAI         OpenAIConfig    `yaml:"openai"`
	Context        ContextConfig   `yaml:"context"`
	Stream         StreamConfig    `yaml:"stream"`
	Analytics      AnalyticsConfig `yaml:"analytics"`
	History        HistoryConfig   `yaml:"history"`
}

type TelegramConfig struct {
	BotToken      string        `yaml:"bot_token"`
	APIBaseURL    string        `yaml:"api_base_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Mode          string        `yaml:"mode"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
}

type OpenAIConfig struct {
	APIKey                string  `yaml:"api_key"`
	BaseURL               string  `yaml:"base_url"`
	Model                 string  `yaml:"model"`
	Temperature           float64 `yaml:"temperature"`
	MaxTokens             int     `yaml:"max_tokens"`
	SystemPrompt          string  `yaml:"system_prompt"`
	TranscriptionModel    string  `yaml:"transcription_model"`
	TranscriptionLanguage string  `yaml:"transcription_language"`
}

// ContextConfig параметры хранения диалогов. InactivityReset и TTL независимы:
// первый обнуляет историю при следующем сообщении, второй удаляет запись целиком.
type ContextConfig struct {
	InactivityReset time.Duration `yaml:"inactivity_reset"`
	TTL             time.Duration `yaml:"ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type StreamConfig struct {
	FlushThreshold   int           `yaml:"flush_threshold"`
	ThrottleCooldown time.Duration `yaml:"throttle_cooldown"`
	TypingInterval   time.Duration `yaml:"typing_interval"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

type AnalyticsConfig struct {
	PostHogAPIKey string `yaml:"posthog_api_key"`
	PostHogHost   string `yaml:"posthog_host"`
	BotName       string `yaml:"bot_name"`
}

type HistoryConfig struct {
	MongoURL      string `yaml:"mongodb_url"`
	MongoDatabase string `yaml:"mongodb_database"`
	FilePath      string `yaml:"file"`
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		RequestTimeout: 15 * time.Second,
		Telegram: TelegramConfig{
			APIBaseURL:  "https://api.telegram.org",
			Mode:        ModeWebhook,
			PollTimeout: 10 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL:               "https://api.openai.com/v1",
			Model:                 "gpt-4o-mini",
			Temperature:           0.7,
			MaxTokens:             2000,
			TranscriptionModel:    "whisper-1",
			TranscriptionLanguage: "ru",
		},
		Context: ContextConfig{
			InactivityReset: 3 * time.Minute,
			TTL:             180 * time.Second,
			SweepInterval:   60 * time.Second,
		},
		Stream: StreamConfig{
			FlushThreshold:   30,
			ThrottleCooldown: 30 * time.Second,
			TypingInterval:   5 * time.Second,
			RetryAttempts:    3,
			RetryDelay:       time.Second,
		},
		Analytics: AnalyticsConfig{
			PostHogHost: "https://us.i.posthog.com",
			BotName:     "gpt-relay",
		},
		History: HistoryConfig{
			MongoDatabase: "chatgpt_bot",
		},
	}
}

// Load собирает конфигурацию: значения по умолчанию, затем YAML-файл (если path не пуст),
// затем переменные окружения. Окружение имеет наивысший приоритет.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.SupportBot, "SUPPORT_BOT")

	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.BotToken, "BOT_TOKEN")
	setString(&c.Telegram.APIBaseURL, "TELEGRAM_API_BASE_URL")
	setString(&c.Telegram.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	setString(&c.Telegram.Mode, "TELEGRAM_MODE")

	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAI.Model, "GPT_MODEL")
	setString(&c.OpenAI.SystemPrompt, "SYSTEM_PROMPT")
	setString(&c.OpenAI.TranscriptionModel, "TRANSCRIPTION_MODEL")
	setString(&c.OpenAI.TranscriptionLanguage, "TRANSCRIPTION_LANGUAGE")

	setString(&c.Analytics.PostHogAPIKey, "POSTHOG_API_KEY")
	setString(&c.Analytics.PostHogHost, "POSTHOG_HOST")
	setString(&c.Analytics.BotName, "ANALYTICS_BOT_NAME")

	setString(&c.History.MongoURL, "MONGODB_URL")
	setString(&c.History.MongoDatabase, "MONGODB_DATABASE")
	setString(&c.History.FilePath, "HISTORY_FILE")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_CLIENT_TIMEOUT", &c.RequestTimeout},
		{"TELEGRAM_POLL_TIMEOUT", &c.Telegram.PollTimeout},
		{"CONTEXT_INACTIVITY_RESET", &c.Context.InactivityReset},
		{"CONTEXT_TTL", &c.Context.TTL},
		{"CONTEXT_SWEEP_INTERVAL", &c.Context.SweepInterval},
		{"STREAM_THROTTLE_COOLDOWN", &c.Stream.ThrottleCooldown},
		{"TYPING_INTERVAL", &c.Stream.TypingInterval},
		{"SEND_RETRY_DELAY", &c.Stream.RetryDelay},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"GPT_MAX_TOKENS", &c.OpenAI.MaxTokens},
		{"STREAM_FLUSH_THRESHOLD", &c.Stream.FlushThreshold},
		{"SEND_RETRY_ATTEMPTS", &c.Stream.RetryAttempts},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}

	if val, ok := os.LookupEnv("GPT_TEMPERATURE"); ok && val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("parse GPT_TEMPERATURE: %w", err)
		}
		c.OpenAI.Temperature = parsed
	}
	return nil
}

// Validate проверяет обязательные параметры и согласованность таймаутов.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	switch c.Telegram.Mode {
	case ModeWebhook:
	case ModePolling:
		if c.Telegram.PollTimeout >= c.RequestTimeout {
			errs = append(errs, fmt.Errorf("poll timeout %s must be less than HTTP_CLIENT_TIMEOUT %s",
				c.Telegram.PollTimeout, c.RequestTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TELEGRAM_MODE %q", c.Telegram.Mode))
	}
	if c.Stream.FlushThreshold <= 0 {
		errs = append(errs, errors.New("STREAM_FLUSH_THRESHOLD must be positive"))
	}
	if c.Stream.RetryAttempts <= 0 {
		errs = append(errs, errors.New("SEND_RETRY_ATTEMPTS must be positive"))
	}
	if c.Context.SweepInterval <= 0 || c.Context.TTL <= 0 {
		errs = append(errs, errors.New("CONTEXT_TTL and CONTEXT_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		*dst = strings.TrimSpace(val)
	}
}

func setDuration(dst *time.Duration, key string) error {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	parsed, err := parseDuration(val)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, key string) error {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

// parseDuration принимает формат time.ParseDuration или целое число секунд.
func parseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(value)
}
