package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	ProviderGemini = "gemini"
	ProviderGenAI  = "genai"
	ProviderOpenAI = "openai"
)

type Common struct {
	LogLevel    string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string        `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`
	PreferIPv4  bool          `yaml:"prefer_ipv4" env:"PREFER_IPV4" env-default:"true"`
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT" env-default:"180s"`
}

// Model selects and authenticates the hosted language model. A missing
// credential is not a load error: the forwarder reports it per request.
type Model struct {
	Provider         string  `yaml:"provider" env:"MODEL_PROVIDER" env-default:"gemini"`
	Name             string  `yaml:"name" env:"MODEL_NAME"`
	Temperature      float64 `yaml:"temperature" env:"MODEL_TEMPERATURE" env-default:"0.9"`
	GeminiAPIKey     string  `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	GeminiBaseURL    string  `yaml:"gemini_base_url" env:"GEMINI_BASE_URL" env-default:"https://generativelanguage.googleapis.com"`
	GeminiAPIVersion string  `yaml:"gemini_api_version" env:"GEMINI_API_VERSION" env-default:"v1beta"`
	OpenAIAPIKey     string  `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string  `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
}

func (m Model) Credential() string {
	if m.Provider == ProviderOpenAI {
		return m.OpenAIAPIKey
	}
	return m.GeminiAPIKey
}

// CredentialEnv names the variable that holds the credential for the provider.
func (m Model) CredentialEnv() string {
	if m.Provider == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

type Forwarder struct {
	Common `yaml:",inline"`
	Model  Model `yaml:"model"`

	Addr           string        `yaml:"addr" env:"FORWARDER_ADDR" env-default:":8080"`
	AccessToken    string        `yaml:"access_token" env:"RELAY_ACCESS_TOKEN"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"120s"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" env-default:"10485760"`

	RedisURL        string        `yaml:"redis_url" env:"REDIS_URL"`
	RateLimit       int           `yaml:"rate_limit" env:"RATE_LIMIT" env-default:"30"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// Client holds what the relay caller needs. Endpoint and token are checked
// by the caller at call time, not here.
type Client struct {
	Common `yaml:",inline"`

	Endpoint     string `yaml:"relay_endpoint" env:"RELAY_ENDPOINT"`
	Token        string `yaml:"relay_token" env:"RELAY_TOKEN"`
	FeaturesFile string `yaml:"features_file" env:"FEATURES_FILE"`
}

type Bot struct {
	Client `yaml:",inline"`

	TelegramToken  string        `yaml:"telegram_token" env:"TELEGRAM_BOT_TOKEN"`
	Debug          bool          `yaml:"debug" env:"DEBUG" env-default:"false"`
	MaxConcurrent  int           `yaml:"max_concurrent" env:"MAX_CONCURRENT" env-default:"4"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"120s"`

	MediaGroupDebounceMS int `yaml:"media_group_debounce_ms" env:"MEDIA_GROUP_DEBOUNCE_MS" env-default:"1200"`
	// MetricsAddr serves the bot's /metrics; empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" env-default:":9091"`

	MediaGroupDebounce time.Duration `yaml:"-"`
}

func LoadForwarder() (Forwarder, error) {
	var cfg Forwarder
	if err := read(&cfg); err != nil {
		return Forwarder{}, err
	}

	cfg.Common = normalizeCommon(cfg.Common)
	cfg.Model = normalizeModel(cfg.Model)
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)

	switch cfg.Model.Provider {
	case ProviderGemini, ProviderGenAI, ProviderOpenAI:
	default:
		return Forwarder{}, fmt.Errorf("unknown MODEL_PROVIDER %q", cfg.Model.Provider)
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	return cfg, nil
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := read(&cfg); err != nil {
		return Client{}, err
	}
	return normalizeClient(cfg), nil
}

func LoadBot() (Bot, error) {
	var cfg Bot
	if err := read(&cfg); err != nil {
		return Bot{}, err
	}

	cfg.Client = normalizeClient(cfg.Client)
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)

	if cfg.TelegramToken == "" {
		return Bot{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MediaGroupDebounceMS <= 0 {
		cfg.MediaGroupDebounceMS = 1200
	}
	cfg.MediaGroupDebounce = time.Duration(cfg.MediaGroupDebounceMS) * time.Millisecond
	cfg.MetricsAddr = strings.TrimSpace(cfg.MetricsAddr)

	return cfg, nil
}

func read(cfg any) error {
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		return nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func normalizeCommon(c Common) Common {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 180 * time.Second
	}
	return c
}

func normalizeClient(c Client) Client {
	c.Common = normalizeCommon(c.Common)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Token = strings.TrimSpace(c.Token)
	c.FeaturesFile = strings.TrimSpace(c.FeaturesFile)
	return c
}

func normalizeModel(m Model) Model {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Provider == "" {
		m.Provider = ProviderGemini
	}
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		if m.Provider == ProviderOpenAI {
			m.Name = "gpt-4o-mini"
		} else {
			m.Name = "gemini-2.5-flash"
		}
	}
	m.GeminiAPIKey = strings.TrimSpace(m.GeminiAPIKey)
	m.GeminiBaseURL = strings.TrimRight(strings.TrimSpace(m.GeminiBaseURL), "/")
	m.GeminiAPIVersion = strings.TrimSpace(m.GeminiAPIVersion)
	m.OpenAIAPIKey = strings.TrimSpace(m.OpenAIAPIKey)
	m.OpenAIBaseURL = strings.TrimSpace(m.OpenAIBaseURL)
	return m
}
