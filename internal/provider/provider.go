package provider

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"pawpal-relay/internal/config"
	"pawpal-relay/internal/forwarder"
	"pawpal-relay/internal/gemini"
	"pawpal-relay/internal/genaisdk"
	"pawpal-relay/internal/openaicompat"
)

// New builds the configured model. It returns (nil, nil) when the provider's
// credential is missing so the forwarder can answer every request with a
// configuration error instead of refusing to start.
func New(ctx context.Context, cfg config.Model, httpClient *http.Client, logger zerolog.Logger) (forwarder.Model, error) {
	if cfg.Credential() == "" {
		return nil, nil
	}

	switch cfg.Provider {
	case config.ProviderGenAI:
		opts := genaisdk.Options{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			HTTPClient:  httpClient,
			Logger:      logger,
		}
		if cfg.GeminiBaseURL != "https://generativelanguage.googleapis.com" {
			opts.BaseURL = cfg.GeminiBaseURL
		}
		m, err := genaisdk.New(ctx, opts)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.ProviderOpenAI:
		m, err := openaicompat.New(openaicompat.Options{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			HTTPClient:  httpClient,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return gemini.New(gemini.Options{
			APIKey:      cfg.GeminiAPIKey,
			BaseURL:     cfg.GeminiBaseURL,
			APIVersion:  cfg.GeminiAPIVersion,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			HTTPClient:  httpClient,
			Logger:      logger,
		}), nil
	}
}
