package openaicompat

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/relay"
)

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Client talks to any OpenAI-compatible chat completions endpoint.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      zerolog.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, apperr.New(apperr.KindConfig, "openaicompat.new", "OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		clientConfig.HTTPClient = opts.HTTPClient
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: float32(opts.Temperature),
		logger:      opts.Logger.With().Str("mod", "openai").Logger(),
	}, nil
}

func (c *Client) Name() string {
	return "openai/" + c.model
}

func (c *Client) Generate(ctx context.Context, p relay.Prompt) (string, error) {
	const op = "openaicompat.generate"

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if p.Image != nil && len(p.Image.Data) > 0 {
		img := *p.Image
		if img.MimeType == "" {
			img.MimeType = relay.DefaultImageMimeType
		}
		msg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: p.Text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: img.DataURL()}},
		}
	} else {
		msg.Content = p.Text
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: c.temperature,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("model", c.model).Msg("model call failed")
		return "", apperr.Wrap(apperr.KindModel, op, "model call failed", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperr.New(apperr.KindModel, op, "model returned no text")
	}
	return resp.Choices[0].Message.Content, nil
}
