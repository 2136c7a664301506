package genaisdk

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/relay"
)

type Options struct {
	APIKey      string
	Model       string
	Temperature float64
	// BaseURL overrides the Gemini API host; empty uses the SDK default.
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client generates text through the Google Gen AI SDK.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      zerolog.Logger
}

func New(ctx context.Context, opts Options) (*Client, error) {
	const op = "genaisdk.new"

	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, apperr.New(apperr.KindConfig, op, "GenAI API key is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, op, "failed to create GenAI client", err)
	}

	return &Client{
		client:      client,
		model:       model,
		temperature: float32(opts.Temperature),
		logger:      opts.Logger.With().Str("mod", "genai").Logger(),
	}, nil
}

func (c *Client) Name() string {
	return "genai/" + c.model
}

func (c *Client) Generate(ctx context.Context, p relay.Prompt) (string, error) {
	const op = "genaisdk.generate"

	parts := []*genai.Part{genai.NewPartFromText(p.Text)}
	if p.Image != nil && len(p.Image.Data) > 0 {
		mimeType := p.Image.MimeType
		if mimeType == "" {
			mimeType = relay.DefaultImageMimeType
		}
		parts = append(parts, genai.NewPartFromBytes(p.Image.Data, mimeType))
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{}
	if c.temperature > 0 {
		config.Temperature = genai.Ptr(c.temperature)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		c.logger.Warn().Err(err).Str("model", c.model).Msg("model call failed")
		return "", apperr.Wrap(apperr.KindModel, op, "model call failed", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", apperr.New(apperr.KindModel, op, "model blocked the prompt: "+string(resp.PromptFeedback.BlockReason))
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.KindModel, op, "model returned no text")
	}
	return text, nil
}
