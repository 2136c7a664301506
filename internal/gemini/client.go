package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/relay"
)

const defaultModel = "gemini-2.5-flash"

type Options struct {
	APIKey      string
	BaseURL     string
	APIVersion  string
	Model       string
	Temperature float64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Client calls models/{model}:generateContent over plain REST.
type Client struct {
	apiKey      string
	baseURL     string
	apiVersion  string
	model       string
	temperature float64
	httpClient  *http.Client
	logger      zerolog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		apiVersion:  apiVersion,
		model:       model,
		temperature: opts.Temperature,
		httpClient:  httpClient,
		logger:      opts.Logger.With().Str("mod", "gemini").Logger(),
	}
}

func (c *Client) Name() string {
	return "gemini/" + c.model
}

// Generate submits the prompt text and, when present, one inline image part.
func (c *Client) Generate(ctx context.Context, p relay.Prompt) (string, error) {
	const op = "gemini.generate"

	parts := []part{{Text: p.Text}}
	if p.Image != nil && len(p.Image.Data) > 0 {
		mimeType := p.Image.MimeType
		if mimeType == "" {
			mimeType = relay.DefaultImageMimeType
		}
		parts = append(parts, part{InlineData: &blob{
			Data:     p.Image.Base64(),
			MimeType: mimeType,
		}})
	}

	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature: c.temperature,
		},
	}

	resp, err := c.generateContent(ctx, req)
	if err != nil {
		return "", err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", apperr.New(apperr.KindModel, op, "model blocked the prompt: "+resp.PromptFeedback.BlockReason)
	}

	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.KindModel, op, "model returned no text")
	}
	return text, nil
}

func (c *Client) generateContent(ctx context.Context, payload generateContentRequest) (generateContentResponse, error) {
	const op = "gemini.generate_content"

	body, err := json.Marshal(payload)
	if err != nil {
		return generateContentResponse{}, apperr.Wrap(apperr.KindModel, op, "marshal request", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateContentResponse{}, apperr.Wrap(apperr.KindModel, op, "create request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generateContentResponse{}, apperr.Wrap(apperr.KindNetwork, op, "model request failed", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return generateContentResponse{}, apperr.Wrap(apperr.KindNetwork, op, "read model response", err)
	}

	if httpResp.StatusCode >= 400 {
		c.logger.Warn().Int("status", httpResp.StatusCode).Str("model", c.model).Msg("model call rejected")
		return generateContentResponse{}, apperr.New(apperr.KindModel, op,
			fmt.Sprintf("gemini API %s: %s", httpResp.Status, strings.TrimSpace(string(rawBody))))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return generateContentResponse{}, apperr.Wrap(apperr.KindModel, op, "decode model response", err)
	}
	return decoded, nil
}

func extractText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
