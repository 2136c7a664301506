package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/metrics"
	"pawpal-relay/internal/relay"
)

const maxErrorBody = 512

type Options struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
}

// Client issues exactly one POST to the forwarder per call. It never retries
// and never caches.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		endpoint:   strings.TrimSpace(opts.Endpoint),
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With().Str("mod", "relayclient").Logger(),
	}
}

// Suggest relays req and returns the parsed suggestion list.
func (c *Client) Suggest(ctx context.Context, req relay.Request) ([]string, error) {
	text, err := c.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return relay.ParseSuggestions(text), nil
}

// Generate relays req and returns the raw result text.
func (c *Client) Generate(ctx context.Context, req relay.Request) (string, error) {
	text, err := c.generate(ctx, req)
	if err != nil {
		c.metrics.RecordClientCall(string(apperr.KindOf(err)))
		return "", err
	}
	c.metrics.RecordClientCall("ok")
	return text, nil
}

func (c *Client) generate(ctx context.Context, req relay.Request) (string, error) {
	const op = "relayclient.generate"

	switch {
	case c.endpoint == "":
		return "", apperr.New(apperr.KindConfig, op, "relay endpoint is not configured (RELAY_ENDPOINT)")
	case c.token == "":
		return "", apperr.New(apperr.KindConfig, op, "relay access token is not configured (RELAY_TOKEN)")
	case strings.TrimSpace(req.SystemPrompt) == "":
		return "", apperr.New(apperr.KindInput, op, "system prompt is empty")
	case !req.HasInput():
		return "", apperr.New(apperr.KindInput, op, "enter some text or attach a photo first")
	}

	body, err := json.Marshal(req.Wire())
	if err != nil {
		return "", apperr.Wrap(apperr.KindPayload, op, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindConfig, op, "invalid relay endpoint", err)
	}
	reqID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("X-Request-Id", reqID)

	c.logger.Debug().
		Str("request_id", reqID).
		Bool("has_image", req.Image != nil).
		Int("user_prompt_len", len(req.UserPrompt)).
		Msg("relay call")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetwork, op, "could not reach the relay", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetwork, op, "read relay response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		c.logger.Warn().Str("request_id", reqID).Int("status", httpResp.StatusCode).Msg("relay rejected call")
		return "", apperr.New(apperr.KindServer, op,
			fmt.Sprintf("relay returned %d: %s", httpResp.StatusCode, errorBody(rawBody)))
	}

	var decoded relay.Response
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return "", apperr.Wrap(apperr.KindPayload, op, "relay response is not valid JSON", err)
	}
	if decoded.Error != "" {
		return "", apperr.New(apperr.KindModel, op, decoded.Error)
	}
	if decoded.Result == nil {
		return "", apperr.New(apperr.KindPayload, op, "relay response has no result")
	}
	return *decoded.Result, nil
}

func errorBody(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
		text += "…"
	}
	return text
}
