package forwarder

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/metrics"
	"pawpal-relay/internal/relay"
)

const (
	promptSeparator   = "\n\n---\n\nUser input:\n"
	userPlaceholder   = "(no text provided, use the attached image)"
	defaultBodyLimit  = 10 << 20
	defaultReqTimeout = 120 * time.Second
)

// Model is the hosted language model as seen by the forwarder.
type Model interface {
	Generate(ctx context.Context, p relay.Prompt) (string, error)
	Name() string
}

// Limiter throttles callers by key. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Options struct {
	// Model is nil when the credential is missing; every relay request then
	// fails with a configuration error naming CredentialEnv.
	Model         Model
	CredentialEnv string

	// AccessToken, when set, must match the caller's bearer token.
	AccessToken string
	Limiter     Limiter

	RequestTimeout time.Duration
	MaxBodyBytes   int64

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Server is the stateless prompt forwarder. It holds configuration only.
type Server struct {
	model          Model
	credentialEnv  string
	accessToken    string
	limiter        Limiter
	requestTimeout time.Duration
	maxBodyBytes   int64
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

func New(opts Options) *Server {
	credentialEnv := opts.CredentialEnv
	if credentialEnv == "" {
		credentialEnv = "GEMINI_API_KEY"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultReqTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultBodyLimit
	}

	return &Server{
		model:          opts.Model,
		credentialEnv:  credentialEnv,
		accessToken:    opts.AccessToken,
		limiter:        opts.Limiter,
		requestTimeout: timeout,
		maxBodyBytes:   maxBody,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With().Str("mod", "forwarder").Logger(),
	}
}

// ModelName reports the configured model, or "unconfigured".
func (s *Server) ModelName() string {
	if s.model == nil {
		return "unconfigured"
	}
	return s.model.Name()
}

// Relay combines the prompts, forwards them and returns the raw model text
// without trimming or splitting.
func (s *Server) Relay(ctx context.Context, in relay.WireRequest) (string, error) {
	const op = "forwarder.relay"

	if err := s.checkConfigured(); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.SystemPrompt) == "" {
		return "", apperr.New(apperr.KindInput, op, "systemPrompt is required")
	}

	prompt := relay.Prompt{Text: BuildPrompt(in.SystemPrompt, in.UserPrompt)}
	if in.ImageBase64 != nil && strings.TrimSpace(*in.ImageBase64) != "" {
		img, err := decodeImage(*in.ImageBase64, in.ImageMimeType)
		if err != nil {
			return "", apperr.Wrap(apperr.KindInput, op, "imageBase64 is not valid base64", err)
		}
		prompt.Image = &img
	}

	start := time.Now()
	text, err := s.model.Generate(ctx, prompt)
	s.metrics.ObserveModel(s.model.Name(), prompt.Image != nil, time.Since(start))
	if err != nil {
		return "", apperr.Wrap(apperr.KindModel, op, "model call failed", err)
	}
	return text, nil
}

func (s *Server) checkConfigured() error {
	if s.model != nil {
		return nil
	}
	return apperr.New(apperr.KindConfig, "forwarder.relay",
		fmt.Sprintf("model credential is not configured (%s)", s.credentialEnv))
}

// BuildPrompt joins the system instruction and the user text into the single
// prompt sent to the model.
func BuildPrompt(systemPrompt, userPrompt string) string {
	user := strings.TrimSpace(userPrompt)
	if user == "" {
		user = userPlaceholder
	}
	return strings.TrimSpace(systemPrompt) + promptSeparator + user
}

var dataURLRegex = regexp.MustCompile(`^data:([^;,]+)(;[^,]*)?,`)

func decodeImage(value, mimeType string) (relay.InlineImage, error) {
	value = strings.TrimSpace(value)
	if m := dataURLRegex.FindStringSubmatch(value); m != nil {
		if mimeType == "" {
			mimeType = m[1]
		}
		value = value[len(m[0]):]
	}
	if mimeType = strings.TrimSpace(mimeType); mimeType == "" {
		mimeType = relay.DefaultImageMimeType
	}

	value = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, value)

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
		if err != nil {
			return relay.InlineImage{}, err
		}
	}
	if len(data) == 0 {
		return relay.InlineImage{}, fmt.Errorf("empty image")
	}

	return relay.InlineImage{MimeType: mimeType, Data: data}, nil
}
