package forwarder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawpal-relay/internal/metrics"
	"pawpal-relay/internal/relay"
)

type fakeModel struct {
	mu     sync.Mutex
	calls  []relay.Prompt
	text   string
	err    error
	panics bool
}

func (f *fakeModel) Generate(ctx context.Context, p relay.Prompt) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	if f.panics {
		panic("model exploded")
	}
	return f.text, f.err
}

func (f *fakeModel) Name() string { return "fake/model" }

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func newServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) (*httptest.ResponseRecorder, relay.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp relay.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "body %q", rr.Body.String())
	return rr, resp
}

func TestRelayMissingCredential(t *testing.T) {
	s := newServer(Options{CredentialEnv: "GEMINI_API_KEY"})

	rr, resp := post(t, s.Routes(), `{"systemPrompt":"sys","userPrompt":"hi"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Nil(t, resp.Result)
	assert.Contains(t, resp.Error, "not configured")
	assert.Contains(t, resp.Error, "GEMINI_API_KEY")
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRelayMissingCredentialEvenForMalformedBody(t *testing.T) {
	s := newServer(Options{})
	rr, resp := post(t, s.Routes(), `{not json`, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, resp.Error, "not configured")
}

func TestPreflight(t *testing.T) {
	model := &fakeModel{text: "x"}
	s := newServer(Options{Model: model})

	for _, path := range []string{"/", "/v1/relay", "/anything"} {
		req := httptest.NewRequest(http.MethodOptions, path, strings.NewReader(`{"ignored":true}`))
		rr := httptest.NewRecorder()
		s.Routes().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "authorization, x-client-info, apikey, content-type", rr.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "ok", rr.Body.String())
	}
	assert.Empty(t, model.calls)
}

func TestRelayTextOnly(t *testing.T) {
	model := &fakeModel{text: "1. Woof back!\n2. Sniff first\n"}
	s := newServer(Options{Model: model})

	rr, resp := post(t, s.Routes(), `{"systemPrompt":"You are a pet pal.","userPrompt":"Hi there","imageBase64":null}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "1. Woof back!\n2. Sniff first\n", *resp.Result, "raw text must not be modified")
	assert.Empty(t, resp.Error)

	require.Len(t, model.calls, 1)
	assert.Equal(t, "You are a pet pal.\n\n---\n\nUser input:\nHi there", model.calls[0].Text)
	assert.Nil(t, model.calls[0].Image)
}

func TestRelayWithImage(t *testing.T) {
	model := &fakeModel{text: "Sunny nap"}
	s := newServer(Options{Model: model})

	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	body := `{"systemPrompt":"Caption it.","imageBase64":"` + img + `"}`

	rr, resp := post(t, s.Routes(), body, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Sunny nap", *resp.Result)

	require.Len(t, model.calls, 1)
	call := model.calls[0]
	assert.Equal(t, "Caption it.\n\n---\n\nUser input:\n"+userPlaceholder, call.Text)
	require.NotNil(t, call.Image)
	assert.Equal(t, "image/jpeg", call.Image.MimeType)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, call.Image.Data)
}

func TestRelayAlias(t *testing.T) {
	model := &fakeModel{text: "ok"}
	s := newServer(Options{Model: model})

	req := httptest.NewRequest(http.MethodPost, "/v1/relay", strings.NewReader(`{"systemPrompt":"s","userPrompt":"u"}`))
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRelayErrors(t *testing.T) {
	tests := []struct {
		name    string
		model   *fakeModel
		body    string
		status  int
		message string
	}{
		{name: "malformed json", model: &fakeModel{}, body: `{"systemPrompt":`, status: http.StatusBadRequest, message: "invalid JSON"},
		{name: "missing system prompt", model: &fakeModel{}, body: `{"userPrompt":"hi"}`, status: http.StatusBadRequest, message: "systemPrompt"},
		{name: "bad image", model: &fakeModel{}, body: `{"systemPrompt":"s","imageBase64":"%%%"}`, status: http.StatusBadRequest, message: "base64"},
		{name: "model failure", model: &fakeModel{err: errors.New("quota exceeded")}, body: `{"systemPrompt":"s","userPrompt":"u"}`, status: http.StatusBadGateway, message: "quota exceeded"},
		{name: "panic", model: &fakeModel{panics: true}, body: `{"systemPrompt":"s","userPrompt":"u"}`, status: http.StatusInternalServerError, message: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(Options{Model: tt.model})
			rr, resp := post(t, s.Routes(), tt.body, nil)
			assert.Equal(t, tt.status, rr.Code)
			assert.Nil(t, resp.Result)
			assert.Contains(t, resp.Error, tt.message)
		})
	}
}

func TestRelayBodyTooLarge(t *testing.T) {
	s := newServer(Options{Model: &fakeModel{text: "x"}, MaxBodyBytes: 32})
	rr, resp := post(t, s.Routes(), `{"systemPrompt":"`+strings.Repeat("a", 64)+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, resp.Error, "too large")
}

func TestRelayAccessToken(t *testing.T) {
	model := &fakeModel{text: "x"}
	s := newServer(Options{Model: model, AccessToken: "secret"})
	body := `{"systemPrompt":"s","userPrompt":"u"}`

	rr, resp := post(t, s.Routes(), body, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, resp.Error, "bearer")

	rr, _ = post(t, s.Routes(), body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = post(t, s.Routes(), body, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, model.calls, 1)
}

func TestRelayRateLimited(t *testing.T) {
	model := &fakeModel{text: "x"}
	limiter := &fakeLimiter{allow: false}
	s := newServer(Options{Model: model, Limiter: limiter})

	rr, resp := post(t, s.Routes(), `{"systemPrompt":"s","userPrompt":"u"}`, map[string]string{"Authorization": "Bearer anon-key"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, resp.Error, "too many")
	assert.Equal(t, []string{"anon-key"}, limiter.keys)
	assert.Empty(t, model.calls)
}

func TestRelayRateLimiterDownFailsOpen(t *testing.T) {
	model := &fakeModel{text: "x"}
	s := newServer(Options{Model: model, Limiter: &fakeLimiter{err: errors.New("dial tcp: refused")}})

	rr, _ := post(t, s.Routes(), `{"systemPrompt":"s","userPrompt":"u"}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNotFoundAndMethodNotAllowedAreJSON(t *testing.T) {
	s := newServer(Options{Model: &fakeModel{}})

	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, rr.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(Options{Model: &fakeModel{text: "x"}})
	h := s.Routes()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","model":"fake/model"}`, rr.Body.String())

	post(t, h, `{"systemPrompt":"s","userPrompt":"u"}`, nil)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `pawpal_relay_requests_total{outcome="ok"} 1`)

	unconfigured := newServer(Options{})
	rr = httptest.NewRecorder()
	unconfigured.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"unconfigured","model":"unconfigured"}`, rr.Body.String())
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "sys\n\n---\n\nUser input:\nhello", BuildPrompt("  sys ", " hello "))
	assert.Equal(t, "sys\n\n---\n\nUser input:\n"+userPlaceholder, BuildPrompt("sys", "   "))
}

func TestDecodeImage(t *testing.T) {
	raw := []byte("\x89PNG")
	enc := base64.StdEncoding.EncodeToString(raw)

	img, err := decodeImage("data:image/png;base64,"+enc, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, raw, img.Data)

	img, err = decodeImage(enc[:4]+"\n"+enc[4:], "image/webp")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", img.MimeType)
	assert.Equal(t, raw, img.Data)

	img, err = decodeImage(strings.TrimRight(enc, "="), "")
	require.NoError(t, err)
	assert.Equal(t, relay.DefaultImageMimeType, img.MimeType)

	_, err = decodeImage("@@@", "")
	assert.Error(t, err)
}
