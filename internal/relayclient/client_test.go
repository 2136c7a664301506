package relayclient

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/forwarder"
	"pawpal-relay/internal/metrics"
	"pawpal-relay/internal/relay"
)

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, errors.New("network disabled in test")
}

var validReq = relay.Request{SystemPrompt: "You suggest replies.", UserPrompt: "Hey, cute dog!"}

func TestSuggestMissingConfigMakesNoNetworkCall(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		token    string
		message  string
	}{
		{name: "no endpoint", token: "anon", message: "endpoint"},
		{name: "no token", endpoint: "http://relay.invalid/", message: "token"},
		{name: "nothing", message: "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &countingTransport{}
			c := New(Options{
				Endpoint:   tt.endpoint,
				Token:      tt.token,
				HTTPClient: &http.Client{Transport: transport},
			})

			got, err := c.Suggest(t.Context(), validReq)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, apperr.IsKind(err, apperr.KindConfig))
			assert.Contains(t, err.Error(), tt.message)
			assert.Zero(t, transport.calls.Load())
		})
	}
}

func TestSuggestRequiresInput(t *testing.T) {
	transport := &countingTransport{}
	c := New(Options{Endpoint: "http://relay.invalid/", Token: "anon", HTTPClient: &http.Client{Transport: transport}})

	_, err := c.Suggest(t.Context(), relay.Request{SystemPrompt: "sys", UserPrompt: "  "})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInput))

	_, err = c.Suggest(t.Context(), relay.Request{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInput))

	assert.Zero(t, transport.calls.Load())
}

func TestSuggestSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"systemPrompt":"You suggest replies.","userPrompt":"Hey, cute dog!","imageBase64":null}`, string(body))

		_, _ = io.WriteString(w, `{"result":"1. Hello there\n* What's up?\n- Hey!\n\n"}`)
	}))
	defer srv.Close()

	m := metrics.New()
	c := New(Options{Endpoint: srv.URL, Token: "anon", HTTPClient: srv.Client(), Metrics: m, Logger: zerolog.Nop()})

	got, err := c.Suggest(t.Context(), validReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there", "What's up?", "Hey!"}, got)
	assert.Equal(t, int32(1), hits.Load(), "exactly one network call")
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "pawpal_relay_client_calls_total"))
}

func TestSuggestSendsImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wire relay.WireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		require.NotNil(t, wire.ImageBase64)
		assert.Equal(t, "AAAA", *wire.ImageBase64)
		assert.Equal(t, "image/png", wire.ImageMimeType)
		_, _ = io.WriteString(w, `{"result":"Nap queen"}`)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Token: "anon", HTTPClient: srv.Client()})
	got, err := c.Suggest(t.Context(), relay.Request{
		SystemPrompt: "Caption it.",
		Image:        &relay.Image{Base64: "AAAA", MimeType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Nap queen"}, got)
}

func TestSuggestErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		kind     apperr.Kind
		contains []string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{"error":"model call failed"}`, kind: apperr.KindServer, contains: []string{"502", "model call failed"}},
		{name: "plain text error", status: http.StatusServiceUnavailable, body: "upstream down", kind: apperr.KindServer, contains: []string{"503", "upstream down"}},
		{name: "explicit error field", status: http.StatusOK, body: `{"error":"model declined"}`, kind: apperr.KindModel, contains: []string{"model declined"}},
		{name: "missing result", status: http.StatusOK, body: `{}`, kind: apperr.KindPayload, contains: []string{"no result"}},
		{name: "not json", status: http.StatusOK, body: `<html>`, kind: apperr.KindPayload, contains: []string{"not valid JSON"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(Options{Endpoint: srv.URL, Token: "anon", HTTPClient: srv.Client()})
			_, err := c.Suggest(t.Context(), validReq)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestSuggestNetworkError(t *testing.T) {
	transport := &countingTransport{}
	c := New(Options{Endpoint: "http://relay.invalid/", Token: "anon", HTTPClient: &http.Client{Transport: transport}})

	_, err := c.Suggest(t.Context(), validReq)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNetwork))
	assert.Equal(t, int32(1), transport.calls.Load(), "no retries")
}

func TestErrorBodyTruncated(t *testing.T) {
	long := strings.Repeat("é", maxErrorBody)
	got := errorBody([]byte(long))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.LessOrEqual(t, len(got), maxErrorBody+len("…"))
}

func TestSuggestAgainstForwarder(t *testing.T) {
	model := &echoModel{}
	fwd := forwarder.New(forwarder.Options{Model: model, AccessToken: "anon", Logger: zerolog.Nop()})
	srv := httptest.NewServer(fwd.Routes())
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL + "/v1/relay", Token: "anon", HTTPClient: srv.Client()})
	got, err := c.Suggest(t.Context(), validReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sounds fun!", "Let's meet at the park"}, got)

	unconfigured := httptest.NewServer(forwarder.New(forwarder.Options{Logger: zerolog.Nop()}).Routes())
	defer unconfigured.Close()

	c = New(Options{Endpoint: unconfigured.URL, Token: "anon", HTTPClient: unconfigured.Client()})
	_, err = c.Suggest(t.Context(), validReq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "not configured")
}
