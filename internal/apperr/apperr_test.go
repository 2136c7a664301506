package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "error with cause",
			err:      Wrap(KindNetwork, "relayclient.post", "relay unreachable", errors.New("connection refused")),
			contains: []string{"[network:relayclient.post]", "relay unreachable", "connection refused"},
		},
		{
			name:     "error without cause",
			err:      New(KindConfig, "relayclient.suggest", "relay endpoint is not configured"),
			contains: []string{"[config:relayclient.suggest]", "relay endpoint is not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, substr := range tt.contains {
				assert.Contains(t, tt.err.Error(), substr)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(KindModel, "op", "msg", nil))

	cause := errors.New("original error")
	wrapped := Wrap(KindModel, "gemini.generate", "model call failed", cause)
	require.ErrorIs(t, wrapped, cause)

	again := Wrap(KindUnknown, "forwarder.relay", "outer", fmt.Errorf("ctx: %w", wrapped))
	assert.Equal(t, KindModel, again.Kind)
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindRateLimit, "ratelimit.allow", "too many requests"))

	assert.True(t, IsKind(err, KindRateLimit))
	assert.False(t, IsKind(err, KindConfig))
	assert.False(t, IsKind(errors.New("plain"), KindConfig))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
	assert.Equal(t, "relay returned 502", UserMessage(New(KindServer, "op", "relay returned 502")))
	assert.Equal(t, "request failed: boom", UserMessage(Wrap(KindNetwork, "op", "request failed", errors.New("boom"))))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindInput))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuth))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindRateLimit))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindModel))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindConfig))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindUnknown))
}
