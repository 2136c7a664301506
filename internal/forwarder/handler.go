package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"pawpal-relay/internal/apperr"
	"pawpal-relay/internal/relay"
)

const (
	allowOrigin  = "*"
	allowHeaders = "authorization, x-client-info, apikey, content-type"
	allowMethods = "POST, GET, OPTIONS"
)

// Routes mounts the relay endpoint, health and metrics on a chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverJSON)
	r.Use(corsPreflight)

	r.Post("/", s.handleRelay)
	r.Post("/v1/relay", s.handleRelay)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, relay.Failure("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, relay.Failure("method not allowed"))
	})
	return r
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())
	start := time.Now()

	text, err := s.serveRelay(w, r)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.KindUnknown {
			kind = apperr.KindModel
		}
		s.metrics.RecordRelay(string(kind))
		s.logger.Warn().
			Str("request_id", reqID).
			Str("kind", string(kind)).
			Err(err).
			Dur("dur", time.Since(start)).
			Msg("relay failed")
		writeJSON(w, apperr.HTTPStatus(kind), relay.Failure(apperr.UserMessage(err)))
		return
	}

	s.metrics.RecordRelay("ok")
	s.logger.Info().
		Str("request_id", reqID).
		Str("model", s.ModelName()).
		Int("result_bytes", len(text)).
		Dur("dur", time.Since(start)).
		Msg("relay complete")
	writeJSON(w, http.StatusOK, relay.Success(text))
}

func (s *Server) serveRelay(w http.ResponseWriter, r *http.Request) (string, error) {
	const op = "forwarder.http"

	if err := s.checkConfigured(); err != nil {
		return "", err
	}

	token := bearerToken(r)
	if s.accessToken != "" && token != s.accessToken {
		return "", apperr.New(apperr.KindAuth, op, "invalid or missing bearer token")
	}

	if s.limiter != nil {
		key := token
		if key == "" {
			key = clientIP(r)
		}
		ok, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			// Fail open when the store is unreachable.
			s.logger.Error().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			s.metrics.RecordRateLimited()
			return "", apperr.New(apperr.KindRateLimit, op, "too many requests, try again later")
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var in relay.WireRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", apperr.New(apperr.KindInput, op, "request body too large")
		}
		return "", apperr.Wrap(apperr.KindInput, op, "invalid JSON body", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	return s.Relay(ctx, in)
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.model == nil {
		status = "unconfigured"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Model: s.ModelName()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
