package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/auth"
	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/logging"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/ratelimit"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}

	return r.ResponseWriter.Write(b)
}

// recoveryMiddleware converts handler panics into 500 responses.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))

				s.writeError(w, r, customerrors.NewInternalError("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// requestMiddleware attaches a request ID, logs the request, and records
// metrics. WebSocket upgrades are passed through unwrapped since the recorder
// does not implement http.Hijacker.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := logging.GenerateRequestID()
		ctx := logging.ContextWithTracing(r.Context(), logging.GenerateTraceID(), requestID)
		r = r.WithContext(ctx)

		w.Header().Set("X-Request-ID", requestID)

		if isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)

			return
		}

		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(recorder, r)

		elapsed := time.Since(started)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}

		route := routeLabel(r.URL.Path)
		s.metrics.ObserveRequest(route, status, elapsed)

		s.logger.Info("Request handled",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	})
}

// rateLimitMiddleware applies the inbound per-caller limit. The key is the
// API key when presented, the client IP otherwise. Limiter failures fail
// open. This is a local limit, separate from upstream flood control.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil || !s.cfg.RateLimit.Enabled {
		return next
	}

	limit := ratelimit.Limit{
		RequestsPerMinute: s.cfg.RateLimit.RequestsPerMinute,
		Burst:             s.cfg.RateLimit.Burst,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)

			return
		}

		key := r.Header.Get(auth.APIKeyHeader)
		if key == "" {
			key = clientIP(r)
		}

		allowed, err := s.limiter.Allow(r.Context(), key, limit)
		if err != nil {
			s.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)

			return
		}

		if !allowed {
			s.writeError(w, r, customerrors.NewRateLimitError("rate limit exceeded", 60))

			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAPIKey guards a handler with the pre-shared key and stores the
// principal in the request context.
func (s *Server) requireAPIKey(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authenticator.AuthenticateAPIKey(r)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		handler(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	}
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gatewayErr *customerrors.GatewayError
	if !errors.As(err, &gatewayErr) {
		gatewayErr = customerrors.Wrap(err, "internal server error")
	}

	status := customerrors.GetHTTPStatus(gatewayErr)

	logging.LogError(r.Context(), s.logger, "Request failed", gatewayErr)
	s.metrics.RecordError(string(gatewayErr.Type), gatewayErr.Component)

	if gatewayErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gatewayErr.RetryAfter))
	}

	writeJSON(w, status, errorResponse{
		Error:      gatewayErr.Message,
		Type:       string(gatewayErr.Type),
		RetryAfter: gatewayErr.RetryAfter,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}

		return strings.TrimSpace(forwarded)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// routeLabel collapses request paths onto their route patterns so metrics
// stay low-cardinality.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/download/"):
		return "/download/{fileID}"
	case strings.HasPrefix(path, "/thumbnail/"):
		return "/thumbnail/{fileID}"
	case strings.HasPrefix(path, "/files/"):
		return "/files/{messageID}"
	case strings.HasPrefix(path, "/upload/") && strings.HasSuffix(path, "/progress"):
		return "/upload/{uploadID}/progress"
	default:
		return path
	}
}
