// Package server exposes the gateway's HTTP surface: chunked uploads,
// ranged downloads, signed-URL minting, and health. Handlers are thin
// adapters over the relay, upload, and signedurl packages.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/auth"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/health"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/ratelimit"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/relay"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/signedurl"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/upload"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg           *config.Config
	logger        *zap.Logger
	metrics       *metrics.Registry
	relay         *relay.Manager
	uploads       *upload.Store
	authenticator *auth.Authenticator
	codec         *signedurl.Codec
	limiter       ratelimit.Limiter
	checker       *health.Checker
	progress      *progressHub
	upgrader      websocket.Upgrader

	httpServer *http.Server
}

// New creates the gateway server.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	reg *metrics.Registry,
	relayManager *relay.Manager,
	uploads *upload.Store,
	authenticator *auth.Authenticator,
	codec *signedurl.Codec,
	limiter ratelimit.Limiter,
	checker *health.Checker,
) *Server {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		metrics:       reg,
		relay:         relayManager,
		uploads:       uploads,
		authenticator: authenticator,
		codec:         codec,
		limiter:       limiter,
		checker:       checker,
		progress:      newProgressHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Progress frames carry no secrets beyond the upload ID the
			// caller already holds, so cross-origin dashboards may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	return s
}

// Handler builds the routed and middleware-wrapped handler. Exposed so tests
// drive the full chain through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload/init", s.handleUploadInit)
	mux.HandleFunc("POST /upload/chunk", s.handleUploadChunk)
	mux.HandleFunc("POST /upload/complete", s.requireAPIKey(s.handleUploadComplete))
	mux.HandleFunc("GET /upload/{uploadID}/progress", s.handleUploadProgress)
	mux.HandleFunc("GET /download/{fileID}", s.handleDownload)
	mux.HandleFunc("GET /thumbnail/{fileID}", s.handleThumbnail)
	mux.HandleFunc("DELETE /files/{messageID}", s.requireAPIKey(s.handleDeleteFile))
	mux.HandleFunc("POST /sign", s.requireAPIKey(s.handleSign))
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	handler = s.rateLimitMiddleware(handler)
	handler = s.requestMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	if s.cfg.Tracing.Enabled {
		handler = otelhttp.NewHandler(handler, "cloudvault.http")
	}

	return handler
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
