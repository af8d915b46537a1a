package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/auth"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/health"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/ratelimit"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/relay"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/server"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/signedurl"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/storage"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/tracing"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/upload"
)

const shutdownTimeoutSeconds = 30

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionRequestedError is returned when the version flag is set.
type VersionRequestedError struct{}

func (e VersionRequestedError) Error() string {
	return "version requested"
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "cloudvault",
		Short: "CloudVault - file storage gateway over a messaging relay",
		Long: `CloudVault stores and retrieves large binary files by relaying them
through a messaging protocol client, exposing a conventional chunked
upload/download HTTP API.`,
		RunE: run,
	}

	rootCmd.Flags().StringP("config", "c", "/etc/cloudvault/cloudvault.yaml", "Path to configuration file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := handleVersionFlag(cmd); err != nil {
		var errVersionRequested VersionRequestedError
		if errors.As(err, &errVersionRequested) {
			return nil
		}

		return err
	}

	logger, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}

	servers, serverErrChan := startServers(cfg, components, logger)

	return waitForShutdownAndCleanup(ctx, cancel, servers, components, serverErrChan, logger)
}

type Components struct {
	MetricsRegistry *metrics.Registry
	RelayManager    *relay.Manager
	UploadStore     *upload.Store
	Authenticator   *auth.Authenticator
	Codec           *signedurl.Codec
	RateLimiter     ratelimit.Limiter
	HealthChecker   *health.Checker
	Evictor         *storage.Evictor
	TracingShutdown func(context.Context) error
}

type Servers struct {
	Gateway *server.Server
	Metrics *http.Server
}

func handleVersionFlag(cmd *cobra.Command) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		fmt.Printf("CloudVault\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

		return VersionRequestedError{}
	}

	return nil
}

func setupLogger(cmd *cobra.Command) (*zap.Logger, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logger, err := initLogger(logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

func syncLogger(logger *zap.Logger) {
	if syncErr := logger.Sync(); syncErr != nil {
		// Ignore "sync /dev/stderr: invalid argument" error in containers
		if syncErr.Error() != "sync /dev/stderr: invalid argument" &&
			syncErr.Error() != "sync /dev/stdout: invalid argument" {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger.Info("Initializing gateway components")

	metricsRegistry := metrics.NewRegistry()

	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	protocolClient := relay.NewTDLibClient(cfg.Relay, logger)

	relayManager := relay.NewManager(
		protocolClient,
		cfg.Relay,
		relay.WatchdogConfig{
			Base:     cfg.Watchdog.Base,
			Per100MB: cfg.Watchdog.Per100MB,
			Max:      cfg.Watchdog.Max,
			Idle:     cfg.Watchdog.Idle,
		},
		upload.NewConcurrencyLimiter(cfg.Relay.SendSlots),
		metricsRegistry,
		logger,
	)

	// Authenticate eagerly: missing credentials or an unresolvable channel
	// must abort startup rather than surface per request.
	if err := relayManager.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("protocol session startup failed: %w", err)
	}

	uploadStore := upload.NewStore(
		cfg.Uploads.Dir,
		cfg.Uploads.SessionTTL,
		cfg.Uploads.CleanupInterval,
		metricsRegistry,
		logger,
	)

	codecOpts := []signedurl.Option{}
	if cfg.Auth.TokenTTL > 0 {
		codecOpts = append(codecOpts, signedurl.WithTTL(cfg.Auth.TokenTTL))
	}

	codec := signedurl.NewCodec(cfg.Auth.SigningSecret, codecOpts...)
	authenticator := auth.NewAuthenticator(cfg.Auth.APIKey, codec)

	rateLimiter, err := createRateLimiter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	evictor := storage.NewEvictor(relayManager, cfg.Eviction, metricsRegistry, logger)
	evictor.Start()

	return &Components{
		MetricsRegistry: metricsRegistry,
		RelayManager:    relayManager,
		UploadStore:     uploadStore,
		Authenticator:   authenticator,
		Codec:           codec,
		RateLimiter:     rateLimiter,
		HealthChecker:   health.NewChecker(relayManager.Ready),
		Evictor:         evictor,
		TracingShutdown: tracingShutdown,
	}, nil
}

//nolint:ireturn // Factory pattern requires interface return
func createRateLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		logger.Info("Inbound rate limiting disabled")

		return nil, nil
	}

	limiter, err := ratelimit.New(ctx, cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	return limiter, nil
}

func startServers(cfg *config.Config, components *Components, logger *zap.Logger) (*Servers, <-chan error) {
	gatewayServer := server.New(
		cfg,
		logger,
		components.MetricsRegistry,
		components.RelayManager,
		components.UploadStore,
		components.Authenticator,
		components.Codec,
		components.RateLimiter,
		components.HealthChecker,
	)

	metricsServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(
			components.MetricsRegistry.PrometheusRegistry(),
			promhttp.HandlerOpts{},
		),
		ReadHeaderTimeout: shutdownTimeoutSeconds * time.Second,
	}

	if cfg.Metrics.Enabled {
		go func() {
			logger.Info("Starting metrics server", zap.Int("port", cfg.Server.MetricsPort))

			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	serverErrChan := make(chan error, 1)

	go func() {
		logger.Info("Starting CloudVault gateway",
			zap.String("version", Version),
			zap.Int("port", cfg.Server.Port),
		)

		serverErrChan <- gatewayServer.ListenAndServe()
	}()

	return &Servers{
		Gateway: gatewayServer,
		Metrics: metricsServer,
	}, serverErrChan
}

func waitForShutdownAndCleanup(
	ctx context.Context,
	cancel context.CancelFunc,
	servers *Servers,
	components *Components,
	serverErrChan <-chan error,
	logger *zap.Logger,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Gateway server error", zap.Error(err))

			return err
		}
	}

	return performGracefulShutdown(ctx, cancel, servers, components, logger)
}

func performGracefulShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	servers *Servers,
	components *Components,
	logger *zap.Logger,
) error {
	logger.Info("Starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err := servers.Gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down gateway server", zap.Error(err))
	}

	if err := servers.Metrics.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down metrics server", zap.Error(err))
	}

	components.Evictor.Stop()

	cancel()

	if err := components.UploadStore.Close(); err != nil {
		logger.Error("Error closing upload store", zap.Error(err))
	}

	if err := components.RelayManager.Shutdown(); err != nil {
		logger.Error("Error shutting down protocol session", zap.Error(err))
	}

	if err := components.TracingShutdown(shutdownCtx); err != nil {
		logger.Error("Error flushing traces", zap.Error(err))
	}

	logger.Info("CloudVault shutdown complete")

	return nil
}

func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = ""

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "cloudvault")), nil
}
