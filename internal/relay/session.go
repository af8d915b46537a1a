package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/upload"
)

// State is the lifecycle state of the protocol session.
type State int

const (
	// StateUninitialized means no authentication attempt has been made.
	StateUninitialized State = iota
	// StateAuthenticating means one caller is logging the client in.
	StateAuthenticating
	// StateReady means the client is authenticated and the destination chat
	// is resolved.
	StateReady
	// StateClosed means the session was shut down. A later Acquire
	// re-authenticates.
	StateClosed
)

const (
	defaultAuthTimeout = 30 * time.Second
	knownChatsLimit    = 200
)

// SendSpec describes an assembled file handed to the send pipeline.
type SendSpec struct {
	FilePath string
	FileName string
	MimeType string
	Size     int64
	// OnProgress, when non-nil, receives the watchdog's progress counters.
	OnProgress func(uploaded, total int64)
}

// Manager owns the singleton protocol session. All sends and fetches
// multiplex through the one client it wraps. The client is injected so tests
// run against a fake.
type Manager struct {
	client     Client
	dispatcher *Dispatcher
	limiter    *upload.ConcurrencyLimiter
	watchdog   *Watchdog
	cfg        config.RelayConfig
	metrics    *metrics.Registry
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	readyCh chan struct{}
	authErr error
}

// NewManager creates the session manager around an unauthenticated client.
func NewManager(
	client Client,
	cfg config.RelayConfig,
	watchdogCfg WatchdogConfig,
	limiter *upload.ConcurrencyLimiter,
	reg *metrics.Registry,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		client:     client,
		dispatcher: NewDispatcher(logger),
		limiter:    limiter,
		watchdog:   NewWatchdog(watchdogCfg, reg, logger),
		cfg:        cfg,
		metrics:    reg,
		logger:     logger,
		state:      StateUninitialized,
	}
}

// Acquire ensures the session is ready, authenticating on first use. Callers
// arriving while another caller is authenticating wait, bounded by the auth
// timeout, rather than starting a second login.
func (m *Manager) Acquire(ctx context.Context) error {
	timeout := m.cfg.AuthTimeout
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}

	m.mu.Lock()

	switch m.state {
	case StateReady:
		m.mu.Unlock()

		return nil

	case StateAuthenticating:
		ch := m.readyCh
		m.mu.Unlock()

		return m.awaitAuthentication(ctx, ch, timeout)

	default: // StateUninitialized, StateClosed
		m.state = StateAuthenticating
		m.readyCh = make(chan struct{})
		m.authErr = nil
		ch := m.readyCh
		m.mu.Unlock()

		err := m.authenticate(ctx, timeout)

		m.mu.Lock()
		if err != nil {
			m.state = StateUninitialized
			m.authErr = err
		} else {
			m.state = StateReady
		}
		close(ch)
		m.mu.Unlock()

		return err
	}
}

func (m *Manager) awaitAuthentication(ctx context.Context, ch <-chan struct{}, timeout time.Duration) error {
	select {
	case <-ch:
		m.mu.Lock()
		ready := m.state == StateReady
		err := m.authErr
		m.mu.Unlock()

		if ready {
			return nil
		}

		if err != nil {
			return err
		}

		return customerrors.NewUpstreamError("protocol session unavailable", nil).
			WithComponent("relay")

	case <-time.After(timeout):
		return customerrors.NewTimeoutError("protocol session authentication", nil).
			WithComponent("relay")

	case <-ctx.Done():
		return customerrors.WrapWithType(ctx.Err(), customerrors.TypeTimeout, "acquire cancelled").
			WithComponent("relay")
	}
}

func (m *Manager) authenticate(parent context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m.logger.Info("Authenticating protocol client",
		zap.Int64("channel_id", m.cfg.ChannelID))

	if err := m.client.Start(ctx); err != nil {
		return customerrors.NewUpstreamError("protocol client login failed", err).
			WithComponent("relay")
	}

	if err := m.resolveDestination(ctx); err != nil {
		return err
	}

	go m.dispatcher.Pump(m.client.Updates())

	m.logger.Info("Protocol session ready")

	return nil
}

// resolveDestination loads the destination channel into the client's local
// cache. A direct lookup miss triggers one bulk chat load and one retry; a
// second miss means the bot cannot see the channel, which is a deployment
// problem rather than a transient one.
func (m *Manager) resolveDestination(ctx context.Context) error {
	if err := m.client.ResolveChat(ctx, m.cfg.ChannelID); err == nil {
		return nil
	}

	if err := m.client.LoadKnownChats(ctx, knownChatsLimit); err != nil {
		m.logger.Debug("Bulk chat load failed", zap.Error(err))
	}

	if err := m.client.ResolveChat(ctx, m.cfg.ChannelID); err != nil {
		return customerrors.WrapWithType(err, customerrors.TypeConfig,
			"destination channel not visible to the bot").
			WithComponent("relay").
			WithContext("channel_id", m.cfg.ChannelID)
	}

	return nil
}

// Ready reports whether the session is authenticated.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state == StateReady
}

// Shutdown closes the protocol client exactly once. A subsequent Acquire
// starts a fresh authentication.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()

		return nil
	}
	m.state = StateClosed
	m.mu.Unlock()

	m.logger.Info("Shutting down protocol session")

	return m.client.Close()
}

// Send runs the full pipeline for one assembled file: acquire the session,
// claim a concurrency slot, submit with the MIME-derived shape under the
// watchdog, and retry once as a generic document if the provider rejects the
// media shape. The slot is released on every path.
func (m *Manager) Send(ctx context.Context, spec SendSpec) (*RemoteFileRecord, error) {
	if err := m.Acquire(ctx); err != nil {
		return nil, err
	}

	release, err := m.limiter.Acquire(ctx)
	if err != nil {
		return nil, customerrors.WrapWithType(err, customerrors.TypeTimeout, "send slot unavailable").
			WithComponent("relay")
	}
	defer release()

	m.metrics.SendsInFlight.Inc()
	defer m.metrics.SendsInFlight.Dec()

	shape := ClassifyShape(spec.MimeType)
	started := time.Now()

	record, err := m.attempt(ctx, spec, shape)

	if err != nil && shape != ShapeDocument && IsMediaRejected(err) {
		m.metrics.SendFallbacksTotal.Inc()
		m.logger.Warn("Media shape rejected, retrying as document",
			zap.String("shape", string(shape)),
			zap.String("file_name", spec.FileName),
			zap.Error(err))

		shape = ShapeDocument
		record, err = m.attempt(ctx, spec, shape)
	}

	elapsed := time.Since(started)

	if err != nil {
		m.metrics.SendDuration.WithLabelValues(string(shape), "failure").Observe(elapsed.Seconds())

		return nil, m.translateSendError(err)
	}

	m.metrics.SendDuration.WithLabelValues(string(shape), "success").Observe(elapsed.Seconds())
	m.metrics.SendBytesTotal.Add(float64(spec.Size))

	m.logger.Info("File sent",
		zap.String("file_name", spec.FileName),
		zap.String("shape", string(shape)),
		zap.String("remote_file_id", record.RemoteFileID),
		zap.Int64("message_id", record.MessageID),
		zap.Duration("elapsed", elapsed))

	return record, nil
}

func (m *Manager) attempt(ctx context.Context, spec SendSpec, shape SendShape) (*RemoteFileRecord, error) {
	operationID, err := m.client.Submit(ctx, SendRequest{
		ChatID:   m.cfg.ChannelID,
		FilePath: spec.FilePath,
		FileName: spec.FileName,
		MimeType: spec.MimeType,
		Shape:    shape,
	})
	if err != nil {
		return nil, err
	}

	sub := m.dispatcher.Subscribe(operationID)

	return m.watchdog.Await(ctx, sub, spec.Size, spec.OnProgress)
}

// translateSendError converts raw provider errors into the gateway taxonomy.
// Watchdog timeouts arrive already typed and pass through.
func (m *Manager) translateSendError(err error) error {
	var gatewayErr *customerrors.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}

	if wait, ok := ParseFloodWait(err.Error()); ok {
		m.metrics.FloodWaitsTotal.Inc()

		return customerrors.NewRateLimitError("provider flood control", wait).
			WithComponent("relay")
	}

	return customerrors.NewUpstreamError("protocol send failed", err).
		WithComponent("relay")
}

// Fetch streams a byte range of stored content.
func (m *Manager) Fetch(ctx context.Context, req FetchRequest) (io.ReadCloser, int64, error) {
	if err := m.Acquire(ctx); err != nil {
		return nil, 0, err
	}

	body, totalSize, err := m.client.Fetch(ctx, req)
	if err != nil {
		return nil, 0, m.translateFetchError(err, req.RemoteFileID)
	}

	return body, totalSize, nil
}

func (m *Manager) translateFetchError(err error, remoteFileID string) error {
	var gatewayErr *customerrors.GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}

	text := strings.ToUpper(err.Error())
	if strings.Contains(text, "NOT FOUND") ||
		strings.Contains(text, "FILE_REFERENCE") ||
		strings.Contains(text, "INVALID REMOTE ID") {
		return customerrors.NewNotFoundError("stored file").
			WithComponent("relay").
			WithContext("remote_file_id", remoteFileID)
	}

	return customerrors.NewUpstreamError("protocol fetch failed", err).
		WithComponent("relay")
}

// Delete removes the backing channel message.
func (m *Manager) Delete(ctx context.Context, messageID int64) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}

	if err := m.client.DeleteMessage(ctx, m.cfg.ChannelID, messageID); err != nil {
		return customerrors.NewUpstreamError("failed to delete message", err).
			WithComponent("relay").
			WithContext("message_id", messageID)
	}

	return nil
}

// Evict runs the client's storage optimization under the given policy.
func (m *Manager) Evict(ctx context.Context, policy EvictionPolicy) (StorageStats, error) {
	if err := m.Acquire(ctx); err != nil {
		return StorageStats{}, err
	}

	stats, err := m.client.OptimizeStorage(ctx, policy)
	if err != nil {
		return StorageStats{}, customerrors.NewUpstreamError("storage optimization failed", err).
			WithComponent("relay")
	}

	return stats, nil
}
