package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
)

// WatchdogConfig tunes the send deadlines. Zero values take the production
// defaults; tests shrink them.
type WatchdogConfig struct {
	// Base is the absolute deadline for a zero-byte send and the clamp floor.
	Base time.Duration
	// Per100MB extends the absolute deadline per 100 MiB of declared size.
	Per100MB time.Duration
	// Max is the clamp ceiling of the absolute deadline.
	Max time.Duration
	// Idle abandons a send with no progress event for this long.
	Idle time.Duration
}

const per100MBUnit = 100 * 1024 * 1024

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	if c.Base <= 0 {
		c.Base = 2 * time.Minute
	}

	if c.Per100MB <= 0 {
		c.Per100MB = time.Minute
	}

	if c.Max <= 0 {
		c.Max = 30 * time.Minute
	}

	if c.Idle <= 0 {
		c.Idle = 3 * time.Minute
	}

	return c
}

// AbsoluteDeadline computes the size-scaled deadline, clamped to [Base, Max].
func (c WatchdogConfig) AbsoluteDeadline(fileSize int64) time.Duration {
	c = c.withDefaults()

	deadline := c.Base + time.Duration(float64(c.Per100MB)*float64(fileSize)/per100MBUnit)

	if deadline < c.Base {
		deadline = c.Base
	}

	if deadline > c.Max {
		deadline = c.Max
	}

	return deadline
}

// Watchdog bounds a pending send with a size-scaled absolute deadline and an
// idle timer reset by progress events.
type Watchdog struct {
	cfg     WatchdogConfig
	metrics *metrics.Registry
	logger  *zap.Logger
}

// NewWatchdog creates a send watchdog.
func NewWatchdog(cfg WatchdogConfig, reg *metrics.Registry, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		cfg:     cfg.withDefaults(),
		metrics: reg,
		logger:  logger,
	}
}

// Await consumes the subscription until the operation resolves or a deadline
// fires. The subscription is cancelled on every return path. onProgress, when
// non-nil, receives each progress event's counters. Provider failure events
// are returned verbatim so the caller can classify them.
func (w *Watchdog) Await(
	ctx context.Context,
	sub *Subscription,
	fileSize int64,
	onProgress func(uploaded, total int64),
) (*RemoteFileRecord, error) {
	defer sub.Cancel()

	absolute := w.cfg.AbsoluteDeadline(fileSize)
	started := time.Now()

	absoluteTimer := time.NewTimer(absolute)
	defer absoluteTimer.Stop()

	idleTimer := time.NewTimer(w.cfg.Idle)
	defer idleTimer.Stop()

	for {
		select {
		case event := <-sub.C:
			switch event.Kind {
			case EventProgress:
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(w.cfg.Idle)

				if onProgress != nil {
					onProgress(event.Uploaded, event.Total)
				}

			case EventSucceeded:
				return event.Record, nil

			case EventFailed:
				return nil, event.Err
			}

		case <-absoluteTimer.C:
			w.metrics.SendTimeoutsTotal.WithLabelValues("absolute").Inc()
			w.logger.Warn("Send abandoned at absolute deadline",
				zap.Duration("deadline", absolute),
				zap.Duration("elapsed", time.Since(started)),
				zap.Int64("file_size", fileSize))

			return nil, customerrors.NewTimeoutError("protocol send", nil).
				WithComponent("relay").
				WithContext("elapsed", time.Since(started).String()).
				WithContext("file_size", fileSize)

		case <-idleTimer.C:
			w.metrics.SendTimeoutsTotal.WithLabelValues("idle").Inc()
			w.logger.Warn("Send abandoned after progress stall",
				zap.Duration("idle_window", w.cfg.Idle),
				zap.Duration("elapsed", time.Since(started)),
				zap.Int64("file_size", fileSize))

			return nil, customerrors.NewStalledError("protocol send").
				WithComponent("relay").
				WithContext("elapsed", time.Since(started).String()).
				WithContext("file_size", fileSize)

		case <-ctx.Done():
			return nil, customerrors.WrapWithType(ctx.Err(), customerrors.TypeTimeout, "send cancelled").
				WithComponent("relay")
		}
	}
}
