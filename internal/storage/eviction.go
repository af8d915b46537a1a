// Package storage runs the protocol client's local cache eviction on a
// schedule. Eviction is best effort: failures are logged and swallowed and
// never block request handling.
package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/config"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/metrics"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/relay"
)

const runTimeout = 5 * time.Minute

// Optimizer is the slice of the relay manager the scheduler needs.
type Optimizer interface {
	Evict(ctx context.Context, policy relay.EvictionPolicy) (relay.StorageStats, error)
}

// Evictor periodically caps the protocol client's on-disk cache.
type Evictor struct {
	optimizer Optimizer
	cfg       config.EvictionConfig
	metrics   *metrics.Registry
	logger    *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewEvictor creates the eviction scheduler.
func NewEvictor(optimizer Optimizer, cfg config.EvictionConfig, reg *metrics.Registry, logger *zap.Logger) *Evictor {
	return &Evictor{
		optimizer: optimizer,
		cfg:       cfg,
		metrics:   reg,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the schedule: one run after the startup grace period, then
// one per interval. No-op when eviction is disabled.
func (e *Evictor) Start() {
	if !e.cfg.Enabled {
		close(e.done)
		e.logger.Info("Storage eviction disabled")

		return
	}

	go e.run()
}

// Stop halts the schedule and waits for an in-progress run to finish.
func (e *Evictor) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Evictor) run() {
	defer close(e.done)

	grace := time.NewTimer(e.cfg.StartupGrace)
	defer grace.Stop()

	select {
	case <-grace.C:
	case <-e.stop:
		return
	}

	e.runOnce()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runOnce()
		case <-e.stop:
			return
		}
	}
}

func (e *Evictor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	stats, err := e.optimizer.Evict(ctx, relay.EvictionPolicy{
		MaxSize:           e.cfg.MaxSize,
		TTL:               e.cfg.TTL,
		ExcludeThumbnails: true,
	})
	if err != nil {
		e.metrics.EvictionRunsTotal.WithLabelValues("failure").Inc()
		e.logger.Warn("Storage eviction run failed", zap.Error(err))

		return
	}

	e.metrics.EvictionRunsTotal.WithLabelValues("success").Inc()
	e.metrics.EvictionBytesFreed.Add(float64(stats.BytesFreed))
	e.metrics.EvictionFilesFreed.Add(float64(stats.FilesRemoved))

	e.logger.Info("Storage eviction run completed",
		zap.Int64("bytes_freed", stats.BytesFreed),
		zap.Int64("files_removed", stats.FilesRemoved),
		zap.Int64("bytes_remaining", stats.BytesRemaining))
}
