package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutline/scout-api/config"
	"github.com/scoutline/scout-api/internal/observability/metrics"
	"github.com/scoutline/scout-api/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Manager *RunManagerService // Required: run manager performing the sweeps
	Config  config.SweeperConfig
	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink (StatsD-compatible)
}

// SweeperService periodically performs run maintenance:
// - Force-failing runs stuck past the staleness threshold.
// - Deleting terminal runs past the retention window.
type SweeperService struct {
	manager *RunManagerService
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Manager == nil {
		return nil, errors.New("RunManagerService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper")
		logger.Debug("SweeperService initialized", "interval", opts.Config.Interval)
	}

	return &SweeperService{
		manager: opts.Manager,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper", "interval", s.config.Interval)
	}

	// Jitter prevents a thundering herd when multiple instances start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// sweep performs one full maintenance pass.
func (s *SweeperService) sweep(ctx context.Context) error {
	var errs []error

	recovered, err := s.manager.CheckTimeouts(ctx)
	metrics.EmitSweep(s.metrics, "recover_stuck", recovered, suppressContextCancellation(err))
	if err != nil {
		errs = append(errs, fmt.Errorf("recover stuck runs: %w", err))
	} else if recovered > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "sweep recovered stuck runs", "count", recovered)
	}

	deleted, err := s.manager.Cleanup(ctx)
	metrics.EmitSweep(s.metrics, "cleanup", deleted, suppressContextCancellation(err))
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}

	if s.metrics != nil {
		s.metrics.Gauge("sweep.last_success_epoch", float64(time.Now().Unix()), nil)
	}
	return nil
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
