package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeExecutor runs the scoring run executor.
	ServiceModeExecutor ServiceMode = "executor"
	// ServiceModeSweeper runs the run maintenance sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeExecutor,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeExecutor, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, executor, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ExecutorConfig contains run executor service configuration.
type ExecutorConfig struct {
	// Workers is the number of concurrent job-processing goroutines.
	Workers int `env:"EXECUTOR_WORKERS" envDefault:"2"`

	// PollInterval bounds how long an idle worker waits before re-checking
	// the queue without a notification.
	PollInterval time.Duration `env:"EXECUTOR_POLL_INTERVAL" envDefault:"5s"`

	// MaxGroupSize caps the per-submission group size override.
	MaxGroupSize int `env:"EXECUTOR_MAX_GROUP_SIZE" envDefault:"10"`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	if e.Workers < 1 {
		e.Workers = 1
	}
	if e.PollInterval < time.Second {
		e.PollInterval = time.Second
	}
	if e.MaxGroupSize < 1 {
		e.MaxGroupSize = 10
	}
}

// RunManagerConfig contains run health and recovery configuration.
type RunManagerConfig struct {
	// StuckThreshold is the age past which an unfinished run is considered stuck.
	StuckThreshold time.Duration `env:"RUN_STUCK_THRESHOLD" envDefault:"30m"`

	// RetentionMaxAge is the age past which terminal runs are deleted.
	RetentionMaxAge time.Duration `env:"RUN_RETENTION_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to delete per cleanup operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"RUN_CLEANUP_BATCH_SIZE" envDefault:"1000"`

	// JobRetention is how long terminal jobs stay visible in the in-memory
	// queue before eviction.
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"1h"`
}

// Sanitize applies guardrails to run manager configuration values.
func (r *RunManagerConfig) Sanitize() {
	if r.StuckThreshold < time.Minute {
		r.StuckThreshold = time.Minute
	}
	if r.RetentionMaxAge < time.Hour {
		r.RetentionMaxAge = time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
	if r.JobRetention < time.Minute {
		r.JobRetention = time.Minute
	}
}

// SweeperConfig contains run maintenance sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"5m"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
}
