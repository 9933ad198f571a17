package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scoutline/scout-api/config"
	"github.com/scoutline/scout-api/internal/adapters/analyzer"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/executor"
	"github.com/scoutline/scout-api/internal/observability/statsd"
	"github.com/scoutline/scout-api/internal/ports"
	"github.com/scoutline/scout-api/internal/queue"
	"github.com/scoutline/scout-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Runs          *service.RunService
	Status        *service.StatusService
	Jobs          *service.JobService
	Manager       *service.RunManagerService
	Sweeper       *service.SweeperService
	Executor      *executor.Executor
	Queue         *queue.Queue
	Sessions      ports.SessionStore
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB         *sql.DB
	RunRepo    *data.RunRepo
	ResultRepo *data.ResultRepo
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "scout",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB) *serviceRepositories {
	return &serviceRepositories{
		DB:         db,
		RunRepo:    data.NewRunRepo(db, data.RepoConfig{}),
		ResultRepo: data.NewResultRepo(db, data.RepoConfig{}),
	}
}

func buildAnalyzerClient(cfg config.AnalyzerConfig, logger *slog.Logger) (*analyzer.Client, error) {
	return analyzer.NewClient(analyzer.ClientOptions{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Mapping: analyzer.FieldMapping{
			Score:           cfg.ScoreExpr,
			Classification:  cfg.ClassificationExpr,
			Rationale:       cfg.RationaleExpr,
			MatchedCriteria: cfg.MatchedCriteriaExpr,
			Gaps:            cfg.GapsExpr,
		},
		Logger: logger,
	})
}

// NewServices wires repositories, the job queue, and business services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	repos := buildRepositories(deps.DB)
	jobQueue := queue.New(queue.Options{Logger: logger})

	runService := service.MustNewRunService(service.RunServiceOptions{
		Runs:    repos.RunRepo,
		Results: repos.ResultRepo,
		Queue:   jobQueue,
		Logger:  logger,
	})

	statusService, err := service.NewStatusService(service.StatusServiceOptions{
		Runs:    repos.RunRepo,
		Results: repos.ResultRepo,
		Queue:   jobQueue,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("status service: %w", err)
	}

	jobService := service.MustNewJobService(service.JobServiceOptions{
		Queue:  jobQueue,
		Logger: logger,
	})

	managerService := service.MustNewRunManagerService(service.RunManagerServiceOptions{
		Runs:    repos.RunRepo,
		Results: repos.ResultRepo,
		Queue:   jobQueue,
		Config:  appCfg.RunManager,
		Logger:  logger,
	})

	sweeperOpts := service.SweeperServiceOptions{
		Manager: managerService,
		Config:  appCfg.Sweeper,
		Logger:  logger,
	}
	if observability.MetricsSink != nil {
		sweeperOpts.Metrics = observability.MetricsSink
	}
	sweeperService, err := service.NewSweeperService(sweeperOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("sweeper service: %w", err)
	}

	analyzerClient, err := buildAnalyzerClient(appCfg.Analyzer, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("analyzer client: %w", err)
	}

	executorOpts := executor.Options{
		Queue:        jobQueue,
		Runs:         repos.RunRepo,
		Results:      repos.ResultRepo,
		Analyzer:     analyzerClient,
		Logger:       logger,
		Workers:      appCfg.Executor.Workers,
		PollInterval: appCfg.Executor.PollInterval,
		MaxGroupSize: appCfg.Executor.MaxGroupSize,
	}
	if observability.MetricsSink != nil {
		executorOpts.Metrics = observability.MetricsSink
	}
	runExecutor, err := executor.New(executorOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("executor: %w", err)
	}

	sessions, err := BuildSessionStore(SessionStoreConfig{
		RedisClient: deps.RedisClient,
		SessionTTL:  appCfg.HTTP.SessionTTL,
		IsDev:       appCfg.IsDev,
		Logger:      logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("session store: %w", err)
	}

	return ServiceContainer{
		Runs:          runService,
		Status:        statusService,
		Jobs:          jobService,
		Manager:       managerService,
		Sweeper:       sweeperService,
		Executor:      runExecutor,
		Queue:         jobQueue,
		Sessions:      sessions,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newExecutorBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeExecutor,
		name: "executor",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}

			// Re-enqueue runs interrupted by a previous process exit before
			// accepting new work.
			resumed, err := deps.cfg.Services.Manager.ResumeInterrupted(ctx)
			if err != nil {
				deps.logger.WarnContext(ctx, "resume of interrupted runs failed", "error", err)
			} else if resumed > 0 {
				deps.logger.InfoContext(ctx, "resumed interrupted runs", "count", resumed)
			}

			return deps.cfg.Services.Executor.Run(ctx)
		},
	}
}

func newSweeperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeSweeper,
		name: "sweeper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return deps.cfg.Services.Sweeper.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newExecutorBackgroundService(deps),
		newSweeperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	// Gracefully stop HTTP server if running
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(cfg.ctx, shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
