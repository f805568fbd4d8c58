package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/adapters/jobrunner"
	"github.com/target/mmk-jobqueue/internal/adapters/reaper"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data"
	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/observability/notify/pagerduty"
	"github.com/target/mmk-jobqueue/internal/observability/notify/slack"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/service"
	"github.com/target/mmk-jobqueue/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Strategy      core.JobQueueStrategy
	Dispatcher    *jobrunner.Runner
	Buffers       *service.JobBufferService
	Queues        *service.JobQueueService
	Handlers      *service.HandlerRegistry
	// Wakeups is nil when the strategy cannot signal new jobs or NotifyDisabled is set.
	Wakeups       *jobdomain.DefaultNotifier
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// Handlers registers one queue per handler; the built-in handlers are used when nil.
	Handlers *service.HandlerRegistry
	// DisableConsumers registers queues without consuming any of them.
	DisableConsumers bool
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:       true,
			Address:       cfg.Metrics.StatsdAddress,
			Prefix:        cfg.Metrics.Prefix,
			GlobalTags:    cfg.Metrics.Tags,
			FlushInterval: cfg.Metrics.FlushInterval,
			MaxPacketSize: cfg.Metrics.MaxPacketSize,
			Logger:        obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

// metrics returns the sink as an interface, nil when metrics are disabled.
func (o ObservabilityContainer) metrics() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// newBackoffPolicy turns the configured strategy and delays into a retry policy.
func newBackoffPolicy(cfg config.JobQueueConfig) (*jobdomain.BackoffPolicy, error) {
	fn, err := jobdomain.NewBackoffFunc(cfg.BackoffStrategy, cfg.BackoffDelay, cfg.BackoffMax)
	if err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	return jobdomain.NewBackoffPolicy(fn), nil
}

// newStrategy builds the configured job storage strategy.
//
//nolint:ireturn // the strategy kind is chosen from configuration.
func newStrategy(cfg *config.AppConfig) (core.JobQueueStrategy, error) {
	backoff, err := newBackoffPolicy(cfg.JobQueue)
	if err != nil {
		return nil, err
	}

	switch cfg.JobQueue.Strategy {
	case config.StrategyMemory:
		return data.NewInMemoryJobQueueStrategy(data.InMemoryStrategyOptions{
			Backoff:          backoff,
			EvictionInterval: cfg.JobQueue.EvictionInterval,
		}), nil
	case config.StrategySQL, "":
		dialect, err := data.ParseDialect(string(cfg.Database.Driver))
		if err != nil {
			return nil, err
		}
		return data.NewSQLJobQueueStrategy(data.SQLStrategyOptions{
			Dialect:     dialect,
			TablePrefix: cfg.JobQueue.Prefix,
			Backoff:     backoff,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported job queue strategy %q", cfg.JobQueue.Strategy)
	}
}

// newBufferStorage builds the configured buffer storage.
//
//nolint:ireturn // the storage kind is chosen from configuration.
func newBufferStorage(
	cfg config.JobQueueConfig,
	client redis.UniversalClient,
	logger *slog.Logger,
) (core.JobBufferStorageStrategy, error) {
	switch cfg.BufferStorage {
	case config.BufferStorageRedis:
		if client == nil {
			return nil, errors.New("redis buffer storage requires a redis client")
		}
		return data.NewRedisBufferStorage(client, cfg.Prefix, logger), nil
	case config.BufferStorageMemory, "":
		return data.NewInMemoryBufferStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported buffer storage %q", cfg.BufferStorage)
	}
}

func newBufferService(
	cfg config.JobQueueConfig,
	storage core.JobBufferStorageStrategy,
	strategy core.JobQueueStrategy,
	logger *slog.Logger,
	metrics statsd.Sink,
) (*service.JobBufferService, error) {
	buffers, err := service.NewJobBufferService(service.JobBufferServiceOptions{
		Storage:  storage,
		Strategy: strategy,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	defs, err := service.NewExpressionBuffers(cfg.Buffers)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := buffers.AddBuffer(def); err != nil {
			return nil, err
		}
	}
	return buffers, nil
}

// newWakeups returns a job-added notifier when the strategy can publish one.
//
//nolint:nilnil // running without wakeups is a valid configuration.
func newWakeups(cfg config.JobQueueConfig, strategy core.JobQueueStrategy) (*jobdomain.DefaultNotifier, error) {
	if cfg.NotifyDisabled {
		return nil, nil
	}
	waiter, ok := strategy.(jobdomain.Waiter)
	if !ok {
		return nil, nil
	}
	if sqlStrategy, ok := strategy.(*data.SQLJobQueueStrategy); ok && !sqlStrategy.NotificationsSupported() {
		return nil, nil
	}
	return jobdomain.NewNotifier(jobdomain.NotifierOptions{
		Waiter:     waiter,
		WaitWindow: cfg.NotifyWaitWindow,
	})
}

func newDispatcher(
	cfg config.JobQueueConfig,
	strategy core.JobQueueStrategy,
	wakeups *jobdomain.DefaultNotifier,
	logger *slog.Logger,
	observability ObservabilityContainer,
) (*jobrunner.Runner, error) {
	var notifier jobdomain.Notifier
	if wakeups != nil {
		notifier = wakeups
	}
	return jobrunner.NewRunner(jobrunner.RunnerOptions{
		Strategy: strategy,
		Logger:   logger,
		Metrics:  observability.metrics(),
		Queues: jobrunner.QueueSettings{
			Concurrency:  cfg.ConcurrencyFor,
			PollInterval: cfg.PollIntervalFor,
		},
		CancellationCheckInterval: cfg.CancellationCheckInterval,
		GracefulShutdownTimeout:   cfg.GracefulShutdownTimeout,
		FailureNotifier:           observability.FailureNotifier,
		Wakeups:                   notifier,
	})
}

// consumingQueues returns the queues this process runs handlers for.
func consumingQueues(cfg *config.AppConfig) []string {
	if !cfg.IsQueueEnabled() && !cfg.IsWorkerEnabled() {
		return nil
	}
	return cfg.JobQueue.ActiveQueues
}

func processRole(cfg *config.AppConfig) core.ProcessRole {
	if cfg.IsWorkerEnabled() {
		return core.RoleWorker
	}
	return core.RoleServer
}

// NewServices wires the strategy, dispatcher, buffers and queue service from configuration.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, cfg.Observability)

	strategy, err := newStrategy(cfg)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build strategy: %w", err)
	}
	storage, err := newBufferStorage(cfg.JobQueue, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build buffer storage: %w", err)
	}
	buffers, err := newBufferService(cfg.JobQueue, storage, strategy, logger, observability.metrics())
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build buffers: %w", err)
	}
	wakeups, err := newWakeups(cfg.JobQueue, strategy)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build wakeups: %w", err)
	}
	dispatcher, err := newDispatcher(cfg.JobQueue, strategy, wakeups, logger, observability)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dispatcher: %w", err)
	}

	handlers := deps.Handlers
	if handlers == nil {
		handlers = service.NewHandlerRegistry()
		if err := service.RegisterBuiltinHandlers(handlers); err != nil {
			return ServiceContainer{}, err
		}
	}
	active := consumingQueues(cfg)
	if deps.DisableConsumers {
		active = nil
	}
	for _, name := range active {
		if _, ok := handlers.Lookup(name); !ok {
			return ServiceContainer{}, fmt.Errorf("no handler registered for active queue %q", name)
		}
	}

	queues, err := service.NewJobQueueService(service.JobQueueServiceOptions{
		Strategy:       strategy,
		Dispatcher:     dispatcher,
		Buffers:        buffers,
		ActiveQueues:   active,
		DefaultRetries: cfg.JobQueue.Retries,
		Role:           processRole(cfg),
		DB:             deps.DB,
		Logger:         logger,
		Metrics:        observability.metrics(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build job queue service: %w", err)
	}
	if _, err := handlers.CreateQueues(context.Background(), queues); err != nil {
		return ServiceContainer{}, fmt.Errorf("register queues: %w", err)
	}

	return ServiceContainer{
		Strategy:      strategy,
		Dispatcher:    dispatcher,
		Buffers:       buffers,
		Queues:        queues,
		Handlers:      handlers,
		Wakeups:       wakeups,
		Observability: observability,
	}, nil
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:      baseLogger.With("component", "failure_notifier"),
		Sinks:       sinks,
		MutedQueues: cfg.MutedQueues,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
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

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
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
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)

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

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var reaperCfg config.ReaperConfig
			if deps.cfg.Config != nil {
				reaperCfg = deps.cfg.Config.Reaper
			}
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				Strategy: deps.cfg.Services.Strategy,
				Config:   reaperCfg,
				Logger:   deps.logger,
				Metrics:  deps.cfg.Services.Observability.metrics(),
			})
			if err != nil {
				return fmt.Errorf("create reaper runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func newBufferFlusherBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeBufferFlusher,
		name: "buffer flusher",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Services.Buffers == nil {
				return nil
			}
			interval := 10 * time.Second
			if deps.cfg.Config != nil {
				interval = deps.cfg.Config.JobQueue.BufferFlushInterval
			}
			return deps.cfg.Services.Buffers.RunFlushLoop(ctx, interval)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newReaperBackgroundService(deps),
		newBufferFlusherBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts the queue service and every enabled background service.
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
	if cfg.Services.Queues == nil {
		return errors.New("service orchestration config missing job queue service")
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	// The strategy backs every mode, so it starts before any background service.
	if err := cfg.Services.Queues.Start(serviceCtx); err != nil {
		destroyCtx, destroyCancel := context.WithTimeout(ctx, shutdownWaitTimeout)
		defer destroyCancel()
		if cfg.Services.Wakeups != nil {
			cfg.Services.Wakeups.StopAll()
		}
		return errors.Join(fmt.Errorf("start job queue service: %w", err), cfg.Services.Queues.Destroy(destroyCtx))
	}
	logger.InfoContext(serviceCtx, "job queue service started", "active_queues", consumingQueues(cfg.Config))

	errCh := make(chan error, errorChannelBufferSize(enabledServices))
	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		ctx:         ctx,
		cancel:      cancel,
		errCh:       errCh,
		services:    cfg.Services,
		flushOnStop: enabledServices[config.ServiceModeBufferFlusher],
		stopTimeout: cfg.Config.JobQueue.GracefulShutdownTimeout + shutdownWaitTimeout,
		logger:      logger,
		backgrounds: backgrounds,
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
	// ctx outlives the service context so shutdown work is not cancelled with it.
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	services    ServiceContainer
	flushOnStop bool
	stopTimeout time.Duration
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

// gracefulStop waits for background services, drains buffers and stops the queue service.
func gracefulStop(cfg shutdownConfig) error {
	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	timeout := cfg.stopTimeout
	if timeout <= 0 {
		timeout = shutdownWaitTimeout
	}
	stopCtx, cancel := context.WithTimeout(cfg.ctx, timeout)
	defer cancel()

	var errs []error
	if cfg.flushOnStop && cfg.services.Buffers != nil {
		submitted, err := cfg.services.Buffers.Flush(stopCtx)
		if err != nil {
			errs = append(errs, fmt.Errorf("final buffer flush: %w", err))
		}
		cfg.logger.Info("final buffer flush completed", "jobs", len(submitted))
	}

	if cfg.services.Queues != nil {
		if err := cfg.services.Queues.Destroy(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop job queue service: %w", err))
		}
	}
	if cfg.services.Wakeups != nil {
		cfg.services.Wakeups.StopAll()
	}
	if cfg.services.Observability.MetricsSink != nil {
		if err := cfg.services.Observability.MetricsSink.Close(); err != nil {
			cfg.logger.Warn("close metrics sink failed", "error", err)
		}
	}

	return errors.Join(errs...)
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
