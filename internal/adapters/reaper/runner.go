// Package reaper provides adapters for running the settled job reaper.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/service"
)

// ErrStrategyNotInspectable is returned when the configured strategy cannot list or delete jobs.
var ErrStrategyNotInspectable = errors.New("reaper requires an inspectable job queue strategy")

// Runner provides a simple adapter to run the reaper loop.
// It constructs the reaper service and runs the cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Strategy core.JobQueueStrategy // Required; must implement core.InspectableJobQueueStrategy
	Config   config.ReaperConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Strategy == nil {
		return nil, errors.New("job queue strategy is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	inspectable, ok := core.AsInspectable(opts.Strategy)
	if !ok {
		return nil, ErrStrategyNotInspectable
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Strategy: inspectable,
		Config:   opts.Config,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{
		reaper: reaper,
		logger: opts.Logger,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single sweep and returns.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.reaper.RunOnce(ctx)
}
