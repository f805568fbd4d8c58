// Package core defines the ports of the job queue: storage strategies, buffers and their dependencies.
package core

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
)

// This file contains the port definitions (hexagonal architecture).
// Storage backends in internal/data implement these; the dispatcher and facade depend only on them.

// ProcessRole identifies what kind of process a strategy is running in.
type ProcessRole string

const (
	// RoleServer is a process that enqueues jobs and may consume active queues in-process.
	RoleServer ProcessRole = "server"
	// RoleWorker is a dedicated consumer process; several may share one store.
	RoleWorker ProcessRole = "worker"
)

// ErrNotInspectable is returned when an operation needs InspectableJobQueueStrategy and the strategy lacks it.
var ErrNotInspectable = errors.New("job queue strategy does not support inspection")

// StrategyDeps carries what a strategy may need during Init.
type StrategyDeps struct {
	Logger  *slog.Logger // Optional; defaults to slog.Default()
	Role    ProcessRole  // Optional; defaults to RoleServer
	DB      *sql.DB      // Required by SQL strategies
	Metrics statsd.Sink  // Optional
}

// AddOptions tunes a single Add call.
type AddOptions struct {
	// Tx, when set, makes the insert part of the caller's transaction. Ignored by non-SQL strategies.
	Tx *sql.Tx
}

// JobQueueStrategy is the storage contract every backend implements.
type JobQueueStrategy interface {
	// Init prepares the strategy. No other method may be called before it returns nil.
	Init(ctx context.Context, deps StrategyDeps) error
	// Destroy releases background resources.
	Destroy(ctx context.Context) error
	// Add persists a new job, assigning an ID when absent, and returns the stored copy.
	Add(ctx context.Context, job *model.Job, opts AddOptions) (*model.Job, error)
	// Next claims one eligible job of the queue not listed in excluding and returns it running.
	// It returns model.ErrNoJobsAvailable when nothing is eligible.
	Next(ctx context.Context, queueName string, excluding []string) (*model.Job, error)
	// Update persists the job's mutable fields. Jobs already settled in storage are left untouched.
	Update(ctx context.Context, job *model.Job) error
}

// InspectableJobQueueStrategy adds read and housekeeping operations.
type InspectableJobQueueStrategy interface {
	JobQueueStrategy
	// FindOne returns model.ErrJobNotFound when no job has the given ID.
	FindOne(ctx context.Context, id string) (*model.Job, error)
	FindMany(ctx context.Context, opts model.JobListOptions) (*model.JobList, error)
	// FindManyByID returns the jobs that exist, in no particular order.
	FindManyByID(ctx context.Context, ids []string) ([]*model.Job, error)
	// RemoveSettledJobs deletes settled jobs of the given queues (all queues when empty)
	// settled before olderThan (now when zero) and returns the number removed.
	RemoveSettledJobs(ctx context.Context, queueNames []string, olderThan time.Time) (int64, error)
}

// AsInspectable reports whether s supports inspection.
func AsInspectable(s JobQueueStrategy) (InspectableJobQueueStrategy, bool) {
	is, ok := s.(InspectableJobQueueStrategy)
	return is, ok
}

// JobHandler executes one claimed job. A returned error counts as a failed attempt;
// the result is stored on the job when it completes.
type JobHandler func(ctx context.Context, job *model.Job) (any, error)

// JobDispatcher runs handlers for the jobs of started queues.
type JobDispatcher interface {
	Start(ctx context.Context, queueName string, handler JobHandler) error
	// Stop ends polling and waits for running jobs, bounded by the dispatcher's shutdown timeout.
	Stop(ctx context.Context) error
	CancelJob(ctx context.Context, id string) (*model.Job, error)
}

// JobBuffer coalesces jobs before they are scheduled.
type JobBuffer interface {
	ID() string
	// Collect reports whether the job belongs in this buffer.
	Collect(job *model.Job) bool
	// Reduce turns the buffered jobs into the jobs that will actually be enqueued.
	Reduce(jobs []*model.Job) ([]*model.Job, error)
}

// JobBufferStorageStrategy holds buffered jobs between Add and Flush.
type JobBufferStorageStrategy interface {
	// Add appends job to each of the listed buffers.
	Add(ctx context.Context, bufferIDs []string, job *model.Job) error
	// BufferSize returns the number of jobs held per buffer; all known buffers when ids is empty.
	BufferSize(ctx context.Context, bufferIDs []string) (map[string]int, error)
	// Flush removes and returns the jobs held per buffer; all known buffers when ids is empty.
	Flush(ctx context.Context, bufferIDs []string) (map[string][]*model.Job, error)
}
