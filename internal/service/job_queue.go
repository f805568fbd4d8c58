package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/reqctx"
)

var (
	// ErrDuplicateQueue is returned when a queue name is registered twice.
	ErrDuplicateQueue = errors.New("job queue already registered")
	// ErrDispatcherRequired is returned when an active queue is created without a dispatcher.
	ErrDispatcherRequired = errors.New("job dispatcher is required for active queues")
)

// JobQueueServiceOptions groups dependencies for JobQueueService.
type JobQueueServiceOptions struct {
	Strategy   core.JobQueueStrategy // Required
	Dispatcher core.JobDispatcher    // Required when ActiveQueues is not empty
	Buffers    *JobBufferService     // Optional: jobs collected by a buffer are held until flushed
	// ActiveQueues lists the queues this process consumes. Other queues only enqueue.
	ActiveQueues   []string
	DefaultRetries int
	Role           core.ProcessRole // Optional; defaults to core.RoleServer
	DB             *sql.DB          // Required by SQL strategies
	Logger         *slog.Logger
	Metrics        statsd.Sink
}

// JobQueueService owns the strategy lifecycle and the registered queues.
type JobQueueService struct {
	strategy       core.JobQueueStrategy
	dispatcher     core.JobDispatcher
	buffers        *JobBufferService
	active         []string
	defaultRetries int
	deps           core.StrategyDeps
	logger         *slog.Logger

	mu      sync.Mutex
	queues  map[string]*JobQueue
	started bool
}

// NewJobQueueService constructs the service. Call Start before enqueuing.
func NewJobQueueService(opts JobQueueServiceOptions) (*JobQueueService, error) {
	if opts.Strategy == nil {
		return nil, errors.New("job queue strategy is required")
	}
	if len(opts.ActiveQueues) > 0 && opts.Dispatcher == nil {
		return nil, ErrDispatcherRequired
	}
	if opts.DefaultRetries < 0 {
		return nil, errors.New("default retries must be >= 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	role := opts.Role
	if role == "" {
		role = core.RoleServer
	}
	return &JobQueueService{
		strategy:       opts.Strategy,
		dispatcher:     opts.Dispatcher,
		buffers:        opts.Buffers,
		active:         slices.Clone(opts.ActiveQueues),
		defaultRetries: opts.DefaultRetries,
		deps: core.StrategyDeps{
			Logger:  logger,
			Role:    role,
			DB:      opts.DB,
			Metrics: opts.Metrics,
		},
		logger: logger.With("component", "job_queue"),
		queues: make(map[string]*JobQueue),
	}, nil
}

// Start initializes the strategy and starts consuming every active queue registered so far.
func (s *JobQueueService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.strategy.Init(ctx, s.deps); err != nil {
		return fmt.Errorf("init job queue strategy: %w", err)
	}
	s.started = true

	for _, name := range slices.Sorted(maps.Keys(s.queues)) {
		if err := s.startQueue(ctx, s.queues[name]); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "job queue started", "role", s.deps.Role, "active_queues", s.active)
	return nil
}

// Destroy stops the dispatcher, waiting for running jobs, then releases the strategy.
func (s *JobQueueService) Destroy(ctx context.Context) error {
	var errs []error
	if s.dispatcher != nil {
		if err := s.dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
		}
	}
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if started {
		if err := s.strategy.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy job queue strategy: %w", err))
		}
	}
	return errors.Join(errs...)
}

// QueueOption customizes a queue created by CreateQueue.
type QueueOption func(*JobQueue)

// WithDefaultRetries overrides the service-wide retry count for jobs of the queue.
func WithDefaultRetries(n int) QueueOption {
	return func(q *JobQueue) {
		if n >= 0 {
			q.retries = n
		}
	}
}

// CreateQueue registers a queue. When the queue is active in this process its handler is
// started once the service is running; otherwise the queue can only enqueue.
func (s *JobQueueService) CreateQueue(ctx context.Context, name string, handler core.JobHandler, opts ...QueueOption) (*JobQueue, error) {
	if name == "" {
		return nil, apperrors.Validation("queue name is required")
	}
	if handler == nil {
		return nil, apperrors.Validationf("handler for queue %s is required", name)
	}

	q := &JobQueue{name: name, handler: handler, retries: s.defaultRetries, svc: s}
	for _, opt := range opts {
		opt(q)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateQueue, name)
	}
	s.queues[name] = q
	if s.started {
		if err := s.startQueue(ctx, q); err != nil {
			delete(s.queues, name)
			return nil, err
		}
	}
	return q, nil
}

func (s *JobQueueService) startQueue(ctx context.Context, q *JobQueue) error {
	if !s.IsActive(q.name) {
		s.logger.DebugContext(ctx, "queue registered for enqueue only", "queue", q.name)
		return nil
	}
	if err := s.dispatcher.Start(ctx, q.name, q.handler); err != nil {
		return fmt.Errorf("start queue %s: %w", q.name, err)
	}
	return nil
}

// IsActive reports whether this process consumes queueName.
func (s *JobQueueService) IsActive(queueName string) bool {
	return slices.Contains(s.active, queueName)
}

// Queue returns a registered queue.
func (s *JobQueueService) Queue(name string) (*JobQueue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	return q, ok
}

func (s *JobQueueService) inspectable() (core.InspectableJobQueueStrategy, error) {
	is, ok := core.AsInspectable(s.strategy)
	if !ok {
		return nil, core.ErrNotInspectable
	}
	return is, nil
}

// GetJob returns the job with the given ID.
func (s *JobQueueService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	is, err := s.inspectable()
	if err != nil {
		return nil, err
	}
	return is.FindOne(ctx, id)
}

// GetJobs lists jobs matching opts.
func (s *JobQueueService) GetJobs(ctx context.Context, opts model.JobListOptions) (*model.JobList, error) {
	is, err := s.inspectable()
	if err != nil {
		return nil, err
	}
	opts.Normalize()
	return is.FindMany(ctx, opts)
}

// GetJobsByID returns the jobs that exist among ids.
func (s *JobQueueService) GetJobsByID(ctx context.Context, ids []string) ([]*model.Job, error) {
	is, err := s.inspectable()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return is.FindManyByID(ctx, ids)
}

// RemoveSettledJobs deletes settled jobs of the given queues (all when empty) settled before olderThan.
func (s *JobQueueService) RemoveSettledJobs(ctx context.Context, queueNames []string, olderThan time.Time) (int64, error) {
	is, err := s.inspectable()
	if err != nil {
		return 0, err
	}
	return is.RemoveSettledJobs(ctx, queueNames, olderThan)
}

// CancelJob marks the job cancelled. A handler running it in this process is signalled immediately.
func (s *JobQueueService) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	if s.dispatcher != nil {
		return s.dispatcher.CancelJob(ctx, id)
	}
	is, err := s.inspectable()
	if err != nil {
		return nil, err
	}
	job, err := is.FindOne(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	if !job.Cancel(time.Now()) {
		return job, nil
	}
	if err := is.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	return job, nil
}

// Flush submits buffered jobs. Without a buffer service it does nothing.
func (s *JobQueueService) Flush(ctx context.Context, bufferIDs ...string) ([]*model.Job, error) {
	if s.buffers == nil {
		return nil, nil
	}
	return s.buffers.Flush(ctx, bufferIDs...)
}

// BufferSize reports buffered job counts. Without a buffer service the result is empty.
func (s *JobQueueService) BufferSize(ctx context.Context, bufferIDs ...string) (map[string]int, error) {
	if s.buffers == nil {
		return map[string]int{}, nil
	}
	return s.buffers.BufferSize(ctx, bufferIDs...)
}

// AddOptions tunes a single JobQueue.Add call.
type AddOptions struct {
	// Retries overrides the queue's retry count.
	Retries *int
	// RequestContext is embedded in the job data. Defaults to the one carried by ctx.
	RequestContext *reqctx.RequestContext
	// Tx joins the insert to a caller transaction. Defaults to the request context's Tx.
	Tx *sql.Tx
}

// JobQueue enqueues jobs for one named queue.
type JobQueue struct {
	name    string
	handler core.JobHandler
	retries int
	svc     *JobQueueService
}

// Name returns the queue name.
func (q *JobQueue) Name() string { return q.name }

// Retries returns the retry count new jobs get by default.
func (q *JobQueue) Retries() int { return q.retries }

// Add enqueues data as a new job. Data may be any JSON-marshalable value or raw JSON.
// A job taken by a buffer is returned without an ID; it is persisted when the buffer is flushed.
func (q *JobQueue) Add(ctx context.Context, data any, opts AddOptions) (*model.Job, error) {
	raw, err := marshalJobData(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job data")
	}

	rc := opts.RequestContext
	if rc == nil {
		rc, _ = reqctx.FromContext(ctx)
	}
	tx := opts.Tx
	if rc != nil {
		embedded, err := reqctx.Embed(raw, rc)
		switch {
		case errors.Is(err, reqctx.ErrNonObjectPayload):
			q.svc.logger.WarnContext(ctx, "request context not embedded in non-object job data", "queue", q.name)
		case err != nil:
			return nil, fmt.Errorf("embed request context: %w", err)
		default:
			raw = embedded
		}
		if tx == nil {
			tx = rc.Tx
		}
	}

	retries := q.retries
	if opts.Retries != nil {
		retries = *opts.Retries
	}
	job := model.NewJob(q.name, raw, retries)
	if err := job.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}

	if q.svc.buffers != nil {
		buffered, err := q.svc.buffers.Add(ctx, job)
		if err != nil {
			return nil, err
		}
		if buffered {
			return job, nil
		}
	}

	stored, err := q.svc.strategy.Add(ctx, job, core.AddOptions{Tx: tx})
	if err != nil {
		return nil, fmt.Errorf("add job to %s: %w", q.name, err)
	}
	q.svc.logger.DebugContext(ctx, "job added", "queue", q.name, "job_id", stored.ID, "retries", stored.Retries)
	return stored, nil
}

func marshalJobData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// TypedQueue enqueues values of one type.
type TypedQueue[T any] struct {
	*JobQueue
}

// NewTypedQueue wraps q.
func NewTypedQueue[T any](q *JobQueue) *TypedQueue[T] {
	return &TypedQueue[T]{JobQueue: q}
}

// Add enqueues data.
func (q *TypedQueue[T]) Add(ctx context.Context, data T, opts AddOptions) (*model.Job, error) {
	return q.JobQueue.Add(ctx, data, opts)
}

// DecodeJobData unmarshals job data into T. An embedded request context is ignored
// unless T has a field for it.
func DecodeJobData[T any](job *model.Job) (T, error) {
	var out T
	if len(job.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(job.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s job data: %w", job.QueueName, err)
	}
	return out, nil
}

// TypedHandler adapts a handler that works on decoded job data.
func TypedHandler[T any](fn func(ctx context.Context, data T, job *model.Job) (any, error)) core.JobHandler {
	return func(ctx context.Context, job *model.Job) (any, error) {
		data, err := DecodeJobData[T](job)
		if err != nil {
			return nil, err
		}
		return fn(ctx, data, job)
	}
}
