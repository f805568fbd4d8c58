package data

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-jobqueue/internal/core"
	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	apperrors "github.com/target/mmk-jobqueue/internal/errors"
)

// DefaultEvictionInterval is both how often settled jobs are evicted and how old they must be.
const DefaultEvictionInterval = 2 * time.Hour

// InMemoryStrategyOptions configures an InMemoryJobQueueStrategy.
type InMemoryStrategyOptions struct {
	Backoff          *jobdomain.BackoffPolicy // Optional; defaults to a constant 1s backoff
	EvictionInterval time.Duration            // Optional; defaults to DefaultEvictionInterval
	TimeProvider     TimeProvider             // Optional
}

// InMemoryJobQueueStrategy keeps jobs in process memory. It is only correct when a single process
// both enqueues and consumes, so it refuses to start in worker processes.
type InMemoryJobQueueStrategy struct {
	backoff  *jobdomain.BackoffPolicy
	interval time.Duration
	clock    TimeProvider

	mu     sync.Mutex
	jobs   map[string]*model.Job
	queues map[string][]string // unsettled job IDs per queue, in claim order
	added  map[string]chan struct{}
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

var _ core.InspectableJobQueueStrategy = (*InMemoryJobQueueStrategy)(nil)
var _ jobdomain.Waiter = (*InMemoryJobQueueStrategy)(nil)

// NewInMemoryJobQueueStrategy creates an empty strategy; call Init before use.
func NewInMemoryJobQueueStrategy(opts InMemoryStrategyOptions) *InMemoryJobQueueStrategy {
	backoff := opts.Backoff
	if backoff == nil {
		backoff = jobdomain.NewBackoffPolicy(nil)
	}
	interval := opts.EvictionInterval
	if interval <= 0 {
		interval = DefaultEvictionInterval
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = systemClock{}
	}
	return &InMemoryJobQueueStrategy{
		backoff:  backoff,
		interval: interval,
		clock:    clock,
		jobs:     make(map[string]*model.Job),
		queues:   make(map[string][]string),
		added:    make(map[string]chan struct{}),
		logger:   slog.Default(),
	}
}

// Init starts the eviction loop. It fails with ErrInMemoryOnWorker in worker processes.
func (s *InMemoryJobQueueStrategy) Init(ctx context.Context, deps core.StrategyDeps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "memory_job_queue")
	if deps.Role == core.RoleWorker {
		logger.ErrorContext(ctx, "in-memory job queue strategy configured on a worker process")
		return ErrInMemoryOnWorker
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.evictLoop(s.stop, s.done)
	return nil
}

// Destroy stops the eviction loop. Stored jobs are kept.
func (s *InMemoryJobQueueStrategy) Destroy(_ context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (s *InMemoryJobQueueStrategy) evictLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.evict()
		}
	}
}

func (s *InMemoryJobQueueStrategy) evict() {
	ctx := context.Background()
	n, err := s.RemoveSettledJobs(ctx, nil, s.clock.Now().Add(-s.interval))
	if err != nil {
		s.logger.WarnContext(ctx, "settled job eviction failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.DebugContext(ctx, "evicted settled jobs", "count", n)
	}
}

// Add stores a copy of job and appends it to its queue.
func (s *InMemoryJobQueueStrategy) Add(_ context.Context, job *model.Job, _ core.AddOptions) (*model.Job, error) {
	if err := job.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}
	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.State == "" {
		stored.State = model.JobStatePending
	}
	if len(stored.Data) == 0 {
		stored.Data = []byte(`{}`)
	}
	now := s.clock.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[stored.ID]; exists {
		return nil, apperrors.Conflictf("job %s already exists", stored.ID)
	}
	s.jobs[stored.ID] = stored
	if !stored.IsSettled() {
		s.queues[stored.QueueName] = append(s.queues[stored.QueueName], stored.ID)
		if ch, ok := s.added[stored.QueueName]; ok {
			close(ch)
			delete(s.added, stored.QueueName)
		}
	}
	return stored.Clone(), nil
}

// WaitForNotification blocks until a job is added to queueName or ctx ends.
func (s *InMemoryJobQueueStrategy) WaitForNotification(ctx context.Context, queueName string) error {
	s.mu.Lock()
	ch, ok := s.added[queueName]
	if !ok {
		ch = make(chan struct{})
		s.added[queueName] = ch
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Next claims the first unsettled job of the queue not listed in excluding. A retrying job still
// inside its backoff window is moved to the back of the queue and nothing is returned for this call.
func (s *InMemoryJobQueueStrategy) Next(_ context.Context, queueName string, excluding []string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.queues[queueName]
	for i, id := range ids {
		if slices.Contains(excluding, id) {
			continue
		}
		job := s.jobs[id]
		if job == nil || (job.State != model.JobStatePending && job.State != model.JobStateRetrying) {
			continue
		}
		now := s.clock.Now()
		if !s.backoff.Eligible(job, now) {
			rest := slices.Delete(slices.Clone(ids), i, i+1)
			s.queues[queueName] = append(rest, id)
			return nil, model.ErrNoJobsAvailable
		}
		job.Start(now)
		job.UpdatedAt = now
		return job.Clone(), nil
	}
	return nil, model.ErrNoJobsAvailable
}

// Update stores job unless the stored copy is already settled. Pending and retrying jobs
// go to the front of their queue; settled jobs leave it.
func (s *InMemoryJobQueueStrategy) Update(_ context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return nil
	}
	if current.IsSettled() {
		return nil
	}

	job.UpdatedAt = s.clock.Now()
	stored := job.Clone()
	s.jobs[job.ID] = stored

	queue := slices.DeleteFunc(slices.Clone(s.queues[stored.QueueName]), func(id string) bool { return id == stored.ID })
	switch stored.State {
	case model.JobStatePending, model.JobStateRetrying:
		queue = append([]string{stored.ID}, queue...)
	case model.JobStateRunning:
		// Running jobs keep their slot so a later retry can be found again.
		queue = s.queues[stored.QueueName]
	}
	s.setQueue(stored.QueueName, queue)
	return nil
}

func (s *InMemoryJobQueueStrategy) setQueue(name string, ids []string) {
	if len(ids) == 0 {
		delete(s.queues, name)
		return
	}
	s.queues[name] = ids
}

// FindOne returns a copy of the job or model.ErrJobNotFound.
func (s *InMemoryJobQueueStrategy) FindOne(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job.Clone(), nil
}

// FindMany filters, sorts by creation time and paginates the stored jobs.
func (s *InMemoryJobQueueStrategy) FindMany(_ context.Context, opts model.JobListOptions) (*model.JobList, error) {
	opts.Normalize()

	s.mu.Lock()
	matched := make([]*model.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if matchesListOptions(job, opts) {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.SortDesc {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if opts.SortDesc {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	total := len(matched)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)
	return &model.JobList{Items: matched[start:end], TotalItems: total}, nil
}

func matchesListOptions(job *model.Job, opts model.JobListOptions) bool {
	if len(opts.QueueNames) > 0 && !slices.Contains(opts.QueueNames, job.QueueName) {
		return false
	}
	if len(opts.States) > 0 && !slices.Contains(opts.States, job.State) {
		return false
	}
	if opts.Settled != nil && job.IsSettled() != *opts.Settled {
		return false
	}
	return true
}

// FindManyByID returns copies of the jobs that exist.
func (s *InMemoryJobQueueStrategy) FindManyByID(_ context.Context, ids []string) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

// RemoveSettledJobs drops settled jobs of the given queues settled before olderThan (now when zero).
func (s *InMemoryJobQueueStrategy) RemoveSettledJobs(_ context.Context, queueNames []string, olderThan time.Time) (int64, error) {
	if olderThan.IsZero() {
		olderThan = s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, job := range s.jobs {
		if !job.IsSettled() || job.SettledAt == nil || !job.SettledAt.Before(olderThan) {
			continue
		}
		if len(queueNames) > 0 && !slices.Contains(queueNames, job.QueueName) {
			continue
		}
		delete(s.jobs, id)
		removed++
	}
	return removed, nil
}
