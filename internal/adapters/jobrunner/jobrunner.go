// Package jobrunner polls job queue strategies and executes claimed jobs with registered handlers.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/observability/metrics"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/reqctx"
	"github.com/target/mmk-jobqueue/internal/service/failurenotifier"
	"golang.org/x/sync/semaphore"
)

// HandlerFunc processes a job. A panic is recovered and counts as a failed attempt.
type HandlerFunc = core.JobHandler

const (
	// DefaultConcurrency is the number of jobs one queue runs at the same time.
	DefaultConcurrency = 1
	// DefaultPollInterval is how often an idle queue asks storage for work.
	DefaultPollInterval = 200 * time.Millisecond
	// DefaultCancellationCheckInterval is how often running jobs are re-read to detect cancellation.
	DefaultCancellationCheckInterval = 5 * time.Second
	// DefaultGracefulShutdownTimeout bounds how long Stop waits for running jobs.
	DefaultGracefulShutdownTimeout = 20 * time.Second
)

var (
	// ErrRunnerStopped is returned when a queue is started after Stop.
	ErrRunnerStopped = errors.New("job runner is stopped")
	// ErrQueueAlreadyRunning is returned when the same queue is started twice.
	ErrQueueAlreadyRunning = errors.New("queue is already running")
	// ErrHandlerPanic wraps a value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("job handler panicked")
)

// QueueSettings resolves per-queue tuning. Nil functions and non-positive results fall back to defaults.
type QueueSettings struct {
	Concurrency  func(queueName string) int
	PollInterval func(queueName string) time.Duration
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Strategy core.JobQueueStrategy // Required
	Logger   *slog.Logger
	Metrics  statsd.Sink

	Queues                    QueueSettings
	CancellationCheckInterval time.Duration // Optional; defaults to 5s
	GracefulShutdownTimeout   time.Duration // Optional; defaults to 20s

	// FailureNotifier receives jobs that settle as failed.
	FailureNotifier *failurenotifier.Service
	// Wakeups, when set, triggers a claim round as soon as a job is added instead of at the next poll.
	Wakeups jobdomain.Notifier
	// Clock stamps settlement times. Defaults to time.Now.
	Clock func() time.Time
}

var _ core.JobDispatcher = (*Runner)(nil)

// Runner claims jobs from a strategy and executes them with the handler registered for their queue.
// Each started queue gets its own poll loop and concurrency budget.
type Runner struct {
	strategy core.JobQueueStrategy
	inspect  core.InspectableJobQueueStrategy
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier *failurenotifier.Service
	wakeups  jobdomain.Notifier
	settings QueueSettings
	clock    func() time.Time

	cancelCheck     time.Duration
	shutdownTimeout time.Duration

	mu      sync.Mutex
	queues  map[string]*queueWorker
	stopped bool
	running sync.WaitGroup
}

type queueWorker struct {
	name        string
	handler     HandlerFunc
	concurrency int
	interval    time.Duration
	sem         *semaphore.Weighted
	stop        context.CancelFunc
	done        chan struct{}

	mu       sync.Mutex
	inFlight map[string]*runningJob
}

type runningJob struct {
	job       *model.Job
	ctx       context.Context
	cancel    context.CancelFunc
	claimedAt time.Time
	cancelled atomic.Bool
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// NewRunner constructs a runner. No queue is polled until Start is called for it.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Strategy == nil {
		return nil, errors.New("job queue strategy is required")
	}
	cancelCheck := opts.CancellationCheckInterval
	if cancelCheck <= 0 {
		cancelCheck = DefaultCancellationCheckInterval
	}
	shutdown := opts.GracefulShutdownTimeout
	if shutdown <= 0 {
		shutdown = DefaultGracefulShutdownTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	r := &Runner{
		strategy:        opts.Strategy,
		logger:          resolveLogger(opts.Logger).With("component", "job_runner"),
		metrics:         opts.Metrics,
		notifier:        opts.FailureNotifier,
		wakeups:         opts.Wakeups,
		settings:        opts.Queues,
		clock:           clock,
		cancelCheck:     cancelCheck,
		shutdownTimeout: shutdown,
		queues:          make(map[string]*queueWorker),
	}
	if inspect, ok := core.AsInspectable(opts.Strategy); ok {
		r.inspect = inspect
	} else {
		r.logger.Warn("job queue strategy is not inspectable; running jobs cannot be cancelled")
	}
	return r, nil
}

// Start begins polling queueName and running its jobs with handler.
func (r *Runner) Start(ctx context.Context, queueName string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler for queue %q is required", queueName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRunnerStopped
	}
	if _, ok := r.queues[queueName]; ok {
		return fmt.Errorf("%w: %s", ErrQueueAlreadyRunning, queueName)
	}

	concurrency := r.concurrencyFor(queueName)
	pollCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	q := &queueWorker{
		name:        queueName,
		handler:     handler,
		concurrency: concurrency,
		interval:    r.pollIntervalFor(queueName),
		sem:         semaphore.NewWeighted(int64(concurrency)),
		stop:        stop,
		done:        make(chan struct{}),
		inFlight:    make(map[string]*runningJob),
	}
	r.queues[queueName] = q

	r.logger.InfoContext(ctx, "starting queue", "queue", queueName, "concurrency", q.concurrency, "poll_interval", q.interval)
	go r.pollLoop(pollCtx, q)
	return nil
}

func (r *Runner) concurrencyFor(queueName string) int {
	if r.settings.Concurrency != nil {
		if n := r.settings.Concurrency(queueName); n > 0 {
			return n
		}
	}
	return DefaultConcurrency
}

func (r *Runner) pollIntervalFor(queueName string) time.Duration {
	if r.settings.PollInterval != nil {
		if d := r.settings.PollInterval(queueName); d > 0 {
			return d
		}
	}
	return DefaultPollInterval
}

func (r *Runner) pollLoop(ctx context.Context, q *queueWorker) {
	defer close(q.done)
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if r.wakeups != nil {
		unsub, ch := r.wakeups.Subscribe(q.name)
		defer unsub()
		wake = ch
	}

	for {
		r.fill(ctx, q)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

// fill claims jobs until the queue's concurrency budget is spent or storage has nothing eligible.
func (r *Runner) fill(ctx context.Context, q *queueWorker) {
	for ctx.Err() == nil && q.sem.TryAcquire(1) {
		job, err := r.strategy.Next(ctx, q.name, q.inFlightIDs())
		if err != nil {
			q.sem.Release(1)
			if !errors.Is(err, model.ErrNoJobsAvailable) && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "claim job error", "queue", q.name, "error", err)
			}
			return
		}

		run := r.track(ctx, q, job)
		r.emit(job.QueueName, metrics.TransitionClaimed, metrics.ResultSuccess, 0, nil)
		r.logger.DebugContext(ctx, "claimed job", "queue", q.name, "job_id", job.ID, "attempt", job.Attempts)

		r.running.Add(1)
		go r.execute(q, run)
	}
}

func (r *Runner) track(ctx context.Context, q *queueWorker, job *model.Job) *runningJob {
	jobCtx := context.WithoutCancel(ctx)
	if rc, ok, err := reqctx.Extract(job.Data); err != nil {
		r.logger.WarnContext(ctx, "ignoring malformed request context", "job_id", job.ID, "error", err)
	} else if ok {
		jobCtx = reqctx.WithRequestContext(jobCtx, rc)
	}
	jobCtx, cancel := context.WithCancel(jobCtx)

	run := &runningJob{job: job, ctx: jobCtx, cancel: cancel, claimedAt: r.clock()}
	q.mu.Lock()
	q.inFlight[job.ID] = run
	q.mu.Unlock()
	return run
}

func (q *queueWorker) untrack(id string) {
	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
}

func (q *queueWorker) inFlightIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Collect(maps.Keys(q.inFlight))
}

func (q *queueWorker) lookup(id string) *runningJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[id]
}

func (r *Runner) execute(q *queueWorker, run *runningJob) {
	defer r.running.Done()
	defer q.sem.Release(1)
	defer q.untrack(run.job.ID)
	defer run.cancel()

	job := run.job
	persistCtx := context.WithoutCancel(run.ctx)
	job.OnProgress(func(percent int) {
		if err := r.strategy.Update(persistCtx, job); err != nil {
			r.logger.WarnContext(persistCtx, "save job progress error", "job_id", job.ID, "progress", percent, "error", err)
		}
	})

	stopWatch := r.watchCancellation(run)
	result, err := invoke(run.ctx, q.handler, job)
	stopWatch()
	job.OnProgress(nil)

	if run.cancelled.Load() {
		r.logger.InfoContext(persistCtx, "job cancelled while running", "queue", q.name, "job_id", job.ID)
		return
	}
	r.settle(persistCtx, run, result, err)
}

func invoke(ctx context.Context, h HandlerFunc, job *model.Job) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h(ctx, job)
}

func (r *Runner) settle(ctx context.Context, run *runningJob, result any, runErr error) {
	job := run.job
	now := r.clock()
	if runErr == nil {
		if err := job.Complete(result, now); err != nil {
			runErr = err
		}
	}
	if runErr != nil {
		job.Fail(runErr, now)
	}

	elapsed := now.Sub(run.claimedAt)
	if err := r.strategy.Update(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "save job result error", "job_id", job.ID, "state", job.State, "error", err, "original_error", runErr)
		r.emit(job.QueueName, metrics.TransitionFor(job.State), metrics.ResultError, elapsed, err)
		return
	}

	switch job.State {
	case model.JobStateCompleted:
		r.emit(job.QueueName, metrics.TransitionCompleted, metrics.ResultSuccess, elapsed, nil)
	case model.JobStateRetrying:
		r.logger.WarnContext(ctx, "job attempt failed; will retry",
			"queue", job.QueueName,
			"job_id", job.ID,
			"attempt", job.Attempts,
			"retries", job.Retries,
			"error", runErr,
		)
		r.emit(job.QueueName, metrics.TransitionRetrying, metrics.ResultError, elapsed, runErr)
	case model.JobStateFailed:
		r.logger.ErrorContext(ctx, "job failed",
			"queue", job.QueueName,
			"job_id", job.ID,
			"attempts", job.Attempts,
			"error", runErr,
		)
		r.emit(job.QueueName, metrics.TransitionFailed, metrics.ResultError, elapsed, runErr)
		if r.notifier.Enabled() {
			r.notifier.NotifyJobFailure(ctx, failurenotifier.PayloadFromJob(job, runErr, now))
		}
	}
}

// watchCancellation re-reads the job until the returned stop function is called and cancels the
// handler context once storage reports the job cancelled.
func (r *Runner) watchCancellation(run *runningJob) (stop func()) {
	if r.inspect == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.cancelCheck)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-run.ctx.Done():
				return
			case <-ticker.C:
			}
			stored, err := r.inspect.FindOne(run.ctx, run.job.ID)
			if err != nil {
				if run.ctx.Err() == nil {
					r.logger.DebugContext(run.ctx, "cancellation check error", "job_id", run.job.ID, "error", err)
				}
				continue
			}
			if stored.State == model.JobStateCancelled {
				run.cancelled.Store(true)
				run.cancel()
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// CancelJob settles the job as cancelled in storage. A job running in this process has its
// handler context cancelled right away; other processes notice on their next cancellation check.
// Cancelling a settled job returns it unchanged.
func (r *Runner) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	if r.inspect == nil {
		return nil, core.ErrNotInspectable
	}
	job, err := r.inspect.FindOne(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	if !job.Cancel(r.clock()) {
		return job, nil
	}
	if err := r.strategy.Update(ctx, job); err != nil {
		r.emit(job.QueueName, metrics.TransitionCancelled, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}

	if run := r.lookupRunning(job.QueueName, id); run != nil {
		run.cancelled.Store(true)
		run.cancel()
	}
	r.emit(job.QueueName, metrics.TransitionCancelled, metrics.ResultSuccess, 0, nil)
	r.logger.InfoContext(ctx, "job cancelled", "queue", job.QueueName, "job_id", id)
	return job, nil
}

func (r *Runner) lookupRunning(queueName, id string) *runningJob {
	r.mu.Lock()
	q := r.queues[queueName]
	r.mu.Unlock()
	if q == nil {
		return nil
	}
	return q.lookup(id)
}

// InFlight returns the IDs of jobs of queueName currently executing in this process.
func (r *Runner) InFlight(queueName string) []string {
	r.mu.Lock()
	q := r.queues[queueName]
	r.mu.Unlock()
	if q == nil {
		return nil
	}
	ids := q.inFlightIDs()
	slices.Sort(ids)
	return ids
}

// Running reports whether queueName is being polled.
func (r *Runner) Running(queueName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[queueName]
	return ok && !r.stopped
}

// Stop ends polling for every queue and waits for running jobs to finish, up to the graceful
// shutdown timeout. Jobs are never aborted; the ones still running at the deadline are logged.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	queues := slices.Collect(maps.Values(r.queues))
	r.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}
	for _, q := range queues {
		<-q.done
	}

	finished := make(chan struct{})
	go func() {
		r.running.Wait()
		close(finished)
	}()

	timer := time.NewTimer(r.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-finished:
		r.logger.InfoContext(ctx, "job runner stopped")
		return nil
	case <-timer.C:
		r.logStillRunning(ctx, queues)
		return nil
	case <-ctx.Done():
		r.logStillRunning(ctx, queues)
		return ctx.Err()
	}
}

func (r *Runner) logStillRunning(ctx context.Context, queues []*queueWorker) {
	for _, q := range queues {
		for _, id := range q.inFlightIDs() {
			r.logger.WarnContext(ctx, "job still running at shutdown", "queue", q.name, "job_id", id)
		}
	}
}

func (r *Runner) emit(queue, transition, result string, d time.Duration, err error) {
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Queue:      queue,
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}
