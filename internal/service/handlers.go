package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/reqctx"
)

// ErrDuplicateHandler is returned when a queue already has a handler.
var ErrDuplicateHandler = errors.New("handler already registered for queue")

// Built-in queue names.
const (
	EchoQueue  = "echo"
	SleepQueue = "sleep"
)

// HandlerRegistry maps queue names to the handlers a host process can run.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]core.JobHandler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]core.JobHandler)}
}

// Register adds a handler for queue.
func (r *HandlerRegistry) Register(queue string, handler core.JobHandler) error {
	if queue == "" {
		return errors.New("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("queue %s: handler is required", queue)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[queue]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, queue)
	}
	r.handlers[queue] = handler
	return nil
}

// Lookup returns the handler registered for queue.
func (r *HandlerRegistry) Lookup(queue string) (core.JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[queue]
	return h, ok
}

// Queues returns the registered queue names in sorted order.
func (r *HandlerRegistry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateQueues registers every handler as a queue on svc.
func (r *HandlerRegistry) CreateQueues(ctx context.Context, svc *JobQueueService, opts ...QueueOption) ([]*JobQueue, error) {
	if svc == nil {
		return nil, errors.New("job queue service is required")
	}
	names := r.Queues()
	queues := make([]*JobQueue, 0, len(names))
	for _, name := range names {
		handler, _ := r.Lookup(name)
		q, err := svc.CreateQueue(ctx, name, handler, opts...)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// RegisterBuiltinHandlers adds the echo and sleep handlers.
func RegisterBuiltinHandlers(r *HandlerRegistry) error {
	return errors.Join(
		r.Register(EchoQueue, EchoHandler),
		r.Register(SleepQueue, TypedHandler(SleepHandler)),
	)
}

// EchoHandler returns the job data, without any embedded request context, as the result.
func EchoHandler(ctx context.Context, job *model.Job) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := jobDocument(job)
	if err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	if rc, ok := reqctx.FromContext(ctx); ok && rc.APIType != "" {
		return map[string]any{"data": doc, "api_type": rc.APIType}, nil
	}
	return doc, nil
}

// SleepRequest is the payload of the sleep queue.
type SleepRequest struct {
	Duration string `json:"duration"`
	Steps    int    `json:"steps,omitempty"`
}

// SleepHandler waits for the requested duration in steps, reporting progress after each one.
// It returns early with the context error when the job is cancelled.
func SleepHandler(ctx context.Context, req SleepRequest, job *model.Job) (any, error) {
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		return nil, fmt.Errorf("parse duration: %w", err)
	}
	if d < 0 {
		return nil, errors.New("duration must not be negative")
	}
	steps := req.Steps
	if steps < 1 {
		steps = 1
	}

	step := d / time.Duration(steps)
	timer := time.NewTimer(step)
	defer timer.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		job.SetProgress(i * 100 / steps)
		timer.Reset(step)
	}
	return json.RawMessage(fmt.Sprintf(`{"slept":%q}`, d.String())), nil
}
