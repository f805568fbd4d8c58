package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
)

// StrategyKind selects where jobs are stored.
type StrategyKind string

const (
	// StrategyMemory keeps jobs in process memory (single instance only).
	StrategyMemory StrategyKind = "memory"
	// StrategySQL stores jobs in the shared job_record table.
	StrategySQL StrategyKind = "sql"
)

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (k *StrategyKind) UnmarshalText(text []byte) error {
	v := StrategyKind(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case StrategyMemory, StrategySQL:
		*k = v
		return nil
	default:
		return fmt.Errorf("invalid StrategyKind: %q (valid options: memory, sql)", v)
	}
}

// BufferStorageKind selects where buffered jobs wait until they are flushed.
type BufferStorageKind string

const (
	// BufferStorageMemory keeps buffered jobs in process memory.
	BufferStorageMemory BufferStorageKind = "memory"
	// BufferStorageRedis keeps buffered jobs in Redis lists shared between processes.
	BufferStorageRedis BufferStorageKind = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (k *BufferStorageKind) UnmarshalText(text []byte) error {
	v := BufferStorageKind(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case BufferStorageMemory, BufferStorageRedis:
		*k = v
		return nil
	default:
		return fmt.Errorf("invalid BufferStorageKind: %q (valid options: memory, redis)", v)
	}
}

// BufferDefinition declares an expression-driven job buffer.
type BufferDefinition struct {
	// ID uniquely names the buffer.
	ID string `json:"id"`
	// Queue is the queue whose jobs are offered to the buffer.
	Queue string `json:"queue"`
	// Collect is a JMESPath expression evaluated against job data; truthy results are buffered.
	// Empty collects every job of the queue.
	Collect string `json:"collect,omitempty"`
	// GroupBy is a JMESPath expression; only the newest job per distinct value survives a flush.
	// Empty keeps only the newest job overall.
	GroupBy string `json:"group_by,omitempty"`
}

// BufferDefinitions is parsed from a JSON array.
type BufferDefinitions []BufferDefinition

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *BufferDefinitions) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		*d = nil
		return nil
	}
	var defs []BufferDefinition
	if err := json.Unmarshal([]byte(trimmed), &defs); err != nil {
		return fmt.Errorf("parse buffer definitions: %w", err)
	}
	*d = defs
	return nil
}

// JobQueueConfig configures the storage strategy, the dispatcher and job buffering.
// Variables are read with the JOBQUEUE_ prefix.
type JobQueueConfig struct {
	// Strategy is memory or sql.
	Strategy StrategyKind `env:"STRATEGY" envDefault:"sql"`

	// BufferStorage is memory or redis.
	BufferStorage BufferStorageKind `env:"BUFFER_STORAGE" envDefault:"memory"`

	// ActiveQueues lists the queues this process consumes. Other queues only enqueue.
	ActiveQueues []string `env:"ACTIVE_QUEUES"`

	// Prefix is prepended to SQL table names and Redis keys.
	Prefix string `env:"PREFIX" envDefault:""`

	// PollInterval is how often an idle queue asks the strategy for work.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"200ms"`

	// Concurrency is the number of jobs run at once per queue.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`

	// QueuePollInterval overrides PollInterval per queue, e.g. "email:1s,reports:5s".
	QueuePollInterval map[string]time.Duration `env:"QUEUE_POLL_INTERVAL"`

	// QueueConcurrency overrides Concurrency per queue, e.g. "email:4".
	QueueConcurrency map[string]int `env:"QUEUE_CONCURRENCY"`

	// Retries is the default number of extra attempts for new jobs.
	Retries int `env:"RETRIES" envDefault:"0"`

	// BackoffStrategy is constant, linear or exponential.
	BackoffStrategy jobdomain.BackoffKind `env:"BACKOFF_STRATEGY" envDefault:"constant"`

	// BackoffDelay is the base delay between attempts.
	BackoffDelay time.Duration `env:"BACKOFF_DELAY" envDefault:"1s"`

	// BackoffMax caps linear and exponential delays; zero means uncapped.
	BackoffMax time.Duration `env:"BACKOFF_MAX" envDefault:"0s"`

	// GracefulShutdownTimeout bounds how long shutdown waits for running jobs.
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_TIMEOUT" envDefault:"20s"`

	// CancellationCheckInterval is how often running jobs are checked for cancellation.
	CancellationCheckInterval time.Duration `env:"CANCELLATION_CHECK_INTERVAL" envDefault:"5s"`

	// EvictionInterval is how often (and after how long) the memory strategy drops settled jobs.
	EvictionInterval time.Duration `env:"EVICTION_INTERVAL" envDefault:"2h"`

	// Buffers declares expression buffers as a JSON array.
	Buffers BufferDefinitions `env:"BUFFERS"`

	// BufferFlushInterval is the buffer-flusher service period.
	BufferFlushInterval time.Duration `env:"BUFFER_FLUSH_INTERVAL" envDefault:"10s"`

	// NotifyDisabled turns off job-added wakeups; consumers then rely on polling alone.
	// Wakeups are only available for the memory strategy and the postgres driver.
	NotifyDisabled bool `env:"NOTIFY_DISABLED" envDefault:"false"`

	// NotifyWaitWindow bounds one LISTEN wait before it is re-armed.
	NotifyWaitWindow time.Duration `env:"NOTIFY_WAIT_WINDOW" envDefault:"1m"`
}

// Sanitize applies guardrails to job queue configuration values.
func (c *JobQueueConfig) Sanitize() {
	if c.Strategy == "" {
		c.Strategy = StrategySQL
	}
	if c.BufferStorage == "" {
		c.BufferStorage = BufferStorageMemory
	}
	c.ActiveQueues = trimList(c.ActiveQueues)
	c.Prefix = strings.TrimSpace(c.Prefix)

	if c.PollInterval < 10*time.Millisecond {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	for q, d := range c.QueuePollInterval {
		if d < 10*time.Millisecond {
			c.QueuePollInterval[q] = 10 * time.Millisecond
		}
	}
	for q, n := range c.QueueConcurrency {
		if n < 1 {
			c.QueueConcurrency[q] = 1
		}
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BackoffStrategy == "" {
		c.BackoffStrategy = jobdomain.BackoffConstant
	}
	if c.BackoffDelay <= 0 {
		c.BackoffDelay = jobdomain.DefaultBackoffDelay
	}
	if c.BackoffMax < 0 {
		c.BackoffMax = 0
	}
	if c.GracefulShutdownTimeout <= 0 {
		c.GracefulShutdownTimeout = 20 * time.Second
	}
	if c.CancellationCheckInterval < 100*time.Millisecond {
		c.CancellationCheckInterval = 100 * time.Millisecond
	}
	if c.EvictionInterval < 1*time.Minute {
		c.EvictionInterval = 1 * time.Minute
	}
	if c.BufferFlushInterval < 100*time.Millisecond {
		c.BufferFlushInterval = 100 * time.Millisecond
	}
	if c.NotifyWaitWindow <= 0 {
		c.NotifyWaitWindow = time.Minute
	}
}

// Validate checks values that cannot be repaired by Sanitize.
func (c *JobQueueConfig) Validate() error {
	seen := make(map[string]bool, len(c.Buffers))
	for i, def := range c.Buffers {
		if strings.TrimSpace(def.ID) == "" {
			return fmt.Errorf("buffer %d: id is required", i)
		}
		if strings.TrimSpace(def.Queue) == "" {
			return fmt.Errorf("buffer %q: queue is required", def.ID)
		}
		if seen[def.ID] {
			return fmt.Errorf("buffer %q: duplicate id", def.ID)
		}
		seen[def.ID] = true
	}
	if _, err := jobdomain.NewBackoffFunc(c.BackoffStrategy, c.BackoffDelay, c.BackoffMax); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	if c.Strategy == StrategyMemory && c.BufferStorage == BufferStorageRedis {
		return errors.New("redis buffer storage requires the sql strategy")
	}
	return nil
}

// IsActive reports whether this process consumes the queue.
func (c *JobQueueConfig) IsActive(queue string) bool {
	for _, q := range c.ActiveQueues {
		if q == queue {
			return true
		}
	}
	return false
}

// PollIntervalFor returns the poll interval for queue.
func (c *JobQueueConfig) PollIntervalFor(queue string) time.Duration {
	if d, ok := c.QueuePollInterval[queue]; ok && d > 0 {
		return d
	}
	return c.PollInterval
}

// ConcurrencyFor returns the concurrency for queue.
func (c *JobQueueConfig) ConcurrencyFor(queue string) int {
	if n, ok := c.QueueConcurrency[queue]; ok && n > 0 {
		return n
	}
	return c.Concurrency
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
