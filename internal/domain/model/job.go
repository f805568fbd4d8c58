// Package model defines the core data types used throughout the job queue.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobState represents the lifecycle state of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobState string

const (
	// JobStatePending indicates a job is waiting to be claimed.
	JobStatePending JobState = "pending"
	// JobStateRunning indicates a job has been claimed and is being processed.
	JobStateRunning JobState = "running"
	// JobStateCompleted indicates a job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateRetrying indicates a job failed and will be attempted again once its backoff elapses.
	JobStateRetrying JobState = "retrying"
	// JobStateFailed indicates a job failed and has no retries left.
	JobStateFailed JobState = "failed"
	// JobStateCancelled indicates a job was cancelled administratively.
	JobStateCancelled JobState = "cancelled"
)

var (
	// ErrNoJobsAvailable is returned when no jobs are eligible to be claimed.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrJobNotFound is returned when a job lookup has no match.
	ErrJobNotFound = errors.New("job not found")
)

// AllJobStates returns every known state in lifecycle order.
func AllJobStates() []JobState {
	return []JobState{
		JobStatePending,
		JobStateRunning,
		JobStateCompleted,
		JobStateRetrying,
		JobStateFailed,
		JobStateCancelled,
	}
}

// Valid returns true if the JobState is known.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateRunning, JobStateCompleted, JobStateRetrying, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Settled reports whether the state is terminal.
func (s JobState) Settled() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// UnmarshalText implements encoding.TextUnmarshaler so states can be parsed from flags and env.
func (s *JobState) UnmarshalText(text []byte) error {
	v := JobState(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobState: %q", v)
	}
	*s = v
	return nil
}

// Job is a persisted unit of asynchronous work.
type Job struct {
	ID        string          `json:"id"                   db:"id"`
	QueueName string          `json:"queue_name"           db:"queue_name"`
	Data      json.RawMessage `json:"data"                 db:"data"`
	State     JobState        `json:"state"                db:"state"`
	Progress  int             `json:"progress"             db:"progress"`
	Result    json.RawMessage `json:"result,omitempty"     db:"result"`
	Error     *string         `json:"error,omitempty"      db:"error"`
	Retries   int             `json:"retries"              db:"retries"`
	Attempts  int             `json:"attempts"             db:"attempts"`
	StartedAt *time.Time      `json:"started_at,omitempty" db:"started_at"`
	SettledAt *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	CreatedAt time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"           db:"updated_at"`

	onProgress func(percent int)
}

// NewJob constructs a pending job for the given queue.
func NewJob(queueName string, data json.RawMessage, retries int) *Job {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return &Job{
		QueueName: queueName,
		Data:      data,
		State:     JobStatePending,
		Retries:   retries,
	}
}

// Validate checks the fields a caller controls before the job is persisted.
func (j *Job) Validate() error {
	if j == nil {
		return errors.New("job is required")
	}
	if strings.TrimSpace(j.QueueName) == "" {
		return errors.New("queue name is required")
	}
	if j.Retries < 0 {
		return errors.New("retries must be >= 0")
	}
	if len(j.Data) > 0 && !json.Valid(j.Data) {
		return errors.New("data must be valid JSON")
	}
	if j.State != "" && !j.State.Valid() {
		return fmt.Errorf("invalid state %q", j.State)
	}
	return nil
}

// IsSettled reports whether the job has reached a terminal state.
func (j *Job) IsSettled() bool {
	return j.State.Settled()
}

// Start moves a pending or retrying job to running. It reports whether the transition happened.
func (j *Job) Start(at time.Time) bool {
	if j.State != JobStatePending && j.State != JobStateRetrying {
		return false
	}
	if j.StartedAt == nil {
		t := at
		j.StartedAt = &t
	}
	j.State = JobStateRunning
	j.Attempts++
	return true
}

// Complete settles a running job successfully with the given result.
// Jobs that are no longer running are left untouched.
func (j *Job) Complete(result any, at time.Time) error {
	if j.State != JobStateRunning {
		return nil
	}
	if result != nil {
		raw, err := marshalResult(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		j.Result = raw
	}
	j.Progress = 100
	j.State = JobStateCompleted
	j.settle(at)
	return nil
}

// Fail records a failed attempt. The job goes back to retrying while attempts <= retries,
// otherwise it settles as failed.
func (j *Job) Fail(cause error, at time.Time) {
	if j.State != JobStateRunning {
		return
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	j.Error = &msg
	j.Progress = 0
	if j.Attempts <= j.Retries {
		j.State = JobStateRetrying
		return
	}
	j.State = JobStateFailed
	j.settle(at)
}

// Cancel settles any unsettled job as cancelled. It reports whether the transition happened.
func (j *Job) Cancel(at time.Time) bool {
	if j.IsSettled() {
		return false
	}
	j.State = JobStateCancelled
	j.settle(at)
	return true
}

// SetProgress records progress in percent, clamped to [0, 100].
func (j *Job) SetProgress(percent int) {
	j.Progress = min(max(percent, 0), 100)
	if j.onProgress != nil {
		j.onProgress(j.Progress)
	}
}

// OnProgress installs a listener invoked on every SetProgress call.
func (j *Job) OnProgress(fn func(percent int)) {
	j.onProgress = fn
}

// Duration returns how long the job has been (or was) running.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.SettledAt != nil {
		end = *j.SettledAt
	}
	return end.Sub(*j.StartedAt)
}

// ErrorMessage returns the recorded error or an empty string.
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// Clone returns a deep copy of the job without its progress listener.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.onProgress = nil
	cp.Data = cloneRaw(j.Data)
	cp.Result = cloneRaw(j.Result)
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.SettledAt = cloneTime(j.SettledAt)
	return &cp
}

func (j *Job) settle(at time.Time) {
	if j.SettledAt != nil {
		return
	}
	t := at
	j.SettledAt = &t
}

func marshalResult(result any) (json.RawMessage, error) {
	switch v := result.(type) {
	case json.RawMessage:
		return cloneRaw(v), nil
	case []byte:
		if json.Valid(v) {
			return cloneRaw(v), nil
		}
	}
	return json.Marshal(result)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobListOptions filters and paginates job listings.
type JobListOptions struct {
	QueueNames []string
	States     []JobState
	Settled    *bool
	Limit      int
	Offset     int
	// SortDesc orders by creation time, newest first.
	SortDesc bool
}

// JobList is a page of jobs plus the total number matching the filters.
type JobList struct {
	Items      []*Job `json:"items"`
	TotalItems int    `json:"total_items"`
}

// Normalize applies default pagination bounds.
func (o *JobListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
