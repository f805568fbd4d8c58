// Package testutil provides testing utilities and helpers for the job queue.
package testutil

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/target/mmk-jobqueue/internal/domain/model"
)

// JobBuilder provides a fluent interface for building jobs in tests.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a JobBuilder with sensible defaults: a pending job on queue "test" with no retries.
func NewJob() *JobBuilder {
	return &JobBuilder{
		job: model.NewJob("test", json.RawMessage(`{"hello":"world"}`), 0),
	}
}

// WithQueue sets the queue name.
func (b *JobBuilder) WithQueue(name string) *JobBuilder {
	b.job.QueueName = name
	return b
}

// WithID sets a predefined ID.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithData sets the payload.
func (b *JobBuilder) WithData(data json.RawMessage) *JobBuilder {
	b.job.Data = data
	return b
}

// WithDataString sets the payload from a string.
func (b *JobBuilder) WithDataString(data string) *JobBuilder {
	b.job.Data = json.RawMessage(data)
	return b
}

// WithRetries sets the number of retries.
func (b *JobBuilder) WithRetries(retries int) *JobBuilder {
	b.job.Retries = retries
	return b
}

// WithCreatedAt sets the creation time.
func (b *JobBuilder) WithCreatedAt(at time.Time) *JobBuilder {
	b.job.CreatedAt = at
	return b
}

// Running moves the job through Start at the given instant.
func (b *JobBuilder) Running(at time.Time) *JobBuilder {
	b.job.Start(at)
	return b
}

// Completed runs and completes the job at the given instant.
func (b *JobBuilder) Completed(at time.Time) *JobBuilder {
	b.job.Start(at)
	_ = b.job.Complete(nil, at)
	return b
}

// Failed runs and fails the job until it is terminally failed.
func (b *JobBuilder) Failed(at time.Time) *JobBuilder {
	for !b.job.IsSettled() {
		if !b.job.Start(at) {
			break
		}
		b.job.Fail(errors.New("test failure"), at)
	}
	return b
}

// Build returns the constructed job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}
