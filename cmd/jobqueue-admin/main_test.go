package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/bootstrap"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/service"
	"github.com/target/mmk-jobqueue/internal/testutil"
)

// withMemoryServices runs f against a memory-backed service container.
func withMemoryServices(t *testing.T, defs config.BufferDefinitions, f func(context.Context, bootstrap.ServiceContainer)) {
	t.Helper()
	cfg := config.AppConfig{
		Services: "queue",
		JobQueue: config.JobQueueConfig{
			Strategy:      config.StrategyMemory,
			BufferStorage: config.BufferStorageMemory,
			Buffers:       defs,
		},
	}
	cfg.Sanitize()
	cmdCtx := &commandContext{Ctx: context.Background(), Logger: testutil.NewTestLogger(t), Config: cfg}

	err := runWithServices(context.Background(), cmdCtx, &bootstrap.ServiceDeps{
		Config:           &cmdCtx.Config,
		Logger:           cmdCtx.Logger,
		DisableConsumers: true,
	}, func(ctx context.Context, svcs bootstrap.ServiceContainer) error {
		f(ctx, svcs)
		return nil
	})
	require.NoError(t, err)
}

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))
	for name := range commands() {
		assert.Contains(t, buf.String(), name)
	}
}

func TestParseListJobsFlags(t *testing.T) {
	opts, err := parseListJobsFlags([]string{"--queue", "a, b", "--state", "pending,FAILED", "--settled", "false", "--limit", "5", "--desc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, opts.Queues)
	assert.Equal(t, []model.JobState{model.JobStatePending, model.JobStateFailed}, opts.States)
	require.NotNil(t, opts.Settled)
	assert.False(t, *opts.Settled)
	assert.Equal(t, 5, opts.Limit)
	assert.True(t, opts.Desc)

	_, err = parseListJobsFlags([]string{"--state", "done"})
	require.Error(t, err)
	_, err = parseListJobsFlags([]string{"--settled", "maybe"})
	require.Error(t, err)
	_, err = parseListJobsFlags([]string{"--limit", "0"})
	require.Error(t, err)
}

func TestParseJobIDFlags(t *testing.T) {
	opts, err := parseJobIDFlags("get-job", []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", opts.ID)

	opts, err = parseJobIDFlags("get-job", []string{"--id", " xyz "})
	require.NoError(t, err)
	assert.Equal(t, "xyz", opts.ID)

	_, err = parseJobIDFlags("get-job", nil)
	require.Error(t, err)
}

func TestParseEnqueueFlags(t *testing.T) {
	opts, err := parseEnqueueFlags([]string{"--queue", "echo", "--data", `{"a":1}`, "--retries", "2"})
	require.NoError(t, err)
	assert.Equal(t, "echo", opts.Queue)
	assert.JSONEq(t, `{"a":1}`, string(opts.Data))
	require.NotNil(t, opts.Retries)
	assert.Equal(t, 2, *opts.Retries)

	opts, err = parseEnqueueFlags([]string{"--queue", "echo"})
	require.NoError(t, err)
	assert.Nil(t, opts.Retries)

	_, err = parseEnqueueFlags([]string{"--data", `{}`})
	require.Error(t, err)
	_, err = parseEnqueueFlags([]string{"--queue", "echo", "--data", `{`})
	require.Error(t, err)
}

func TestParsePruneAndMigrateFlags(t *testing.T) {
	opts, err := parsePruneFlags([]string{"--older-than", "1h", "--queue", "a", "--yes"})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, opts.OlderThan)
	assert.Equal(t, []string{"a"}, opts.Queues)
	assert.True(t, opts.Yes)

	_, err = parsePruneFlags([]string{"--older-than", "-1h"})
	require.Error(t, err)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	require.Error(t, err)
}

func TestRunPruneRequiresConfirmation(t *testing.T) {
	cmdCtx := &commandContext{Ctx: context.Background(), Logger: testutil.NewTestLogger(t)}
	require.ErrorContains(t, runPrune(cmdCtx, nil), "--yes")
}

func TestCommandsRefuseMemoryStrategy(t *testing.T) {
	cfg := config.AppConfig{JobQueue: config.JobQueueConfig{Strategy: config.StrategyMemory}}
	cmdCtx := &commandContext{Ctx: context.Background(), Logger: testutil.NewTestLogger(t), Config: cfg}
	require.ErrorIs(t, runListJobs(cmdCtx, nil), errMemoryStrategy)
	require.ErrorIs(t, runMigrations(cmdCtx, nil), errMemoryStrategy)
}

func TestJobCommands(t *testing.T) {
	withMemoryServices(t, nil, func(ctx context.Context, svcs bootstrap.ServiceContainer) {
		var out bytes.Buffer
		require.NoError(t, enqueueJob(ctx, &out, svcs.Queues, enqueueOptions{
			Queue:   "reports",
			Data:    json.RawMessage(`{"month":"may"}`),
			APIType: "batch",
		}))
		assert.Contains(t, out.String(), "enqueued on reports")

		list, err := svcs.Queues.GetJobs(ctx, model.JobListOptions{QueueNames: []string{"reports"}})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		job := list.Items[0]
		assert.Contains(t, string(job.Data), `"batch"`)

		out.Reset()
		require.NoError(t, listJobs(ctx, &out, svcs.Queues, listJobsOptions{Limit: 10}))
		assert.Contains(t, out.String(), job.ID)
		assert.Contains(t, out.String(), "Showing 1 of 1 jobs")

		out.Reset()
		require.NoError(t, listJobs(ctx, &out, svcs.Queues, listJobsOptions{Limit: 10, JSON: true}))
		var page model.JobList
		require.NoError(t, json.Unmarshal(out.Bytes(), &page))
		assert.Equal(t, 1, page.TotalItems)

		out.Reset()
		require.NoError(t, getJob(ctx, &out, svcs.Queues, job.ID))
		assert.Contains(t, out.String(), `"state": "pending"`)

		out.Reset()
		require.NoError(t, cancelJob(ctx, &out, svcs.Queues, job.ID))
		assert.Contains(t, out.String(), "cancelled")

		out.Reset()
		require.NoError(t, cancelJob(ctx, &out, svcs.Queues, job.ID))
		assert.Contains(t, out.String(), "already settled")

		require.ErrorIs(t, getJob(ctx, &out, svcs.Queues, "missing"), model.ErrJobNotFound)

		out.Reset()
		require.NoError(t, pruneJobs(ctx, &out, svcs.Queues, pruneOptions{}, time.Now().Add(time.Minute)))
		assert.Contains(t, out.String(), "removed 1 settled jobs")
	})
}

func TestBufferCommands(t *testing.T) {
	defs := config.BufferDefinitions{{ID: "latest-echo", Queue: service.EchoQueue}}
	withMemoryServices(t, defs, func(ctx context.Context, svcs bootstrap.ServiceContainer) {
		var out bytes.Buffer
		require.NoError(t, bufferSize(ctx, &out, svcs.Queues, bufferOptions{}))
		assert.Contains(t, out.String(), "no buffered jobs")

		for _, raw := range []string{`{"n":1}`, `{"n":2}`} {
			out.Reset()
			require.NoError(t, enqueueJob(ctx, &out, svcs.Queues, enqueueOptions{Queue: service.EchoQueue, Data: json.RawMessage(raw)}))
			assert.Contains(t, out.String(), "buffered")
		}

		out.Reset()
		require.NoError(t, bufferSize(ctx, &out, svcs.Queues, bufferOptions{BufferIDs: []string{"latest-echo"}}))
		assert.Contains(t, out.String(), "latest-echo")
		assert.Contains(t, out.String(), "2")

		out.Reset()
		require.NoError(t, flushBuffers(ctx, &out, svcs.Queues, bufferOptions{}))
		assert.Contains(t, out.String(), "flushed 1 jobs")

		list, err := svcs.Queues.GetJobs(ctx, model.JobListOptions{QueueNames: []string{service.EchoQueue}})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		assert.JSONEq(t, `{"n":2}`, string(list.Items[0].Data))
	})
}

func TestParseBufferFlags(t *testing.T) {
	opts, err := parseBufferFlags("flush-buffers", []string{"--buffer", "a,b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, opts.BufferIDs)
}
