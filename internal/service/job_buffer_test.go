package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/data"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/mocks"
	"github.com/target/mmk-jobqueue/internal/observability/statsd"
	"github.com/target/mmk-jobqueue/internal/testutil"
	"go.uber.org/mock/gomock"
)

func newStartedMemoryStrategy(t *testing.T) *data.InMemoryJobQueueStrategy {
	t.Helper()
	ctx := context.Background()
	strategy := data.NewInMemoryJobQueueStrategy(data.InMemoryStrategyOptions{})
	require.NoError(t, strategy.Init(ctx, core.StrategyDeps{Logger: testutil.NewTestLogger(t)}))
	t.Cleanup(func() { _ = strategy.Destroy(ctx) })
	return strategy
}

func newBufferService(t *testing.T, strategy core.JobQueueStrategy, rec statsd.Sink) *JobBufferService {
	t.Helper()
	svc, err := NewJobBufferService(JobBufferServiceOptions{
		Storage:  data.NewInMemoryBufferStorage(),
		Strategy: strategy,
		Logger:   testutil.NewTestLogger(t),
		Metrics:  rec,
	})
	require.NoError(t, err)
	return svc
}

func jobWithData(queue, raw string) *model.Job {
	return model.NewJob(queue, json.RawMessage(raw), 0)
}

func TestNewJobBufferService(t *testing.T) {
	_, err := NewJobBufferService(JobBufferServiceOptions{Strategy: data.NewInMemoryJobQueueStrategy(data.InMemoryStrategyOptions{})})
	require.Error(t, err)

	_, err = NewJobBufferService(JobBufferServiceOptions{Storage: data.NewInMemoryBufferStorage()})
	require.Error(t, err)
}

func TestJobBufferService_AddBuffer(t *testing.T) {
	svc := newBufferService(t, newStartedMemoryStrategy(t), nil)
	ctrl := gomock.NewController(t)

	first := mocks.NewMockJobBuffer(ctrl)
	first.EXPECT().ID().Return("digest").AnyTimes()
	dup := mocks.NewMockJobBuffer(ctrl)
	dup.EXPECT().ID().Return("digest").AnyTimes()

	require.NoError(t, svc.AddBuffer(first))
	require.ErrorIs(t, svc.AddBuffer(dup), ErrDuplicateBuffer)
	require.Error(t, svc.AddBuffer(nil))
	assert.Equal(t, []string{"digest"}, svc.BufferIDs())

	assert.True(t, svc.RemoveBuffer("digest"))
	assert.False(t, svc.RemoveBuffer("digest"))
	assert.Empty(t, svc.BufferIDs())
}

func TestJobBufferService_AddRoutesToCollectingBuffers(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	storage := mocks.NewMockJobBufferStorageStrategy(ctrl)
	svc, err := NewJobBufferService(JobBufferServiceOptions{Storage: storage, Strategy: mocks.NewMockJobQueueStrategy(ctrl)})
	require.NoError(t, err)

	yes := mocks.NewMockJobBuffer(ctrl)
	yes.EXPECT().ID().Return("yes").AnyTimes()
	yes.EXPECT().Collect(gomock.Any()).Return(true).AnyTimes()
	no := mocks.NewMockJobBuffer(ctrl)
	no.EXPECT().ID().Return("no").AnyTimes()
	no.EXPECT().Collect(gomock.Any()).Return(false).AnyTimes()
	also := mocks.NewMockJobBuffer(ctrl)
	also.EXPECT().ID().Return("also").AnyTimes()
	also.EXPECT().Collect(gomock.Any()).DoAndReturn(func(*model.Job) bool { panic("bad buffer") }).AnyTimes()

	require.NoError(t, svc.AddBuffer(yes))
	require.NoError(t, svc.AddBuffer(no))
	require.NoError(t, svc.AddBuffer(also))

	job := jobWithData("email", `{}`)
	storage.EXPECT().Add(gomock.Any(), []string{"yes"}, job).Return(nil)
	buffered, err := svc.Add(ctx, job)
	require.NoError(t, err)
	assert.True(t, buffered)

	boom := errors.New("redis down")
	storage.EXPECT().Add(gomock.Any(), []string{"yes"}, gomock.Any()).Return(boom)
	buffered, err = svc.Add(ctx, jobWithData("email", `{}`))
	require.ErrorIs(t, err, boom)
	assert.False(t, buffered)
}

func TestJobBufferService_AddWithoutBuffers(t *testing.T) {
	svc := newBufferService(t, newStartedMemoryStrategy(t), nil)
	buffered, err := svc.Add(context.Background(), jobWithData("email", `{}`))
	require.NoError(t, err)
	assert.False(t, buffered)
}

func TestJobBufferService_FlushReducesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	strategy := newStartedMemoryStrategy(t)
	rec := &statsd.Recorder{}
	svc := newBufferService(t, strategy, rec)

	buf, err := NewExpressionBuffer(config.BufferDefinition{ID: "by-user", Queue: "digest", GroupBy: "user"})
	require.NoError(t, err)
	require.NoError(t, svc.AddBuffer(buf))

	for _, raw := range []string{`{"user":"a","n":1}`, `{"user":"b","n":2}`, `{"user":"a","n":3}`} {
		buffered, err := svc.Add(ctx, jobWithData("digest", raw))
		require.NoError(t, err)
		require.True(t, buffered)
	}

	sizes, err := svc.BufferSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"by-user": 3}, sizes)

	submitted, err := svc.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, submitted, 2)
	assert.JSONEq(t, `{"user":"a","n":3}`, string(submitted[0].Data))
	assert.JSONEq(t, `{"user":"b","n":2}`, string(submitted[1].Data))
	for _, job := range submitted {
		assert.NotEmpty(t, job.ID)
		stored, err := strategy.FindOne(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatePending, stored.State)
	}

	sizes, err = svc.BufferSize(ctx, "by-user")
	require.NoError(t, err)
	assert.Equal(t, 0, sizes["by-user"])
	assert.Equal(t, int64(1), rec.CountTagged("buffer.flush", map[string]string{"result": "success"}))
	assert.Equal(t, int64(2), rec.CountTagged("buffer.enqueued_jobs", nil))
}

func TestJobBufferService_FlushFallsBackOnReduceFailure(t *testing.T) {
	tests := []struct {
		name   string
		reduce func([]*model.Job) ([]*model.Job, error)
	}{
		{
			name:   "reduce error",
			reduce: func([]*model.Job) ([]*model.Job, error) { return nil, errors.New("cannot reduce") },
		},
		{
			name:   "reduce panic",
			reduce: func([]*model.Job) ([]*model.Job, error) { panic("index out of range") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ctrl := gomock.NewController(t)
			strategy := newStartedMemoryStrategy(t)
			rec := &statsd.Recorder{}
			svc := newBufferService(t, strategy, rec)

			buf := mocks.NewMockJobBuffer(ctrl)
			buf.EXPECT().ID().Return("b").AnyTimes()
			buf.EXPECT().Collect(gomock.Any()).Return(true).AnyTimes()
			buf.EXPECT().Reduce(gomock.Len(2)).DoAndReturn(tt.reduce)
			require.NoError(t, svc.AddBuffer(buf))

			_, err := svc.Add(ctx, jobWithData("q", `{"n":1}`))
			require.NoError(t, err)
			_, err = svc.Add(ctx, jobWithData("q", `{"n":2}`))
			require.NoError(t, err)

			submitted, err := svc.Flush(ctx, "b")
			require.NoError(t, err)
			require.Len(t, submitted, 2, "original jobs are submitted unreduced")
			assert.JSONEq(t, `{"n":1}`, string(submitted[0].Data))
			assert.JSONEq(t, `{"n":2}`, string(submitted[1].Data))
			assert.Equal(t, int64(1), rec.CountTagged("buffer.flush", map[string]string{"buffer": "b", "result": "error"}))
		})
	}
}

func TestJobBufferService_FlushUnregisteredBuffer(t *testing.T) {
	ctx := context.Background()
	strategy := newStartedMemoryStrategy(t)
	storage := data.NewInMemoryBufferStorage()
	require.NoError(t, storage.Add(ctx, []string{"gone"}, jobWithData("q", `{"n":1}`)))

	svc, err := NewJobBufferService(JobBufferServiceOptions{Storage: storage, Strategy: strategy})
	require.NoError(t, err)

	submitted, err := svc.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, submitted, 1)
}

func TestJobBufferService_FlushJoinsSubmissionErrors(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	strategy := mocks.NewMockJobQueueStrategy(ctrl)
	storage := data.NewInMemoryBufferStorage()
	require.NoError(t, storage.Add(ctx, []string{"b"}, jobWithData("q", `{"n":1}`)))
	require.NoError(t, storage.Add(ctx, []string{"b"}, jobWithData("q", `{"n":2}`)))

	boom := errors.New("insert failed")
	gomock.InOrder(
		strategy.EXPECT().Add(gomock.Any(), gomock.Any(), core.AddOptions{}).Return(nil, boom),
		strategy.EXPECT().Add(gomock.Any(), gomock.Any(), core.AddOptions{}).DoAndReturn(
			func(_ context.Context, job *model.Job, _ core.AddOptions) (*model.Job, error) {
				stored := job.Clone()
				stored.ID = "job-2"
				return stored, nil
			}),
	)

	svc, err := NewJobBufferService(JobBufferServiceOptions{Storage: storage, Strategy: strategy})
	require.NoError(t, err)

	submitted, err := svc.Flush(ctx, "b")
	require.ErrorIs(t, err, boom)
	require.Len(t, submitted, 1)
	assert.Equal(t, "job-2", submitted[0].ID)
}

func TestJobBufferService_RunFlushLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	storage := mocks.NewMockJobBufferStorageStrategy(ctrl)

	var flushes atomic.Int32
	storage.EXPECT().Flush(gomock.Any(), gomock.Nil()).DoAndReturn(
		func(context.Context, []string) (map[string][]*model.Job, error) {
			flushes.Add(1)
			return map[string][]*model.Job{}, nil
		}).AnyTimes()

	svc, err := NewJobBufferService(JobBufferServiceOptions{
		Storage:  storage,
		Strategy: mocks.NewMockJobQueueStrategy(ctrl),
		Logger:   testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	require.Error(t, svc.RunFlushLoop(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunFlushLoop(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return flushes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
