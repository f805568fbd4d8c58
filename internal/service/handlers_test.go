package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/reqctx"
)

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	require.NoError(t, RegisterBuiltinHandlers(r))
	assert.Equal(t, []string{EchoQueue, SleepQueue}, r.Queues())

	require.ErrorIs(t, r.Register(EchoQueue, EchoHandler), ErrDuplicateHandler)
	require.Error(t, r.Register("", EchoHandler))
	require.Error(t, r.Register("nil", nil))

	_, ok := r.Lookup("missing")
	assert.False(t, ok)
	h, ok := r.Lookup(EchoQueue)
	require.True(t, ok)
	assert.NotNil(t, h)
}

func TestHandlerRegistry_CreateQueues(t *testing.T) {
	strategy := newStartedMemoryStrategy(t)
	svc, err := NewJobQueueService(JobQueueServiceOptions{Strategy: strategy})
	require.NoError(t, err)

	r := NewHandlerRegistry()
	require.NoError(t, RegisterBuiltinHandlers(r))

	queues, err := r.CreateQueues(context.Background(), svc, WithDefaultRetries(2))
	require.NoError(t, err)
	require.Len(t, queues, 2)
	assert.Equal(t, EchoQueue, queues[0].Name())
	assert.Equal(t, 2, queues[0].Retries())

	_, err = r.CreateQueues(context.Background(), svc)
	require.ErrorIs(t, err, ErrDuplicateQueue)

	_, err = r.CreateQueues(context.Background(), nil)
	require.Error(t, err)
}

func TestEchoHandler(t *testing.T) {
	data, err := reqctx.Embed(json.RawMessage(`{"msg":"hi"}`), &reqctx.RequestContext{APIType: "shop"})
	require.NoError(t, err)
	job := jobWithData(EchoQueue, string(data))

	out, err := EchoHandler(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"msg": "hi"}, out)

	ctx := reqctx.WithRequestContext(context.Background(), &reqctx.RequestContext{APIType: "shop"})
	out, err = EchoHandler(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"data": map[string]any{"msg": "hi"}, "api_type": "shop"}, out)

	_, err = EchoHandler(context.Background(), &model.Job{QueueName: EchoQueue, Data: json.RawMessage(`{`)})
	require.Error(t, err)
}

func TestSleepHandler(t *testing.T) {
	t.Run("reports progress per step", func(t *testing.T) {
		job := jobWithData(SleepQueue, `{}`)
		var seen []int
		job.OnProgress(func(p int) { seen = append(seen, p) })

		out, err := SleepHandler(context.Background(), SleepRequest{Duration: "4ms", Steps: 4}, job)
		require.NoError(t, err)
		assert.JSONEq(t, `{"slept":"4ms"}`, string(out.(json.RawMessage)))
		assert.Equal(t, []int{25, 50, 75, 100}, seen)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := SleepHandler(ctx, SleepRequest{Duration: "1h"}, jobWithData(SleepQueue, `{}`))
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := SleepHandler(context.Background(), SleepRequest{Duration: "soon"}, jobWithData(SleepQueue, `{}`))
		require.Error(t, err)
		_, err = SleepHandler(context.Background(), SleepRequest{Duration: "-1s"}, jobWithData(SleepQueue, `{}`))
		require.Error(t, err)
	})

	t.Run("typed through the registry", func(t *testing.T) {
		r := NewHandlerRegistry()
		require.NoError(t, RegisterBuiltinHandlers(r))
		h, _ := r.Lookup(SleepQueue)
		start := time.Now()
		_, err := h(context.Background(), jobWithData(SleepQueue, `{"duration":"1ms"}`))
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}
