package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

const redisBufferKeySegment = "jobqueue:buffer:"

// RedisBufferStorage keeps each buffer as a Redis list of JSON-encoded jobs so several
// processes can feed the same buffers.
type RedisBufferStorage struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

var _ core.JobBufferStorageStrategy = (*RedisBufferStorage)(nil)

// NewRedisBufferStorage creates a storage whose keys are namespaced by prefix.
// A nil logger falls back to slog.Default.
func NewRedisBufferStorage(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisBufferStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBufferStorage{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_buffer_storage"),
	}
}

func (r *RedisBufferStorage) key(bufferID string) string {
	return r.prefix + redisBufferKeySegment + bufferID
}

// Add appends job to the list of every listed buffer in one pipeline.
func (r *RedisBufferStorage) Add(ctx context.Context, bufferIDs []string, job *model.Job) error {
	if len(bufferIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode buffered job: %w", err)
	}
	pipe := r.client.Pipeline()
	for _, id := range bufferIDs {
		if id == "" {
			return errors.New("buffer id cannot be empty")
		}
		pipe.RPush(ctx, r.key(id), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// BufferSize returns LLEN per buffer. Buffers with no stored jobs report zero.
func (r *RedisBufferStorage) BufferSize(ctx context.Context, bufferIDs []string) (map[string]int, error) {
	ids, err := r.resolve(ctx, bufferIDs)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return sizes, nil
	}
	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.LLen(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis llen: %w", err)
	}
	for id, cmd := range cmds {
		sizes[id] = int(cmd.Val())
	}
	return sizes, nil
}

// Flush reads and deletes each buffer atomically (LRANGE + DEL in MULTI/EXEC).
// Entries that no longer decode are logged and dropped; they never block the rest of the buffer.
func (r *RedisBufferStorage) Flush(ctx context.Context, bufferIDs []string) (map[string][]*model.Job, error) {
	ids, err := r.resolve(ctx, bufferIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*model.Job, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := r.client.TxPipeline()
	cmds := make(map[string]*redis.StringSliceCmd, len(ids))
	for _, id := range ids {
		key := r.key(id)
		cmds[id] = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis flush: %w", err)
	}

	for id, cmd := range cmds {
		out[id] = r.decodeBuffer(ctx, id, cmd.Val())
	}
	return out, nil
}

// decodeBuffer turns the raw list entries of one buffer into jobs, skipping the ones that fail to decode.
func (r *RedisBufferStorage) decodeBuffer(ctx context.Context, bufferID string, raw []string) []*model.Job {
	jobs := make([]*model.Job, 0, len(raw))
	for i, item := range raw {
		var job model.Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			r.logger.WarnContext(ctx, "dropping undecodable buffered job",
				"buffer_id", bufferID,
				"position", i,
				"bytes", len(item),
				"error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs
}

// resolve returns bufferIDs, or every buffer currently holding jobs when bufferIDs is empty.
func (r *RedisBufferStorage) resolve(ctx context.Context, bufferIDs []string) ([]string, error) {
	if len(bufferIDs) > 0 {
		return bufferIDs, nil
	}
	base := r.prefix + redisBufferKeySegment
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, base+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, base))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// Health checks the health of the Redis connection.
func (r *RedisBufferStorage) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
