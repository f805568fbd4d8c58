package service

import (
	"encoding/json"
	"errors"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/mmk-jobqueue/config"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
	"github.com/target/mmk-jobqueue/internal/reqctx"
)

// ExpressionBuffer is a JobBuffer configured with JMESPath expressions evaluated against job data.
//
// It collects jobs of one queue whose collect expression is truthy (every job of the queue when
// the expression is empty). On reduce it keeps the most recently buffered job per group_by value;
// without a group_by expression only the most recent job survives.
type ExpressionBuffer struct {
	id      string
	queue   string
	collect string
	groupBy string
}

var _ core.JobBuffer = (*ExpressionBuffer)(nil)

// NewExpressionBuffer builds a buffer from def, rejecting expressions that do not compile.
func NewExpressionBuffer(def config.BufferDefinition) (*ExpressionBuffer, error) {
	if def.ID == "" {
		return nil, errors.New("buffer id is required")
	}
	if def.Queue == "" {
		return nil, fmt.Errorf("buffer %s: queue is required", def.ID)
	}
	if def.Collect != "" {
		if _, err := jmespath.Compile(def.Collect); err != nil {
			return nil, fmt.Errorf("buffer %s: invalid collect expression: %w", def.ID, err)
		}
	}
	if def.GroupBy != "" {
		if _, err := jmespath.Compile(def.GroupBy); err != nil {
			return nil, fmt.Errorf("buffer %s: invalid group_by expression: %w", def.ID, err)
		}
	}
	return &ExpressionBuffer{id: def.ID, queue: def.Queue, collect: def.Collect, groupBy: def.GroupBy}, nil
}

// NewExpressionBuffers builds every definition, failing on the first invalid one.
func NewExpressionBuffers(defs config.BufferDefinitions) ([]*ExpressionBuffer, error) {
	out := make([]*ExpressionBuffer, 0, len(defs))
	for _, def := range defs {
		b, err := NewExpressionBuffer(def)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ID implements core.JobBuffer.
func (b *ExpressionBuffer) ID() string { return b.id }

// Queue returns the queue whose jobs the buffer collects.
func (b *ExpressionBuffer) Queue() string { return b.queue }

// Collect implements core.JobBuffer. Jobs whose data cannot be decoded are not collected.
func (b *ExpressionBuffer) Collect(job *model.Job) bool {
	if job == nil || job.QueueName != b.queue {
		return false
	}
	if b.collect == "" {
		return true
	}
	data, err := jobDocument(job)
	if err != nil {
		return false
	}
	v, err := jmespath.Search(b.collect, data)
	if err != nil {
		return false
	}
	return truthy(v)
}

// Reduce implements core.JobBuffer. Groups keep the position of their first job.
func (b *ExpressionBuffer) Reduce(jobs []*model.Job) ([]*model.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if b.groupBy == "" {
		return []*model.Job{jobs[len(jobs)-1]}, nil
	}

	var order []string
	latest := make(map[string]*model.Job, len(jobs))
	for _, job := range jobs {
		data, err := jobDocument(job)
		if err != nil {
			return nil, fmt.Errorf("decode job data: %w", err)
		}
		v, err := jmespath.Search(b.groupBy, data)
		if err != nil {
			return nil, fmt.Errorf("evaluate group_by: %w", err)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("group key: %w", err)
		}
		key := string(raw)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = job
	}

	out := make([]*model.Job, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out, nil
}

// jobDocument decodes job data for expression evaluation, without an embedded request context.
func jobDocument(job *model.Job) (any, error) {
	if len(job.Data) == 0 {
		return map[string]any{}, nil
	}
	var doc any
	if err := json.Unmarshal(job.Data, &doc); err != nil {
		return nil, err
	}
	if obj, ok := doc.(map[string]any); ok {
		delete(obj, reqctx.PayloadKey)
	}
	return doc, nil
}

// truthy follows JMESPath truthiness: false, null, "", [] and {} are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
