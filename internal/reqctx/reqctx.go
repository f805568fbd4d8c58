// Package reqctx carries the caller's request context across process boundaries.
//
// A job enqueued while handling a request stores a JSON snapshot of the request context in its
// payload; the worker that runs the job rebuilds the context from that snapshot without
// authenticating again.
package reqctx

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKey is the job data key holding the serialized request context.
const PayloadKey = "ctx"

// ErrNonObjectPayload is returned by Embed when the job data is not a JSON object.
var ErrNonObjectPayload = errors.New("request context can only be embedded in a JSON object payload")

// Session identifies who issued the request.
type Session struct {
	ID     string   `json:"id"`
	UserID string   `json:"user_id,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// RequestContext is the part of a request that jobs may depend on.
type RequestContext struct {
	APIType               string   `json:"api_type,omitempty"`
	LanguageCode          string   `json:"language_code,omitempty"`
	ChannelToken          string   `json:"channel_token,omitempty"`
	Session               *Session `json:"session,omitempty"`
	IsAuthorized          bool     `json:"is_authorized"`
	AuthorizedAsOwnerOnly bool     `json:"authorized_as_owner_only"`

	// Tx is the request's open transaction, if any. It never leaves the process.
	Tx *sql.Tx `json:"-"`
}

// Serialize returns the JSON snapshot of rc. The transaction handle is dropped.
func (rc *RequestContext) Serialize() (json.RawMessage, error) {
	if rc == nil {
		return nil, errors.New("request context is nil")
	}
	raw, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("serialize request context: %w", err)
	}
	return raw, nil
}

// Deserialize rebuilds a request context from a snapshot produced by Serialize.
func Deserialize(raw json.RawMessage) (*RequestContext, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty request context snapshot")
	}
	var rc RequestContext
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("deserialize request context: %w", err)
	}
	return &rc, nil
}

type contextKey struct{}

// WithRequestContext returns a copy of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the request context stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

// Embed stores the snapshot of rc under PayloadKey in data. Empty data becomes an object.
func Embed(data json.RawMessage, rc *RequestContext) (json.RawMessage, error) {
	snapshot, err := rc.Serialize()
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return nil, ErrNonObjectPayload
		}
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("decode job data: %w", err)
		}
	}
	fields[PayloadKey] = snapshot

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode job data: %w", err)
	}
	return out, nil
}

// Extract returns the request context embedded in data. It reports false when data is not an
// object or carries no snapshot.
func Extract(data json.RawMessage) (*RequestContext, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false, fmt.Errorf("decode job data: %w", err)
	}
	raw, ok := fields[PayloadKey]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false, nil
	}
	rc, err := Deserialize(raw)
	if err != nil {
		return nil, false, err
	}
	return rc, true, nil
}
