package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPostTimeout = 5 * time.Second
	retryStep          = 200 * time.Millisecond
	maxErrorBody       = 4 << 10
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Service    string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Service, e.Status, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Poster sends JSON bodies with linear backoff between attempts. Client errors (4xx other
// than 429) are not retried.
type Poster struct {
	Service    string // names the remote in errors, e.g. "slack"
	Client     *http.Client
	RetryLimit int
}

// NewPoster builds a Poster with its own client unless hc is supplied.
func NewPoster(service string, hc *http.Client, timeout time.Duration, retryLimit int) *Poster {
	if timeout <= 0 {
		timeout = defaultPostTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Poster{Service: service, Client: hc, RetryLimit: max(retryLimit, 0)}
}

// PostJSON encodes v and posts it to url.
func (p *Poster) PostJSON(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", p.Service, err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.RetryLimit; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*retryStep); err != nil {
				return err
			}
		}
		lastErr = p.post(ctx, url, body)
		var statusErr *StatusError
		if lastErr == nil || (errors.As(lastErr, &statusErr) && !statusErr.Temporary()) {
			return lastErr
		}
	}
	return lastErr
}

func (p *Poster) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", p.Service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", p.Service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return fmt.Errorf("read %s error response: %w", p.Service, readErr)
	}
	return &StatusError{
		Service:    p.Service,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(msg)),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
