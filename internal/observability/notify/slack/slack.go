// Package slack posts failed-job alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/target/mmk-jobqueue/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, links the job ID to <prefix>/<job id> (for example an admin UI).
	JobURLPrefix string
}

// message is the incoming-webhook body.
type message struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// Client delivers failed-job alerts to one webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	jobLink    *url.URL
	poster     *notify.Poster
}

var _ notify.Sink = (*Client)(nil)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// NewClient builds a webhook client. The webhook URL is required; an unusable JobURLPrefix
// is ignored and job IDs are shown as plain code.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "jobqueue"
	}

	return &Client{
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   username,
		jobLink:    parseJobLink(cfg.JobURLPrefix),
		poster:     notify.NewPoster("slack", cfg.Client, cfg.Timeout, cfg.RetryLimit),
	}, nil
}

// SendJobFailure posts one formatted alert.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	return c.poster.PostJSON(ctx, c.webhookURL, c.formatMessage(payload))
}

func (c *Client) formatMessage(p notify.JobFailurePayload) message {
	var b strings.Builder
	b.WriteString("*Job failure alert*")
	if job := c.formatJobValue(p.JobID); job != "" {
		b.WriteString(" " + job)
	}
	if p.QueueName != "" {
		b.WriteString(" (" + escaper.Replace(p.QueueName) + ")")
	}
	b.WriteByte('\n')

	var attempts string
	if p.Attempts > 0 {
		attempts = fmt.Sprintf("%d of %d", p.Attempts, p.Retries+1)
	}
	bullet(&b, "Severity", p.SeverityOrDefault())
	bullet(&b, "Queue", escaper.Replace(p.QueueName))
	bullet(&b, "Attempts", attempts)
	bullet(&b, "Error class", p.ErrorClass)
	bullet(&b, "Error", escaper.Replace(p.Error))

	if len(p.Metadata) > 0 {
		b.WriteString("• Metadata:\n")
		for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
			b.WriteString("    • " + escaper.Replace(k) + ": " + escaper.Replace(p.Metadata[k]) + "\n")
		}
	}
	b.WriteString("• Timestamp: " + p.Timestamp().Format(time.RFC3339))

	return message{Text: b.String(), Username: c.username, Channel: c.channel}
}

func bullet(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString("• " + label + ": " + value + "\n")
}

// formatJobValue renders the job ID as a Slack link when a prefix is configured.
func (c *Client) formatJobValue(jobID string) string {
	raw := strings.TrimSpace(jobID)
	if raw == "" {
		return ""
	}
	id := escaper.Replace(raw)
	if c.jobLink == nil {
		return "`" + id + "`"
	}
	return "<" + c.jobLink.JoinPath(raw).String() + "|" + id + ">"
}

func parseJobLink(prefix string) *url.URL {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil
	}
	u, err := url.Parse(prefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	return u
}
