package config

import (
	"strings"
	"time"
)

const (
	defaultObservabilityName    = "jobqueue"
	defaultStatsdFlushInterval  = time.Second
	defaultStatsdMaxPacketBytes = 1432
	defaultNotificationTimeout  = 5 * time.Second
)

// ObservabilityConfig groups the metrics sink and the failed-job notification fan-out.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Notifications ObservabilityNotificationsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls the StatsD sink that job lifecycle metrics are written to.
type ObservabilityMetricsConfig struct {
	Enabled       bool              `env:"OBSERVABILITY_METRICS_ENABLED"         envDefault:"false"`
	StatsdAddress string            `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS"  envDefault:"127.0.0.1:8125"`
	Prefix        string            `env:"OBSERVABILITY_METRICS_PREFIX"          envDefault:"jobqueue"`
	Tags          map[string]string `env:"OBSERVABILITY_METRICS_TAGS"`
	FlushInterval time.Duration     `env:"OBSERVABILITY_METRICS_FLUSH_INTERVAL"  envDefault:"1s"`
	MaxPacketSize int               `env:"OBSERVABILITY_METRICS_MAX_PACKET_SIZE" envDefault:"1432"`
}

// Sanitize trims the address and prefix and restores defaults for non-positive sizes.
// An empty address turns metrics off.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), ".")
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultStatsdFlushInterval
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = defaultStatsdMaxPacketBytes
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// ObservabilityNotificationsConfig controls outbound notifications for jobs that exhaust their retries.
type ObservabilityNotificationsConfig struct {
	Enabled     bool                        `env:"OBSERVABILITY_NOTIFICATIONS_ENABLED"      envDefault:"false"`
	Timeout     time.Duration               `env:"OBSERVABILITY_NOTIFICATIONS_TIMEOUT"      envDefault:"5s"`
	RetryLimit  int                         `env:"OBSERVABILITY_NOTIFICATIONS_RETRY_LIMIT"  envDefault:"3"`
	MutedQueues []string                    `env:"OBSERVABILITY_NOTIFICATIONS_MUTED_QUEUES"`
	Slack       SlackNotificationConfig     `envPrefix:"OBSERVABILITY_NOTIFICATIONS_SLACK_"`
	PagerDuty   PagerDutyNotificationConfig `envPrefix:"OBSERVABILITY_NOTIFICATIONS_PAGERDUTY_"`
}

// Sanitize normalises notification values. A sink stays enabled only when notifications
// are on and the sink has its credential.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = defaultNotificationTimeout
	}
	c.RetryLimit = max(c.RetryLimit, 0)
	c.MutedQueues = trimList(c.MutedQueues)

	c.Slack.sanitize()
	c.PagerDuty.sanitize()

	c.Slack.Enabled = c.Enabled && c.Slack.Enabled && c.Slack.WebhookURL != ""
	c.PagerDuty.Enabled = c.Enabled && c.PagerDuty.Enabled && c.PagerDuty.RoutingKey != ""
}

// SlackNotificationConfig controls the Slack incoming-webhook sink.
type SlackNotificationConfig struct {
	Enabled      bool   `env:"ENABLED"        envDefault:"false"`
	WebhookURL   string `env:"WEBHOOK_URL"`
	Channel      string `env:"CHANNEL"`
	Username     string `env:"USERNAME"       envDefault:"jobqueue"`
	JobURLPrefix string `env:"JOB_URL_PREFIX"`
}

func (c *SlackNotificationConfig) sanitize() {
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.Channel = strings.TrimSpace(c.Channel)
	c.JobURLPrefix = strings.TrimRight(strings.TrimSpace(c.JobURLPrefix), "/")
	c.Username = orDefaultName(c.Username)
}

// PagerDutyNotificationConfig controls the PagerDuty Events API v2 sink.
type PagerDutyNotificationConfig struct {
	Enabled    bool   `env:"ENABLED"     envDefault:"false"`
	RoutingKey string `env:"ROUTING_KEY"`
	Source     string `env:"SOURCE"      envDefault:"jobqueue"`
	Component  string `env:"COMPONENT"   envDefault:"jobqueue"`
}

func (c *PagerDutyNotificationConfig) sanitize() {
	c.RoutingKey = strings.TrimSpace(c.RoutingKey)
	c.Source = orDefaultName(c.Source)
	c.Component = orDefaultName(c.Component)
}

func orDefaultName(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return defaultObservabilityName
	}
	return v
}
