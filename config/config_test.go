package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	jobdomain "github.com/target/mmk-jobqueue/internal/domain/job"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - queue",
			input: "queue",
			expected: map[ServiceMode]bool{
				ServiceModeQueue: true,
			},
			expectError: false,
		},
		{
			name:  "single service - worker",
			input: "worker",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
			},
			expectError: false,
		},
		{
			name:  "single service - buffer-flusher",
			input: "buffer-flusher",
			expected: map[ServiceMode]bool{
				ServiceModeBufferFlusher: true,
			},
			expectError: false,
		},
		{
			name:  "multiple services - worker and reaper",
			input: "worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "queue,worker,reaper,buffer-flusher",
			expected: map[ServiceMode]bool{
				ServiceModeQueue:         true,
				ServiceModeWorker:        true,
				ServiceModeReaper:        true,
				ServiceModeBufferFlusher: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " queue , reaper , buffer-flusher ",
			expected: map[ServiceMode]bool{
				ServiceModeQueue:         true,
				ServiceModeReaper:        true,
				ServiceModeBufferFlusher: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "worker,worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "only spaces and commas",
			input:       " , , ",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "queue,invalid-service",
			expected:    nil,
			expectError: true,
		},
		{
			name:        "mixed valid and invalid",
			input:       "queue,reaper,invalid",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_GetEnabledServices(t *testing.T) {
	tests := []struct {
		name        string
		services    string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "default configuration",
			services: "queue",
			expected: map[ServiceMode]bool{
				ServiceModeQueue: true,
			},
			expectError: false,
		},
		{
			name:     "multiple services",
			services: "worker,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
			expectError: false,
		},
		{
			name:        "invalid configuration",
			services:    "invalid-service",
			expected:    nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}
			result, err := cfg.GetEnabledServices()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "queue" {
		t.Errorf("expected default services %q, got %q", "queue", cfg.Services)
	}
	if cfg.JobQueue.Strategy != StrategySQL {
		t.Errorf("expected sql strategy by default, got %q", cfg.JobQueue.Strategy)
	}
	if cfg.JobQueue.PollInterval != 200*time.Millisecond {
		t.Errorf("expected 200ms poll interval, got %v", cfg.JobQueue.PollInterval)
	}
	if cfg.JobQueue.Concurrency != 1 {
		t.Errorf("expected concurrency 1, got %d", cfg.JobQueue.Concurrency)
	}
	if cfg.JobQueue.GracefulShutdownTimeout != 20*time.Second {
		t.Errorf("expected 20s graceful shutdown, got %v", cfg.JobQueue.GracefulShutdownTimeout)
	}
	if cfg.JobQueue.CancellationCheckInterval != 5*time.Second {
		t.Errorf("expected 5s cancellation checks, got %v", cfg.JobQueue.CancellationCheckInterval)
	}
	if cfg.JobQueue.EvictionInterval != 2*time.Hour {
		t.Errorf("expected 2h eviction interval, got %v", cfg.JobQueue.EvictionInterval)
	}
	if cfg.JobQueue.BackoffStrategy != jobdomain.BackoffConstant || cfg.JobQueue.BackoffDelay != time.Second {
		t.Errorf("expected constant 1s backoff, got %s %v", cfg.JobQueue.BackoffStrategy, cfg.JobQueue.BackoffDelay)
	}
	if cfg.Database.Driver != DBDriverPostgres || cfg.Database.Port != 5432 {
		t.Errorf("expected postgres on 5432, got %s on %d", cfg.Database.Driver, cfg.Database.Port)
	}
	if cfg.Reaper.Interval != 5*time.Minute || cfg.Reaper.MaxAge != 168*time.Hour {
		t.Errorf("unexpected reaper defaults: %+v", cfg.Reaper)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default configuration to be valid: %v", err)
	}
}

func TestAppConfig_ParseJobQueueEnv(t *testing.T) {
	t.Setenv("SERVICES", "worker")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("JOBQUEUE_STRATEGY", "SQL")
	t.Setenv("JOBQUEUE_BUFFER_STORAGE", "redis")
	t.Setenv("JOBQUEUE_ACTIVE_QUEUES", "email, reports")
	t.Setenv("JOBQUEUE_PREFIX", "app_")
	t.Setenv("JOBQUEUE_QUEUE_CONCURRENCY", "email:4")
	t.Setenv("JOBQUEUE_QUEUE_POLL_INTERVAL", "reports:2s")
	t.Setenv("JOBQUEUE_RETRIES", "2")
	t.Setenv("JOBQUEUE_BACKOFF_STRATEGY", "exponential")
	t.Setenv("JOBQUEUE_BACKOFF_DELAY", "500ms")
	t.Setenv("JOBQUEUE_BACKOFF_MAX", "30s")
	t.Setenv("JOBQUEUE_BUFFERS", `[{"id":"digest","queue":"email","collect":"kind == 'digest'","group_by":"user_id"}]`)
	t.Setenv("REAPER_QUEUES", "email")
	t.Setenv("REAPER_QUEUE_MAX_AGE", "email:2h")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	jq := cfg.JobQueue
	if jq.Strategy != StrategySQL || jq.BufferStorage != BufferStorageRedis {
		t.Fatalf("unexpected storage selection: %s / %s", jq.Strategy, jq.BufferStorage)
	}
	if !reflect.DeepEqual(jq.ActiveQueues, []string{"email", "reports"}) {
		t.Errorf("unexpected active queues: %#v", jq.ActiveQueues)
	}
	if !jq.IsActive("email") || jq.IsActive("audit") {
		t.Errorf("IsActive does not follow ACTIVE_QUEUES")
	}
	if jq.ConcurrencyFor("email") != 4 || jq.ConcurrencyFor("reports") != 1 {
		t.Errorf("unexpected per-queue concurrency: email=%d reports=%d", jq.ConcurrencyFor("email"), jq.ConcurrencyFor("reports"))
	}
	if jq.PollIntervalFor("reports") != 2*time.Second || jq.PollIntervalFor("email") != 200*time.Millisecond {
		t.Errorf("unexpected per-queue poll intervals")
	}
	if jq.Retries != 2 || jq.BackoffStrategy != jobdomain.BackoffExponential || jq.BackoffMax != 30*time.Second {
		t.Errorf("unexpected retry configuration: %+v", jq)
	}

	expectedBuffers := BufferDefinitions{{ID: "digest", Queue: "email", Collect: "kind == 'digest'", GroupBy: "user_id"}}
	if !reflect.DeepEqual(jq.Buffers, expectedBuffers) {
		t.Errorf("unexpected buffers:\nexpected: %#v\ngot:      %#v", expectedBuffers, jq.Buffers)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("expected mysql default port, got %d", cfg.Database.Port)
	}
	if !cfg.IsWorkerEnabled() {
		t.Errorf("expected worker service to be enabled")
	}
	if cfg.Reaper.QueueMaxAge["email"] != 2*time.Hour {
		t.Errorf("unexpected reaper overrides: %#v", cfg.Reaper.QueueMaxAge)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected configuration to be valid: %v", err)
	}
}

func TestAppConfig_ParseRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("JOBQUEUE_STRATEGY", "mongo")

	var cfg AppConfig
	if err := env.Parse(&cfg); err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
}

func TestJobQueueConfig_Validate(t *testing.T) {
	base := func() JobQueueConfig {
		cfg := JobQueueConfig{Strategy: StrategySQL, BufferStorage: BufferStorageMemory}
		cfg.Sanitize()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*JobQueueConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*JobQueueConfig) {}},
		{
			name: "buffer without id",
			mutate: func(c *JobQueueConfig) {
				c.Buffers = BufferDefinitions{{Queue: "email"}}
			},
			wantErr: "id is required",
		},
		{
			name: "buffer without queue",
			mutate: func(c *JobQueueConfig) {
				c.Buffers = BufferDefinitions{{ID: "digest"}}
			},
			wantErr: "queue is required",
		},
		{
			name: "duplicate buffer",
			mutate: func(c *JobQueueConfig) {
				c.Buffers = BufferDefinitions{{ID: "digest", Queue: "email"}, {ID: "digest", Queue: "sms"}}
			},
			wantErr: "duplicate id",
		},
		{
			name: "redis buffers with memory strategy",
			mutate: func(c *JobQueueConfig) {
				c.Strategy = StrategyMemory
				c.BufferStorage = BufferStorageRedis
			},
			wantErr: "requires the sql strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBufferDefinitions_UnmarshalText(t *testing.T) {
	var defs BufferDefinitions
	if err := defs.UnmarshalText([]byte("  ")); err != nil || defs != nil {
		t.Fatalf("expected empty input to clear definitions, got %#v, %v", defs, err)
	}
	if err := defs.UnmarshalText([]byte("{not json")); err == nil {
		t.Fatal("expected malformed JSON to fail")
	}
}

func TestJobQueueConfig_Sanitize(t *testing.T) {
	cfg := JobQueueConfig{
		ActiveQueues:     []string{" email ", "", "sms"},
		PollInterval:     0,
		Concurrency:      -3,
		QueueConcurrency: map[string]int{"email": 0},
		Retries:          -1,
		BackoffDelay:     0,
	}
	cfg.Sanitize()

	if !reflect.DeepEqual(cfg.ActiveQueues, []string{"email", "sms"}) {
		t.Errorf("expected trimmed active queues, got %#v", cfg.ActiveQueues)
	}
	if cfg.PollInterval <= 0 || cfg.Concurrency != 1 || cfg.QueueConcurrency["email"] != 1 {
		t.Errorf("expected dispatcher guardrails to apply: %+v", cfg)
	}
	if cfg.Retries != 0 {
		t.Errorf("expected retries to be clamped to 0, got %d", cfg.Retries)
	}
	if cfg.BackoffDelay != jobdomain.DefaultBackoffDelay {
		t.Errorf("expected default backoff delay, got %v", cfg.BackoffDelay)
	}
	if cfg.Strategy != StrategySQL || cfg.BufferStorage != BufferStorageMemory {
		t.Errorf("expected default storage kinds, got %s / %s", cfg.Strategy, cfg.BufferStorage)
	}
	if cfg.NotifyWaitWindow != time.Minute {
		t.Errorf("expected default notify wait window, got %v", cfg.NotifyWaitWindow)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:    time.Second,
		MaxAge:      48 * time.Hour,
		Queues:      []string{" email ", " "},
		QueueMaxAge: map[string]time.Duration{"email": time.Second, "reports": 96 * time.Hour, "": time.Hour},
	}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("expected interval to be raised to 1m, got %v", cfg.Interval)
	}
	if !reflect.DeepEqual(cfg.Queues, []string{"email"}) {
		t.Errorf("expected trimmed queues, got %#v", cfg.Queues)
	}
	expected := map[string]time.Duration{"email": time.Minute, "reports": 48 * time.Hour}
	if !reflect.DeepEqual(cfg.QueueMaxAge, expected) {
		t.Errorf("unexpected overrides:\nexpected: %#v\ngot:      %#v", expected, cfg.QueueMaxAge)
	}
}

func TestDBConfig_Sanitize(t *testing.T) {
	cfg := DBConfig{Driver: DBDriverSQLite, MaxOpenConns: 25, MaxIdleConns: 5}
	cfg.Sanitize()
	if cfg.MaxOpenConns != 1 || cfg.MaxIdleConns != 1 {
		t.Errorf("expected sqlite to use a single connection, got open=%d idle=%d", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}

	var driver DBDriver
	if err := driver.UnmarshalText([]byte("MariaDB")); err != nil || driver != DBDriverMySQL {
		t.Errorf("expected mariadb to map to mysql, got %q, %v", driver, err)
	}
	if err := driver.UnmarshalText([]byte("oracle")); err == nil {
		t.Error("expected an unsupported driver to fail")
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name                  string
		services              string
		expectedQueue         bool
		expectedWorker        bool
		expectedReaper        bool
		expectedBufferFlusher bool
	}{
		{
			name:          "default - queue only",
			services:      "queue",
			expectedQueue: true,
		},
		{
			name:           "worker and reaper",
			services:       "worker,reaper",
			expectedWorker: true,
			expectedReaper: true,
		},
		{
			name:                  "all services",
			services:              "queue,worker,reaper,buffer-flusher",
			expectedQueue:         true,
			expectedWorker:        true,
			expectedReaper:        true,
			expectedBufferFlusher: true,
		},
		{
			name:                  "buffer-flusher only",
			services:              "buffer-flusher",
			expectedBufferFlusher: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsQueueEnabled() != tt.expectedQueue {
				t.Errorf("IsQueueEnabled(): expected %v, got %v", tt.expectedQueue, cfg.IsQueueEnabled())
			}
			if cfg.IsWorkerEnabled() != tt.expectedWorker {
				t.Errorf("IsWorkerEnabled(): expected %v, got %v", tt.expectedWorker, cfg.IsWorkerEnabled())
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
			if cfg.IsBufferFlusherEnabled() != tt.expectedBufferFlusher {
				t.Errorf(
					"IsBufferFlusherEnabled(): expected %v, got %v",
					tt.expectedBufferFlusher,
					cfg.IsBufferFlusherEnabled(),
				)
			}
		})
	}
}

func TestConfig_ServiceEnabledMethodsWithInvalidConfig(t *testing.T) {
	cfg := AppConfig{Services: "invalid-service"}

	// All methods should return false when configuration is invalid
	if cfg.IsQueueEnabled() {
		t.Errorf("IsQueueEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsWorkerEnabled() {
		t.Errorf("IsWorkerEnabled() with invalid config: expected false, got true")
	}
	if cfg.IsReaperEnabled() {
		t.Errorf("IsReaperEnabled() with invalid config: expected false, got true")
	}
	if err := cfg.Validate(); err == nil {
		t.Errorf("Validate() with invalid services: expected an error")
	}
}

func TestAppConfig_ValidateReaperOnMemoryStrategy(t *testing.T) {
	cfg := AppConfig{Services: "reaper", JobQueue: JobQueueConfig{Strategy: StrategyMemory}}
	cfg.JobQueue.Sanitize()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a standalone reaper on the memory strategy to be rejected")
	}

	cfg.Services = "queue,reaper"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected reaper next to the queue service to be accepted: %v", err)
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{
		ServiceModeQueue,
		ServiceModeWorker,
		ServiceModeReaper,
		ServiceModeBufferFlusher,
	}

	if len(modes) != len(expected) {
		t.Errorf("expected %d service modes, got %d", len(expected), len(modes))
	}

	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
	if cfg.FlushInterval != time.Second {
		t.Fatalf("expected default flush interval, got %v", cfg.FlushInterval)
	}
	if cfg.MaxPacketSize != 1432 {
		t.Fatalf("expected default packet size, got %d", cfg.MaxPacketSize)
	}

	cfg = ObservabilityMetricsConfig{Prefix: " .jobqueue.workers. ", MaxPacketSize: 512}
	cfg.Sanitize()
	if cfg.Prefix != "jobqueue.workers" {
		t.Fatalf("expected prefix dots trimmed, got %q", cfg.Prefix)
	}
	if cfg.MaxPacketSize != 512 {
		t.Fatalf("expected explicit packet size kept, got %d", cfg.MaxPacketSize)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
			Username:   "",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: " ",
			Source:     "",
			Component:  "",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled without a routing key")
	}
	if cfg.PagerDuty.Source != "jobqueue" {
		t.Fatalf("expected pagerduty source default, got %q", cfg.PagerDuty.Source)
	}
	if cfg.PagerDuty.Component != "jobqueue" {
		t.Fatalf("expected pagerduty component default, got %q", cfg.PagerDuty.Component)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
		PagerDuty: PagerDutyNotificationConfig{
			Enabled:    true,
			RoutingKey: "abc",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
	if cfg.PagerDuty.Enabled {
		t.Fatal("expected pagerduty to be disabled when top-level notifications disabled")
	}
}

func TestObservabilityNotificationsConfig_MutedQueues(t *testing.T) {
	t.Setenv("OBSERVABILITY_NOTIFICATIONS_MUTED_QUEUES", "email, ,reports ")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	expected := []string{"email", "reports"}
	if !reflect.DeepEqual(cfg.Observability.Notifications.MutedQueues, expected) {
		t.Fatalf("expected muted queues %#v, got %#v", expected, cfg.Observability.Notifications.MutedQueues)
	}
}
