package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeQueue enqueues jobs and consumes the active queues in-process.
	ServiceModeQueue ServiceMode = "queue"
	// ServiceModeWorker consumes the active queues as a dedicated worker process.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the settled job reaper.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeBufferFlusher periodically flushes job buffers into their queues.
	ServiceModeBufferFlusher ServiceMode = "buffer-flusher"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeQueue,
		ServiceModeWorker,
		ServiceModeReaper,
		ServiceModeBufferFlusher,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeQueue,
			ServiceModeWorker,
			ServiceModeReaper,
			ServiceModeBufferFlusher:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: queue, worker, reaper, buffer-flusher)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// ReaperConfig contains settled job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// MaxAge is how long settled jobs are kept before deletion.
	MaxAge time.Duration `env:"REAPER_MAX_AGE" envDefault:"168h"` // 7 days

	// Queues limits the sweep to the listed queues; all queues when empty.
	Queues []string `env:"REAPER_QUEUES"`

	// QueueMaxAge shortens retention for individual queues, e.g. "email:1h,reports:24h".
	QueueMaxAge map[string]time.Duration `env:"REAPER_QUEUE_MAX_AGE"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.MaxAge < 1*time.Hour {
		r.MaxAge = 1 * time.Hour
	}

	queues := make([]string, 0, len(r.Queues))
	for _, q := range r.Queues {
		if q = strings.TrimSpace(q); q != "" {
			queues = append(queues, q)
		}
	}
	r.Queues = queues

	// The main sweep already removes everything older than MaxAge, so overrides can only shorten it.
	for queue, age := range r.QueueMaxAge {
		switch {
		case strings.TrimSpace(queue) == "":
			delete(r.QueueMaxAge, queue)
		case age < 1*time.Minute:
			r.QueueMaxAge[queue] = 1 * time.Minute
		case age > r.MaxAge:
			r.QueueMaxAge[queue] = r.MaxAge
		}
	}
}
