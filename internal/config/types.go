package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is optional; when omitted the engine runs on the in-memory
	// store and loses state on restart.
	Storage *StorageConfig `json:"storage,omitempty"`

	Reminders RemindersConfig `json:"reminders"`
	Delivery  DeliveryConfig  `json:"delivery"`
	API       APIConfig       `json:"api,omitempty"`

	// Suggestions overrides the built-in message candidate bodies.
	Suggestions *SuggestionsConfig `json:"suggestions,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./occasio.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RemindersConfig controls the reminder evaluator.
type RemindersConfig struct {
	// LeadDays widens the reminder window: 0 reminds on the day itself,
	// N also covers occurrences up to N days ahead.
	LeadDays int `json:"lead_days"`

	// CheckSchedule is a cron expression for the periodic evaluator run.
	// Defaults to "@every 1m".
	CheckSchedule string `json:"check_schedule,omitempty"`

	// Timezone for date-boundary math, e.g. "Europe/Berlin". Defaults to
	// the host local zone.
	Timezone string `json:"timezone,omitempty"`
}

// DeliveryConfig controls the delivery scheduler and dispatch workers.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - max_attempts: 5
//   - retry_base: "500ms"
//   - retry_max_delay: "15s"
//   - retry_jitter: 0.2
//   - send_timeout: "10s"
//   - rate_per_sec: 5
//   - queue_size: 256
type DeliveryConfig struct {
	Workers       int     `json:"workers,omitempty"`
	MaxAttempts   int     `json:"max_attempts,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
	RatePerSec    int     `json:"rate_per_sec,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
}

// APIConfig controls the optional HTTP API.
//
// Prefer binding to localhost; the API carries no authentication of its own.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SuggestionsConfig replaces the built-in candidate bodies for message
// drafting. Keys of ByTone are tone names (casual, formal, friendly,
// professional).
type SuggestionsConfig struct {
	Default []string            `json:"default,omitempty"`
	ByTone  map[string][]string `json:"by_tone,omitempty"`
}

// Validate checks field-level constraints that the strict decoder cannot:
// duration strings parse, numeric ranges hold, the timezone resolves. It is
// installed as the Manager validator so a bad edit never reaches subscribers.
func (c *Config) Validate() error {
	for path, raw := range map[string]string{
		"delivery.retry_base":      c.Delivery.RetryBase,
		"delivery.retry_max_delay": c.Delivery.RetryMaxDelay,
		"delivery.send_timeout":    c.Delivery.SendTimeout,
		"api.read_timeout":         c.API.ReadTimeout,
		"api.write_timeout":        c.API.WriteTimeout,
		"api.idle_timeout":         c.API.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Reminders.LeadDays < 0 {
		return fmt.Errorf("reminders.lead_days: must be >= 0")
	}
	if tz := strings.TrimSpace(c.Reminders.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminders.timezone: %w", err)
		}
	}
	if c.Delivery.Workers < 0 || c.Delivery.MaxAttempts < 0 {
		return fmt.Errorf("delivery: workers and max_attempts must be >= 0")
	}
	if j := c.Delivery.RetryJitter; j < 0 || j > 1 {
		return fmt.Errorf("delivery.retry_jitter: must be within [0, 1]")
	}
	return nil
}
