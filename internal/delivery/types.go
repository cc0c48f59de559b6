package delivery

import (
	"errors"
	"time"
)

// Config controls the delivery scheduler and its dispatch workers.
type Config struct {
	Workers int

	// MaxAttempts caps send attempts per job. A job that fails with a
	// transient error MaxAttempts times is moved to Failed.
	MaxAttempts int

	// Backoff between transient retries: base × 2^attempts, capped, jittered.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%

	// SendTimeout bounds each transport call. A timed-out send counts as a
	// transient failure.
	SendTimeout time.Duration

	// RatePerSec is a per-channel-type token bucket applied before each send.
	RatePerSec int

	// ReadyQueueSize is the buffer of the internal ready-lane channel.
	ReadyQueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.ReadyQueueSize <= 0 {
		c.ReadyQueueSize = 256
	}
	return c
}

var (
	// ErrInvalidSchedule rejects a future timestamp that is not strictly
	// after the scheduler's current time.
	ErrInvalidSchedule = errors.New("delivery: scheduled time is not in the future")

	// ErrInvalidState rejects an operation on a job whose state doesn't
	// admit it (e.g. cancel after dispatch has begun).
	ErrInvalidState = errors.New("delivery: operation not allowed in current job state")

	// ErrNotFound means the job identifier is unknown.
	ErrNotFound = errors.New("delivery: job not found")
)

// Status is the queryable view of a delivery job.
type Status struct {
	ID           string
	State        string
	Attempts     int
	LastError    string
	ScheduledFor time.Time
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Running     bool
	Workers     int
	Lanes       int
	QueuedJobs  int
	InFlight    int
	StateCounts map[string]int
}

// JobEvent is published on the event bus for job lifecycle transitions.
type JobEvent struct {
	ID       string    `json:"id"`
	State    string    `json:"state"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
