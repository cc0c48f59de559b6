package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"occasio/internal/domain"
	logx "occasio/pkg/logx"
)

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("storage: not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default persistence)
//   - "memory": in-process maps, no durability (tests, ephemeral runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence collaborator: CRUD only, no business logic.
// The engine is storage-agnostic; schema is the driver's concern.
type Store interface {
	PutContact(ctx context.Context, c domain.Contact) error
	GetContact(ctx context.Context, id string) (domain.Contact, error)
	ListContacts(ctx context.Context) ([]domain.Contact, error)
	DeleteContact(ctx context.Context, id string) error

	PutEvent(ctx context.Context, e domain.Event) error
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	DeleteEvent(ctx context.Context, id string) error

	// Drafted messages are immutable: Put only ever inserts.
	PutMessage(ctx context.Context, m domain.DraftedMessage) error
	GetMessage(ctx context.Context, id string) (domain.DraftedMessage, error)

	PutJob(ctx context.Context, j domain.DeliveryJob) error
	GetJob(ctx context.Context, id string) (domain.DeliveryJob, error)
	// ListJobsInStates returns jobs whose state is one of the given states,
	// ordered by creation time. Used for the startup recovery rescan.
	ListJobsInStates(ctx context.Context, states ...domain.JobState) ([]domain.DeliveryJob, error)

	// Reminder marks dedup reminder notices per (event, occurrence year) so
	// restarts don't re-remind.
	PutReminderMark(ctx context.Context, eventID string, year int) error
	GetReminderMark(ctx context.Context, eventID string) (year int, ok bool, err error)
	// DeleteReminderMark is a no-op for an unknown event.
	DeleteReminderMark(ctx context.Context, eventID string) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
