package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"occasio/internal/domain"
	logx "occasio/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- contacts ----

func (s *sqliteStore) PutContact(ctx context.Context, c domain.Contact) error {
	channels, err := json.Marshal(c.Channels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts(id, name, email, channels, preferred, category, notes, birthday, anniversary, reminders_enabled, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, email=excluded.email, channels=excluded.channels,
		   preferred=excluded.preferred, category=excluded.category, notes=excluded.notes,
		   birthday=excluded.birthday, anniversary=excluded.anniversary,
		   reminders_enabled=excluded.reminders_enabled`,
		c.ID, c.Name, c.Email, string(channels), string(c.Preferred), string(c.Category),
		c.Notes, optTime(c.Birthday), optTime(c.Anniversary), boolInt(c.RemindersEnabled),
		c.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, channels, preferred, category, notes, birthday, anniversary, reminders_enabled, created_at
		 FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

func (s *sqliteStore) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, channels, preferred, category, notes, birthday, anniversary, reminders_enabled, created_at
		 FROM contacts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteContact(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "contacts", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(r rowScanner) (domain.Contact, error) {
	var c domain.Contact
	var channels, preferred, category, birthday, anniversary, createdAt sql.NullString
	var reminders int
	err := r.Scan(&c.ID, &c.Name, &c.Email, &channels, &preferred, &category, &c.Notes,
		&birthday, &anniversary, &reminders, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contact{}, ErrNotFound
	}
	if err != nil {
		return domain.Contact{}, err
	}
	if channels.Valid && channels.String != "" {
		if err := json.Unmarshal([]byte(channels.String), &c.Channels); err != nil {
			return domain.Contact{}, fmt.Errorf("contact %s: decode channels: %w", c.ID, err)
		}
	}
	c.Preferred = domain.ChannelType(preferred.String)
	c.Category = domain.ContactCategory(category.String)
	c.Birthday = parseOptTime(birthday)
	c.Anniversary = parseOptTime(anniversary)
	c.RemindersEnabled = reminders != 0
	c.CreatedAt = parseTime(createdAt.String)
	return c, nil
}

// ---- events ----

func (s *sqliteStore) PutEvent(ctx context.Context, e domain.Event) error {
	ids, err := json.Marshal(e.ContactIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(id, title, date, category, contact_ids, reminder_enabled, notes, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, date=excluded.date, category=excluded.category,
		   contact_ids=excluded.contact_ids, reminder_enabled=excluded.reminder_enabled,
		   notes=excluded.notes, updated_at=excluded.updated_at`,
		e.ID, e.Title, e.Date.Format(time.RFC3339), string(e.Category), string(ids),
		boolInt(e.ReminderEnabled), e.Notes,
		e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, date, category, contact_ids, reminder_enabled, notes, created_at, updated_at
		 FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

func (s *sqliteStore) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, date, category, contact_ids, reminder_enabled, notes, created_at, updated_at
		 FROM events ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "events", id)
}

func scanEvent(r rowScanner) (domain.Event, error) {
	var e domain.Event
	var date, category, ids, createdAt, updatedAt string
	var reminder int
	err := r.Scan(&e.ID, &e.Title, &date, &category, &ids, &reminder, &e.Notes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	if ids != "" {
		if err := json.Unmarshal([]byte(ids), &e.ContactIDs); err != nil {
			return domain.Event{}, fmt.Errorf("event %s: decode contact ids: %w", e.ID, err)
		}
	}
	e.Date = parseTime(date)
	e.Category = domain.EventCategory(category)
	e.ReminderEnabled = reminder != 0
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// ---- messages ----

func (s *sqliteStore) PutMessage(ctx context.Context, m domain.DraftedMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, event_id, contact_id, body, tone, provenance, revision_of, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		m.ID, m.EventID, m.ContactID, m.Body, string(m.Tone), string(m.Provenance),
		m.RevisionOf, m.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetMessage(ctx context.Context, id string) (domain.DraftedMessage, error) {
	var m domain.DraftedMessage
	var tone, provenance, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, contact_id, body, tone, provenance, revision_of, created_at
		 FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.EventID, &m.ContactID, &m.Body, &tone, &provenance, &m.RevisionOf, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DraftedMessage{}, ErrNotFound
	}
	if err != nil {
		return domain.DraftedMessage{}, err
	}
	m.Tone = domain.Tone(tone)
	m.Provenance = domain.Provenance(provenance)
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// ---- jobs ----

func (s *sqliteStore) PutJob(ctx context.Context, j domain.DeliveryJob) error {
	var completed any
	if !j.CompletedAt.IsZero() {
		completed = j.CompletedAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, message_id, contact_id, channel_type, channel_addr, scheduled_for, state, attempts, last_error, created_at, completed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   state=excluded.state, attempts=excluded.attempts,
		   last_error=excluded.last_error, completed_at=excluded.completed_at`,
		j.ID, j.MessageID, j.ContactID, string(j.Channel.Type), j.Channel.Address,
		j.ScheduledFor.Format(time.RFC3339Nano), string(j.State), j.Attempts, j.LastError,
		j.CreatedAt.Format(time.RFC3339Nano), completed,
	)
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id string) (domain.DeliveryJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, contact_id, channel_type, channel_addr, scheduled_for, state, attempts, last_error, created_at, completed_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *sqliteStore) ListJobsInStates(ctx context.Context, states ...domain.JobState) ([]domain.DeliveryJob, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, contact_id, channel_type, channel_addr, scheduled_for, state, attempts, last_error, created_at, completed_at
		 FROM jobs WHERE state IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(r rowScanner) (domain.DeliveryJob, error) {
	var j domain.DeliveryJob
	var chType, scheduledFor, state, createdAt string
	var completedAt sql.NullString
	err := r.Scan(&j.ID, &j.MessageID, &j.ContactID, &chType, &j.Channel.Address,
		&scheduledFor, &state, &j.Attempts, &j.LastError, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryJob{}, ErrNotFound
	}
	if err != nil {
		return domain.DeliveryJob{}, err
	}
	j.Channel.Type = domain.ChannelType(chType)
	j.ScheduledFor = parseTime(scheduledFor)
	j.State = domain.JobState(state)
	j.CreatedAt = parseTime(createdAt)
	if completedAt.Valid {
		j.CompletedAt = parseTime(completedAt.String)
	}
	return j, nil
}

// ---- reminder marks ----

func (s *sqliteStore) PutReminderMark(ctx context.Context, eventID string, year int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_marks(event_id, year) VALUES(?,?)
		 ON CONFLICT(event_id) DO UPDATE SET year=excluded.year`,
		eventID, year,
	)
	return err
}

func (s *sqliteStore) GetReminderMark(ctx context.Context, eventID string) (int, bool, error) {
	var year int
	err := s.db.QueryRowContext(ctx,
		`SELECT year FROM reminder_marks WHERE event_id = ?`, eventID).Scan(&year)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return year, true, nil
}

func (s *sqliteStore) DeleteReminderMark(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_marks WHERE event_id = ?`, eventID)
	return err
}

// ---- helpers ----

func (s *sqliteStore) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseOptTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
