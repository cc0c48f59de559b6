package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "occasio.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./occasio.db
reminders:
  lead_days: 3
  check_schedule: "@every 30s"
  timezone: Europe/Berlin
delivery:
  workers: 4
  max_attempts: 7
  retry_base: 250ms
api:
  enabled: true
  addr: 127.0.0.1:9090
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Reminders.LeadDays != 3 || cfg.Reminders.Timezone != "Europe/Berlin" {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if cfg.Delivery.Workers != 4 || cfg.Delivery.RetryBase != "250ms" {
		t.Fatalf("delivery = %+v", cfg.Delivery)
	}
	if !cfg.API.Enabled || cfg.API.Addr != "127.0.0.1:9090" {
		t.Fatalf("api = %+v", cfg.API)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "occasio.json")
	content := `{"logging":{"level":"info"},"reminders":{"lead_days":1},"delivery":{}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reminders.LeadDays != 1 {
		t.Fatalf("lead_days = %d, want 1", cfg.Reminders.LeadDays)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging:
  level: info
remidners:
  lead_days: 3
`)
	_, err := NewManager(path).Parse()
	if err == nil || !strings.Contains(err.Error(), "remidners") {
		t.Fatalf("err = %v, want unknown-field rejection naming the typo", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "occasio.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}{"extra":1}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected trailing-data rejection")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad duration", func(c *Config) { c.Delivery.RetryBase = "fast" }, "delivery.retry_base"},
		{"negative lead days", func(c *Config) { c.Reminders.LeadDays = -1 }, "lead_days"},
		{"bad timezone", func(c *Config) { c.Reminders.Timezone = "Mars/Olympus" }, "timezone"},
		{"negative workers", func(c *Config) { c.Delivery.Workers = -1 }, "workers"},
		{"jitter out of range", func(c *Config) { c.Delivery.RetryJitter = 1.5 }, "retry_jitter"},
		{"bad storage timeout", func(c *Config) {
			c.Storage = &StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "nope"}
		}, "busy_timeout"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", " 1500ms "); err != nil || d != 1500*time.Millisecond {
		t.Fatalf("padded: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("junk duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "5s", 3*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("explicit: d=%v err=%v", d, err)
	}
}

func TestReloadCommitsAndPublishes(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "reminders:\n  lead_days: 1\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.WriteFile(path, []byte("reminders:\n  lead_days: 2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())

	select {
	case got := <-sub:
		if got.Reminders.LeadDays != 2 {
			t.Fatalf("lead_days = %d, want 2", got.Reminders.LeadDays)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Reminders.LeadDays != 2 {
		t.Fatal("reload did not commit")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "reminders:\n  lead_days: 1\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged content should not publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReloadKeepsCommittedOnBadEdit(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "reminders:\n  lead_days: 1\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte("reminders:\n  lead_days: -5\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	if m.Get().Reminders.LeadDays != 1 {
		t.Fatal("invalid edit replaced the committed config")
	}
}

func TestReloadValidatorRejects(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "reminders:\n  lead_days: 1\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, _ *Config) error {
		return errors.New("not today")
	})

	if err := os.WriteFile(path, []byte("reminders:\n  lead_days: 2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(context.Background())
	if m.Get().Reminders.LeadDays != 1 {
		t.Fatal("validator rejection should keep the committed config")
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	first := &Config{Reminders: RemindersConfig{LeadDays: 1}}
	second := &Config{Reminders: RemindersConfig{LeadDays: 2}}
	m.publish(first)
	m.publish(second)

	got := <-sub
	if got.Reminders.LeadDays != 2 {
		t.Fatalf("lead_days = %d, want the newest config", got.Reminders.LeadDays)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	sub := m.Subscribe(1)
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Idempotent.
	m.Unsubscribe(sub)
}
