package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"occasio/internal/domain"
	"occasio/internal/storage"
	"occasio/internal/transport"
	"occasio/pkg/logx"
)

// scriptedTransport pops one error per send; an exhausted script succeeds.
type scriptedTransport struct {
	mu     sync.Mutex
	script []error
	sent   []string // message bodies, in send order
}

func (s *scriptedTransport) Send(_ context.Context, _ domain.Channel, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, body)
	if len(s.script) == 0 {
		return nil
	}
	err := s.script[0]
	s.script = s.script[1:]
	return err
}

func (s *scriptedTransport) sends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func testConfig() Config {
	return Config{
		Workers:       2,
		MaxAttempts:   5,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
		RatePerSec:    1000,
	}
}

func newTestService(t *testing.T, cfg Config, tr transport.Transport) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	reg := transport.NewRegistry()
	reg.Register(domain.ChannelSMS, tr)
	s := New(cfg, store, reg, nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, store
}

func seedMessage(t *testing.T, store storage.Store, id string) domain.DraftedMessage {
	t.Helper()
	msg := domain.DraftedMessage{ID: id, ContactID: "c1", Body: "body-" + id, CreatedAt: time.Now()}
	if err := store.PutMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

var testContact = domain.Contact{ID: "c1", Name: "Sarah"}

func smsTo(addr string) domain.Channel {
	return domain.Channel{Type: domain.ChannelSMS, Address: addr}
}

func waitForState(t *testing.T, s *Service, id string, want domain.JobState) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status(%s): %v", id, err)
		}
		if st.State == string(want) {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	st, _ := s.Status(context.Background(), id)
	t.Fatalf("job %s never reached %s (stuck at %s, attempts=%d, err=%q)",
		id, want, st.State, st.Attempts, st.LastError)
	return Status{}
}

func TestImmediateDelivery(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if job.State != domain.JobPending {
		t.Fatalf("immediate job state = %s, want pending", job.State)
	}
	if job.ScheduledFor.IsZero() {
		t.Fatal("immediate job should get ScheduledFor set to now")
	}

	st := waitForState(t, s, job.ID, domain.JobDelivered)
	if st.Attempts != 0 {
		t.Fatalf("Attempts = %d, want 0 for first-try success", st.Attempts)
	}
	if st.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set on delivery")
	}

	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State != domain.JobDelivered {
		t.Fatalf("persisted state = %s, want delivered", stored.State)
	}
}

func TestTransientRetriesThenSuccess(t *testing.T) {
	t.Parallel()
	// max-1 transient failures followed by success must end Delivered.
	tr := &scriptedTransport{script: []error{
		transport.Transient(errors.New("flaky")),
		transport.Transient(errors.New("flaky")),
		transport.Transient(errors.New("flaky")),
		transport.Transient(errors.New("flaky")),
	}}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	st := waitForState(t, s, job.ID, domain.JobDelivered)
	if st.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4", st.Attempts)
	}
	if got := len(tr.sends()); got != 5 {
		t.Fatalf("sends = %d, want 5", got)
	}
}

func TestTransientExhaustsAttempts(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{script: []error{
		transport.Transient(errors.New("down")),
		transport.Transient(errors.New("down")),
		transport.Transient(errors.New("down")),
	}}
	cfg := testConfig()
	cfg.MaxAttempts = 3
	s, store := newTestService(t, cfg, tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	st := waitForState(t, s, job.ID, domain.JobFailed)
	if st.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", st.Attempts)
	}
	if st.LastError == "" {
		t.Fatal("LastError empty on failed job")
	}
}

func TestPermanentFailsImmediately(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{script: []error{
		transport.Permanent(errors.New("invalid recipient")),
	}}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	st := waitForState(t, s, job.ID, domain.JobFailed)
	if st.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1 (no retries on permanent)", st.Attempts)
	}
	if got := len(tr.sends()); got != 1 {
		t.Fatalf("sends = %d, want 1", got)
	}
}

func TestRetryAfterHint(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{script: []error{
		transport.RetryAfter(errors.New("429"), time.Millisecond),
	}}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	st := waitForState(t, s, job.ID, domain.JobDelivered)
	if st.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", st.Attempts)
	}
}

// Jobs for the same destination must go out one at a time, in the order they
// became pending, even with multiple workers.
func TestFIFOPerDestination(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)

	// Queue before starting the workers so the ordering is deterministic.
	var ids []string
	want := []string{"body-m1", "body-m2", "body-m3"}
	for _, mid := range []string{"m1", "m2", "m3"} {
		msg := seedMessage(t, store, mid)
		job, err := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		ids = append(ids, job.ID)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, id := range ids {
		waitForState(t, s, id, domain.JobDelivered)
	}

	sent := tr.sends()
	if len(sent) != len(want) {
		t.Fatalf("sends = %d, want %d", len(sent), len(want))
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("send order %v, want %v", sent, want)
		}
	}
}

func TestScheduledPromotion(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if job.State != domain.JobScheduled {
		t.Fatalf("future job state = %s, want scheduled", job.State)
	}
	waitForState(t, s, job.ID, domain.JobDelivered)
}

func TestScheduledBeforeStartPromoted(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")

	// Accepted while stopped; Start must arm the promotion timer.
	job, err := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, s, job.ID, domain.JobDelivered)
}

func TestStopStartReArmsScheduled(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, err := s.Schedule(ctx, msg, testContact, smsTo("+1555"), time.Now().Add(40*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Stop clears armed timers; the in-memory job must survive the cycle.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, s, job.ID, domain.JobDelivered)
}

func TestScheduleInPastRejected(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")

	_, err := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Now().Add(-time.Minute))
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("err = %v, want ErrInvalidSchedule", err)
	}
}

func TestCancelScheduled(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Now().Add(time.Hour))
	if err := s.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	st, err := s.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != string(domain.JobCancelled) {
		t.Fatalf("state = %s, want cancelled", st.State)
	}
	if st.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set on cancel")
	}

	stored, _ := store.GetJob(context.Background(), job.ID)
	if stored.State != domain.JobCancelled {
		t.Fatalf("persisted state = %s, want cancelled", stored.State)
	}
}

func TestCancelPendingBeforeDispatch(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")

	// Workers not started yet, so the job sits pending in its lane.
	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	if err := s.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := len(tr.sends()); got != 0 {
		t.Fatalf("cancelled job was dispatched %d times", got)
	}
}

func TestCancelTerminalAndUnknown(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)
	msg := seedMessage(t, store, "m1")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	waitForState(t, s, job.ID, domain.JobDelivered)

	if err := s.Cancel(context.Background(), job.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel delivered: err = %v, want ErrInvalidState", err)
	}
	if err := s.Cancel(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel unknown: err = %v, want ErrNotFound", err)
	}
}

// A restart must pick up non-terminal jobs from the store: pending jobs
// re-enter their lanes, interrupted dispatches are retried, and due
// scheduled jobs are promoted.
func TestStartRecovery(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	store := storage.NewMemory()
	ctx := context.Background()
	seedMessage(t, store, "m1")

	now := time.Now()
	jobs := []domain.DeliveryJob{
		{ID: "j-pending", MessageID: "m1", ContactID: "c1", Channel: smsTo("+1"),
			ScheduledFor: now, State: domain.JobPending, CreatedAt: now},
		{ID: "j-dispatching", MessageID: "m1", ContactID: "c2", Channel: smsTo("+2"),
			ScheduledFor: now, State: domain.JobDispatching, CreatedAt: now},
		{ID: "j-due", MessageID: "m1", ContactID: "c3", Channel: smsTo("+3"),
			ScheduledFor: now.Add(-time.Minute), State: domain.JobScheduled, CreatedAt: now},
		{ID: "j-done", MessageID: "m1", ContactID: "c4", Channel: smsTo("+4"),
			ScheduledFor: now, State: domain.JobDelivered, CreatedAt: now, CompletedAt: now},
	}
	for _, j := range jobs {
		if err := store.PutJob(ctx, j); err != nil {
			t.Fatalf("PutJob: %v", err)
		}
	}

	reg := transport.NewRegistry()
	reg.Register(domain.ChannelSMS, tr)
	s := New(testConfig(), store, reg, nil, logx.Nop())
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	})
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, id := range []string{"j-pending", "j-dispatching", "j-due"} {
		waitForState(t, s, id, domain.JobDelivered)
	}
	if got := len(tr.sends()); got != 3 {
		t.Fatalf("sends = %d, want 3 (terminal job must not be re-sent)", got)
	}
}

func TestStatusFallsBackToStore(t *testing.T) {
	t.Parallel()
	tr := &scriptedTransport{}
	s, store := newTestService(t, testConfig(), tr)

	done := domain.DeliveryJob{
		ID: "old", MessageID: "m", ContactID: "c", Channel: smsTo("+1"),
		State: domain.JobDelivered, CreatedAt: time.Now(), CompletedAt: time.Now(),
	}
	if err := store.PutJob(context.Background(), done); err != nil {
		t.Fatalf("PutJob: %v", err)
	}

	st, err := s.Status(context.Background(), "old")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != string(domain.JobDelivered) {
		t.Fatalf("state = %s, want delivered", st.State)
	}

	if _, err := s.Status(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMissingTransportFailsPermanently(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	seedMessage(t, store, "m1")
	s := New(testConfig(), store, transport.NewRegistry(), nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msg, _ := store.GetMessage(context.Background(), "m1")
	job, _ := s.Schedule(context.Background(), msg, testContact, smsTo("+1555"), time.Time{})
	st := waitForState(t, s, job.ID, domain.JobFailed)
	if st.LastError == "" {
		t.Fatal("expected transport error recorded")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}.withDefaults()
	for retry := 1; retry <= 6; retry++ {
		d := backoffDelay(cfg, retry)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retry %d: delay %v out of range", retry, d)
		}
	}
	// First retry centers on the base delay, within jitter.
	d := backoffDelay(cfg, 1)
	if d < 80*time.Millisecond || d > 120*time.Millisecond {
		t.Fatalf("first retry delay %v outside jitter band", d)
	}
}
