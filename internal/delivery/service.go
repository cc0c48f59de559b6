// Package delivery turns drafted messages into delivery jobs and drives them
// to a terminal state.
//
// The scheduler half owns the job table, the per-destination FIFO lanes, and
// the one-time timers that promote future jobs to pending. The worker half
// (worker.go) drains ready lanes, calls transports, and classifies outcomes.
// All job mutations are write-through to the store, so a restart can rebuild
// the in-flight picture with Start.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"occasio/internal/domain"
	"occasio/internal/eventbus"
	"occasio/internal/storage"
	"occasio/internal/transport"
	"occasio/pkg/logx"
)

// lane is the FIFO queue of pending job IDs for one (contact, channel)
// destination. busy is true while a worker owns the lane; at most one job per
// destination is in flight at a time.
type lane struct {
	queue []string
	busy  bool
}

type Service struct {
	cfg        Config
	log        logx.Logger
	bus        eventbus.Bus
	store      storage.Store
	transports *transport.Registry

	now func() time.Time

	mu       sync.Mutex
	running  bool
	jobs     map[string]*domain.DeliveryJob
	lanes    map[string]*lane
	timers   map[string]*time.Timer // promotion and retry timers, keyed by job ID
	limiters map[domain.ChannelType]*rate.Limiter

	ready     chan string // destination keys with a drainable lane
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, store storage.Store, transports *transport.Registry, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		store:      store,
		transports: transports,
		now:        time.Now,
		jobs:       map[string]*domain.DeliveryJob{},
		lanes:      map[string]*lane{},
		timers:     map[string]*time.Timer{},
		limiters:   map[domain.ChannelType]*rate.Limiter{},
		ready:      make(chan string, cfg.ReadyQueueSize),
	}
}

// Start reloads every non-terminal job from the store, re-arms jobs accepted
// while the service was stopped, rebuilds lanes and timers, and launches the
// worker pool. Jobs found in dispatching state were interrupted mid-send;
// their outcome is unknown, so they are re-queued as pending (delivery is
// at-least-once across a crash).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	jobs, err := s.store.ListJobsInStates(ctx, domain.JobScheduled, domain.JobPending, domain.JobDispatching)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	now := s.now()
	recovered := 0
	for i := range jobs {
		j := jobs[i]
		if _, ok := s.jobs[j.ID]; ok {
			continue
		}
		if j.State == domain.JobDispatching {
			j.State = domain.JobPending
			s.persistLocked(&j)
		}
		s.jobs[j.ID] = &j
		switch j.State {
		case domain.JobPending:
			s.enqueueLocked(&j)
		case domain.JobScheduled:
			if !j.ScheduledFor.After(now) {
				s.promoteLocked(&j)
			} else {
				s.armPromotionLocked(&j, j.ScheduledFor.Sub(now))
			}
		}
		recovered++
	}
	// Jobs accepted while the service was stopped are already in memory but
	// lost their promotion timers (or never had one); fold them into the
	// same recovery.
	for _, j := range s.jobs {
		if j.State != domain.JobScheduled {
			continue
		}
		if _, armed := s.timers[j.ID]; armed {
			continue
		}
		if !j.ScheduledFor.After(now) {
			s.promoteLocked(j)
		} else {
			s.armPromotionLocked(j, j.ScheduledFor.Sub(now))
		}
	}
	// Re-signal lanes left with queued work by a previous Stop.
	for dest, l := range s.lanes {
		if len(l.queue) > 0 && !l.busy {
			l.busy = true
			select {
			case s.ready <- dest:
			default:
				l.busy = false
			}
		}
	}
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.log.Info("delivery.started",
		logx.Int("workers", workers),
		logx.Int("recovered_jobs", recovered))
	return nil
}

// Stop halts the workers and stops all armed timers. Queued and scheduled
// jobs stay in the store and are picked up by the next Start. Waits for
// in-flight sends up to ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	for id, tmr := range s.timers {
		tmr.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.runCancel()
		s.log.Info("delivery.stopped")
		return nil
	case <-ctx.Done():
		// Grace period spent; abort in-flight sends.
		s.runCancel()
		<-done
		s.log.Warn("delivery.stop_timeout", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Schedule creates a delivery job for a drafted message. A zero when means
// send now; otherwise when must be strictly in the future.
func (s *Service) Schedule(ctx context.Context, msg domain.DraftedMessage, contact domain.Contact, ch domain.Channel, when time.Time) (domain.DeliveryJob, error) {
	now := s.now()
	immediate := when.IsZero()
	if !immediate && !when.After(now) {
		return domain.DeliveryJob{}, ErrInvalidSchedule
	}

	j := domain.DeliveryJob{
		ID:           uuid.NewString(),
		MessageID:    msg.ID,
		ContactID:    contact.ID,
		Channel:      ch,
		ScheduledFor: when,
		CreatedAt:    now,
	}
	if immediate {
		j.ScheduledFor = now
		j.State = domain.JobPending
	} else {
		j.State = domain.JobScheduled
	}
	if err := s.store.PutJob(ctx, j); err != nil {
		return domain.DeliveryJob{}, err
	}

	s.mu.Lock()
	stored := j
	s.jobs[j.ID] = &stored
	if immediate {
		s.enqueueLocked(&stored)
	} else if s.running {
		s.armPromotionLocked(&stored, when.Sub(now))
	}
	s.mu.Unlock()

	s.log.Info("job.scheduled",
		logx.String("job_id", j.ID),
		logx.String("destination", j.Destination()),
		logx.Time("scheduled_for", j.ScheduledFor),
		logx.Bool("immediate", immediate))
	s.publish("job.scheduled", &j)
	return j, nil
}

// Cancel moves a scheduled or pending job to cancelled. Jobs that are already
// dispatching or terminal cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		// Terminal jobs are evicted from memory at restart; look in the store
		// so the caller gets ErrInvalidState rather than ErrNotFound.
		got, err := s.store.GetJob(ctx, id)
		if err != nil {
			return ErrNotFound
		}
		if got.State.Terminal() {
			return ErrInvalidState
		}
		return ErrNotFound
	}
	if j.State != domain.JobScheduled && j.State != domain.JobPending {
		s.mu.Unlock()
		return ErrInvalidState
	}
	if tmr, ok := s.timers[id]; ok {
		tmr.Stop()
		delete(s.timers, id)
	}
	s.removeFromLaneLocked(j)
	j.State = domain.JobCancelled
	j.CompletedAt = s.now()
	s.persistLocked(j)
	done := *j
	s.mu.Unlock()

	s.log.Info("job.cancelled", logx.String("job_id", id))
	s.publish("job.cancelled", &done)
	return nil
}

// Status reports the current state of a job, falling back to the store for
// jobs that completed before the last restart.
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		st := statusOf(j)
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return Status{}, ErrNotFound
	}
	return statusOf(&j), nil
}

// Snapshot returns queue diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Running:     s.running,
		Workers:     s.cfg.Workers,
		Lanes:       len(s.lanes),
		StateCounts: map[string]int{},
	}
	for _, j := range s.jobs {
		snap.StateCounts[string(j.State)]++
		if j.State == domain.JobDispatching {
			snap.InFlight++
		}
	}
	for _, l := range s.lanes {
		snap.QueuedJobs += len(l.queue)
	}
	return snap
}

func statusOf(j *domain.DeliveryJob) Status {
	return Status{
		ID:           j.ID,
		State:        string(j.State),
		Attempts:     j.Attempts,
		LastError:    j.LastError,
		ScheduledFor: j.ScheduledFor,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// armPromotionLocked arms the one-time timer that moves a scheduled job to
// pending when its send time arrives.
func (s *Service) armPromotionLocked(j *domain.DeliveryJob, d time.Duration) {
	if d < 0 {
		d = 0
	}
	id := j.ID
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		j, ok := s.jobs[id]
		if !ok || j.State != domain.JobScheduled {
			s.mu.Unlock()
			return
		}
		s.promoteLocked(j)
		s.mu.Unlock()
	})
}

func (s *Service) promoteLocked(j *domain.DeliveryJob) {
	j.State = domain.JobPending
	s.persistLocked(j)
	s.enqueueLocked(j)
	published := *j
	s.log.Debug("job.pending", logx.String("job_id", j.ID), logx.String("destination", j.Destination()))
	s.publish("job.pending", &published)
}

// enqueueLocked appends the job to its destination lane and, if no worker owns
// the lane yet, claims it and signals the pool. Claiming before signalling
// keeps the one-in-flight-per-destination invariant: a lane is never in the
// ready channel twice.
func (s *Service) enqueueLocked(j *domain.DeliveryJob) {
	dest := j.Destination()
	l := s.lanes[dest]
	if l == nil {
		l = &lane{}
		s.lanes[dest] = l
	}
	l.queue = append(l.queue, j.ID)
	if !l.busy {
		l.busy = true
		select {
		case s.ready <- dest:
		default:
			// Ready channel full. Release the claim; the lane will be
			// re-signalled by the next enqueue or lane release.
			l.busy = false
			s.log.Warn("delivery.ready_queue_full", logx.String("destination", dest))
		}
	}
}

func (s *Service) removeFromLaneLocked(j *domain.DeliveryJob) {
	l := s.lanes[j.Destination()]
	if l == nil {
		return
	}
	for i, id := range l.queue {
		if id == j.ID {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// persistLocked is the write-through to the store. Persistence failures are
// logged, not propagated: the in-memory state machine keeps going and the
// next successful write repairs the row.
func (s *Service) persistLocked(j *domain.DeliveryJob) {
	if err := s.store.PutJob(context.Background(), *j); err != nil {
		s.log.Error("job.persist_failed", logx.String("job_id", j.ID), logx.Err(err))
	}
}

func (s *Service) publish(typ string, j *domain.DeliveryJob) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Time: s.now(),
		Data: JobEvent{
			ID:       j.ID,
			State:    string(j.State),
			Attempts: j.Attempts,
			Error:    j.LastError,
			At:       s.now(),
		},
	})
}

func (s *Service) limiterFor(t domain.ChannelType) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[t]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
		s.limiters[t] = lim
	}
	return lim
}
