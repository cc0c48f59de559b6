package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"occasio/internal/domain"
	"occasio/internal/transport"
	"occasio/pkg/logx"
)

func (s *Service) worker(n int) {
	defer s.wg.Done()
	log := s.log.With(logx.Int("worker", n))
	for {
		select {
		case <-s.stopCh:
			return
		case dest := <-s.ready:
			s.drainLane(dest, log)
		}
	}
}

// drainLane processes the destination lane until it is empty or the service
// stops. The worker owns the lane for the whole drain, so jobs for one
// destination dispatch strictly in FIFO order, one at a time.
func (s *Service) drainLane(dest string, log logx.Logger) {
	for {
		s.mu.Lock()
		l := s.lanes[dest]
		if l == nil || len(l.queue) == 0 {
			if l != nil {
				l.busy = false
			}
			s.mu.Unlock()
			return
		}
		id := l.queue[0]
		l.queue = l.queue[1:]
		j, ok := s.jobs[id]
		if !ok || j.State != domain.JobPending {
			// Cancelled or already handled; skip without touching attempts.
			s.mu.Unlock()
			continue
		}
		j.State = domain.JobDispatching
		s.persistLocked(j)
		job := *j
		s.mu.Unlock()

		s.dispatch(&job, log)

		select {
		case <-s.stopCh:
			s.mu.Lock()
			l.busy = false
			s.mu.Unlock()
			return
		default:
		}
	}
}

// dispatch performs a single send attempt and routes the outcome through
// finish. The transport call is bounded by SendTimeout; a timeout counts as a
// transient failure.
func (s *Service) dispatch(j *domain.DeliveryJob, log logx.Logger) {
	ctx := s.runCtx

	if err := s.limiterFor(j.Channel.Type).Wait(ctx); err != nil {
		s.finish(j, transport.Transient(err), log)
		return
	}

	msg, err := s.store.GetMessage(ctx, j.MessageID)
	if err != nil {
		s.finish(j, transport.Permanent(fmt.Errorf("load message %s: %w", j.MessageID, err)), log)
		return
	}
	tr, ok := s.transports.For(j.Channel.Type)
	if !ok {
		s.finish(j, transport.Permanent(fmt.Errorf("no transport for channel %q", j.Channel.Type)), log)
		return
	}

	log.Debug("job.dispatching",
		logx.String("job_id", j.ID),
		logx.String("destination", j.Destination()),
		logx.Int("attempt", j.Attempts+1))

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = tr.Send(sendCtx, j.Channel, msg.Body)
	cancel()
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = transport.Transient(fmt.Errorf("send timed out after %s: %w", s.cfg.SendTimeout, err))
	}
	s.finish(j, err, log)
}

// finish applies the outcome of one attempt to the job state machine.
func (s *Service) finish(job *domain.DeliveryJob, err error, log logx.Logger) {
	now := s.now()
	s.mu.Lock()
	j, ok := s.jobs[job.ID]
	if !ok {
		s.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		j.State = domain.JobDelivered
		j.LastError = ""
		j.CompletedAt = now
		s.persistLocked(j)
		done := *j
		s.mu.Unlock()
		log.Info("job.delivered",
			logx.String("job_id", done.ID),
			logx.String("destination", done.Destination()),
			logx.Int("attempts", done.Attempts))
		s.publish("job.delivered", &done)

	case s.interrupted(err):
		// Shutdown aborted the attempt before the transport could answer.
		// Not a delivery failure: the job goes back to pending without
		// consuming an attempt and is recovered by the next Start.
		j.State = domain.JobPending
		s.persistLocked(j)
		s.mu.Unlock()
		log.Debug("job.interrupted", logx.String("job_id", job.ID))

	case transport.IsPermanent(err):
		j.Attempts++
		s.failLocked(j, err, now, log)

	default:
		j.Attempts++
		j.LastError = err.Error()
		if j.Attempts >= s.cfg.MaxAttempts {
			s.failLocked(j, err, now, log)
			return
		}
		j.State = domain.JobPending
		s.persistLocked(j)
		delay := s.retryDelay(err, j.Attempts)
		s.armRetryLocked(j.ID, delay)
		pub := *j
		s.mu.Unlock()
		log.Warn("job.retry",
			logx.String("job_id", pub.ID),
			logx.Int("attempts", pub.Attempts),
			logx.Duration("delay", delay),
			logx.Err(err))
		s.publish("job.retry", &pub)
	}
}

// failLocked moves the job to failed. Releases s.mu.
func (s *Service) failLocked(j *domain.DeliveryJob, err error, now time.Time, log logx.Logger) {
	j.State = domain.JobFailed
	j.LastError = err.Error()
	j.CompletedAt = now
	s.persistLocked(j)
	done := *j
	s.mu.Unlock()
	log.Error("job.failed",
		logx.String("job_id", done.ID),
		logx.String("destination", done.Destination()),
		logx.Int("attempts", done.Attempts),
		logx.Err(err))
	s.publish("job.failed", &done)
}

func (s *Service) interrupted(err error) bool {
	if s.runCtx == nil || s.runCtx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled)
}

// armRetryLocked re-enqueues the job into its lane once the backoff elapses.
// The job is already pending; it rejoins the lane at its not-before time, so
// fresher jobs for the same destination may overtake it during the backoff.
func (s *Service) armRetryLocked(id string, d time.Duration) {
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		j, ok := s.jobs[id]
		if !ok || j.State != domain.JobPending || !s.running {
			s.mu.Unlock()
			return
		}
		s.enqueueLocked(j)
		s.mu.Unlock()
	})
}

// retryDelay picks the wait before the next attempt: an explicit retry-after
// hint when the transport supplied one, otherwise exponential backoff with
// jitter. Either way the delay is capped at RetryMaxDelay.
func (s *Service) retryDelay(err error, attempts int) time.Duration {
	if hint, ok := transport.RetryAfterHint(err); ok {
		if hint > s.cfg.RetryMaxDelay {
			hint = s.cfg.RetryMaxDelay
		}
		return hint
	}
	return backoffDelay(s.cfg, attempts)
}

func backoffDelay(cfg Config, retry int) time.Duration {
	// retry starts at 1 (first retry)
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter [1-j, 1+j]
	if cfg.RetryJitter > 0 {
		r := (rand.Float64()*2 - 1) * cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
