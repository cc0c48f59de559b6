// Package transport defines the channel-transport collaborator interface.
//
// The engine never implements SMS/WhatsApp/Telegram delivery itself; it only
// decides when a prepared message is handed to a Transport and classifies the
// outcome. Wire protocols live entirely behind this interface.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"occasio/internal/domain"
)

// Transport sends one message body to one channel address.
//
// Implementations should return errors wrapped with Transient or Permanent so
// the dispatch worker can pick a retry policy. Unclassified errors are treated
// as transient.
type Transport interface {
	Send(ctx context.Context, ch domain.Channel, body string) error
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, ch domain.Channel, body string) error

func (f Func) Send(ctx context.Context, ch domain.Channel, body string) error {
	return f(ctx, ch, body)
}

// Registry maps channel types to their transports.
type Registry struct {
	mu sync.RWMutex
	m  map[domain.ChannelType]Transport
}

func NewRegistry() *Registry {
	return &Registry{m: map[domain.ChannelType]Transport{}}
}

func (r *Registry) Register(t domain.ChannelType, tr Transport) {
	r.mu.Lock()
	r.m[t] = tr
	r.mu.Unlock()
}

// For returns the transport registered for the channel type.
func (r *Registry) For(t domain.ChannelType) (Transport, bool) {
	r.mu.RLock()
	tr, ok := r.m[t]
	r.mu.RUnlock()
	return tr, ok
}

// ---- Error classification ----

// Transient marks a send failure as retryable (rate limit, timeout, flaky
// network). The worker will back off and try again.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// Permanent marks a send failure as non-retryable (invalid address, rejected
// recipient). The worker fails the job immediately, regardless of remaining
// attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// RetryAfter marks a transient failure that carries an explicit retry delay,
// e.g. a provider 429 with a Retry-After header. The worker respects the hint
// (bounded by its max backoff) instead of its computed delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{transientError: transientError{err: err}, after: after}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

// RetryAfterHint extracts an explicit retry delay if err carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e retryAfterError
	if errors.As(err, &e) {
		return e.after, true
	}
	return 0, false
}

type transientError struct{ err error }

func (e transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

type retryAfterError struct {
	transientError
	after time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("transient(retry-after %s): %v", e.after, e.err)
}
