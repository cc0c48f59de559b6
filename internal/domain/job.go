package domain

import "time"

// JobState is the lifecycle state of a delivery job.
//
//	Scheduled --(scheduled time reached)--> Pending
//	Pending --(worker picks up)--> Dispatching
//	Dispatching --(send ok)--> Delivered
//	Dispatching --(transient, attempts < max)--> Pending (after backoff)
//	Dispatching --(transient, attempts == max)--> Failed
//	Dispatching --(permanent)--> Failed
//	Pending | Scheduled --(cancel)--> Cancelled
type JobState string

const (
	JobScheduled   JobState = "scheduled"
	JobPending     JobState = "pending"
	JobDispatching JobState = "dispatching"
	JobDelivered   JobState = "delivered"
	JobFailed      JobState = "failed"
	JobCancelled   JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobDelivered || s == JobFailed || s == JobCancelled
}

// DeliveryJob commits one drafted message to one channel at one time.
// Jobs are created by the delivery scheduler, mutated only by the dispatch
// worker, and retained after completion for history.
type DeliveryJob struct {
	ID           string
	MessageID    string
	ContactID    string
	Channel      Channel
	ScheduledFor time.Time // equals CreatedAt for "send now"
	State        JobState
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	CompletedAt  time.Time // zero until a terminal state is reached
}

// Destination identifies the (contact, channel) pair a job delivers to.
// At most one job per destination is dispatched at a time, and jobs for the
// same destination go out in the order they became pending.
func (j *DeliveryJob) Destination() string {
	return j.ContactID + "/" + string(j.Channel.Type)
}
