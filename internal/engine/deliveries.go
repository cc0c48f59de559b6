package engine

import (
	"context"
	"fmt"
	"time"

	"occasio/internal/delivery"
	"occasio/internal/domain"
)

// ScheduleDelivery commits a drafted message to one of the contact's channels.
// channel "" picks the contact's preferred channel. A zero when means send
// now; otherwise when must be strictly in the future.
func (e *Engine) ScheduleDelivery(ctx context.Context, messageID string, channel domain.ChannelType, when time.Time) (domain.DeliveryJob, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return domain.DeliveryJob{}, err
	}
	if msg.ContactID == "" {
		return domain.DeliveryJob{}, fmt.Errorf("%w: message has no contact", domain.ErrValidation)
	}
	c, err := e.store.GetContact(ctx, msg.ContactID)
	if err != nil {
		return domain.DeliveryJob{}, err
	}

	var ch domain.Channel
	if channel == "" {
		got, ok := c.PreferredChannel()
		if !ok {
			return domain.DeliveryJob{}, fmt.Errorf("%w: contact %s has no channels", domain.ErrValidation, c.ID)
		}
		ch = got
	} else {
		got, ok := c.ChannelFor(channel)
		if !ok {
			return domain.DeliveryJob{}, fmt.Errorf("%w: contact %s has no %s channel", domain.ErrValidation, c.ID, channel)
		}
		ch = got
	}

	return e.delivery.Schedule(ctx, msg, c, ch, when)
}

// CancelDelivery cancels a scheduled or pending job.
func (e *Engine) CancelDelivery(ctx context.Context, jobID string) error {
	return e.delivery.Cancel(ctx, jobID)
}

// DeliveryStatus reports a job's current state.
func (e *Engine) DeliveryStatus(ctx context.Context, jobID string) (delivery.Status, error) {
	return e.delivery.Status(ctx, jobID)
}
