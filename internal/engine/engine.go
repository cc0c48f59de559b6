// Package engine wires the calendar index, reminder evaluator, delivery
// scheduler, and collaborators into one façade. Every external surface (CLI,
// HTTP API, tests) goes through the Engine; nothing below it is reachable
// from outside.
package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"occasio/internal/calendar"
	"occasio/internal/delivery"
	"occasio/internal/domain"
	"occasio/internal/eventbus"
	"occasio/internal/reminder"
	"occasio/internal/storage"
	"occasio/internal/suggest"
	"occasio/internal/transport"
	"occasio/pkg/logx"
)

// Options carries the engine-level knobs not owned by a collaborator.
type Options struct {
	// CheckSchedule is the cron expression for the periodic reminder sweep.
	CheckSchedule string

	// Location is the timezone for date-boundary math. Nil means local.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.CheckSchedule == "" {
		o.CheckSchedule = "@every 1m"
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

type Engine struct {
	opts  Options
	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus

	index     *calendar.Index
	evaluator *reminder.Evaluator
	delivery  *delivery.Service
	suggester suggest.Suggester

	cron *cron.Cron
	now  func() time.Time
}

func New(
	opts Options,
	store storage.Store,
	transports *transport.Registry,
	suggester suggest.Suggester,
	reminderCfg reminder.Config,
	deliveryCfg delivery.Config,
	bus eventbus.Bus,
	log logx.Logger,
) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.withDefaults()
	if suggester == nil {
		suggester = DefaultSuggester()
	}
	if bus == nil {
		bus = eventbus.New()
	}

	index := calendar.NewIndex()
	e := &Engine{
		opts:      opts,
		log:       log,
		store:     store,
		bus:       bus,
		index:     index,
		evaluator: reminder.New(reminderCfg, index, store, log.With(logx.String("component", "reminder"))),
		delivery:  delivery.New(deliveryCfg, store, transports, bus, log.With(logx.String("component", "delivery"))),
		suggester: suggester,
		cron:      cron.New(cron.WithLocation(opts.Location)),
		now:       func() time.Time { return time.Now().In(opts.Location) },
	}
	return e
}

// Bus exposes the engine's event bus for observers.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Delivery exposes queue diagnostics.
func (e *Engine) DeliverySnapshot() delivery.Snapshot { return e.delivery.Snapshot() }

// Start loads persisted state into the calendar index, recovers in-flight
// delivery jobs, runs one immediate reminder sweep (covering downtime), and
// arms the periodic sweep.
func (e *Engine) Start(ctx context.Context) error {
	events, err := e.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		e.index.Upsert(ev)
	}
	e.log.Info("engine.index_loaded", logx.Int("events", len(events)))

	if err := e.delivery.Start(ctx); err != nil {
		return err
	}

	if _, err := e.PollReminders(ctx); err != nil {
		e.log.Warn("engine.startup_sweep_failed", logx.Err(err))
	}

	if _, err := e.cron.AddFunc(e.opts.CheckSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.PollReminders(sweepCtx); err != nil {
			e.log.Warn("engine.sweep_failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	e.cron.Start()
	e.log.Info("engine.started", logx.String("check_schedule", e.opts.CheckSchedule))
	return nil
}

// Stop halts the periodic sweep and drains the delivery workers.
func (e *Engine) Stop(ctx context.Context) error {
	cronCtx := e.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	return e.delivery.Stop(ctx)
}

// ApplyReminderConfig swaps the evaluator's settings at runtime (hot reload).
func (e *Engine) ApplyReminderConfig(cfg reminder.Config) {
	e.evaluator.Apply(cfg)
}

// PollReminders runs one reminder sweep at the current time and publishes a
// bus event per raised notice. Safe to call at any time; notices are deduped
// per (event, occurrence year), so overlapping sweeps can't double-remind.
func (e *Engine) PollReminders(ctx context.Context) ([]reminder.Notice, error) {
	notices, err := e.evaluator.Due(ctx, e.now())
	if err != nil {
		return nil, err
	}
	for _, n := range notices {
		e.bus.Publish(eventbus.Event{Type: "reminder.raised", Time: n.RaisedAt, Data: n})
	}
	return notices, nil
}

// DefaultSuggester returns the built-in canned greeting bodies, used when no
// external suggestion service is configured.
func DefaultSuggester() suggest.Suggester {
	return &suggest.Static{
		ByTone: map[domain.Tone][]string{
			domain.ToneCasual: {
				"Happy {occasion}, {name}! Hope it's a great one.",
				"Hey {name}, happy {occasion}! Have an awesome day.",
			},
			domain.ToneFormal: {
				"Dear {name}, wishing you a wonderful {occasion}.",
				"Dear {name}, my warmest wishes on your {occasion}.",
			},
			domain.ToneFriendly: {
				"Happy {occasion}, {name}! Wishing you all the best today and always.",
				"{name}, happy {occasion}! So glad to have you in my life.",
			},
			domain.ToneProfessional: {
				"Happy {occasion}, {name}. Best wishes from all of us.",
				"Wishing you a very happy {occasion}, {name}.",
			},
		},
		Default: []string{"Happy {occasion}, {name}!"},
	}
}
