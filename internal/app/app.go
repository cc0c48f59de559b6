// Package app assembles occasiond: config, logging, storage, transports,
// engine, API. The binary in cmd/occasiond is a thin shell around App.
package app

import (
	"context"
	"time"

	"occasio/internal/api"
	"occasio/internal/config"
	"occasio/internal/delivery"
	"occasio/internal/domain"
	"occasio/internal/engine"
	"occasio/internal/reminder"
	"occasio/internal/storage"
	"occasio/internal/suggest"
	"occasio/internal/transport"
	"occasio/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logSvc *logx.Service
	log    logx.Logger

	store storage.Store
	eng   *engine.Engine
	api   *api.Server

	stopWatch context.CancelFunc
}

// New builds the whole dependency graph from the config file. Nothing runs
// yet; Start does that.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("component", "app"))
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	storeCfg := storage.Config{}
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		storeCfg = storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, err
	}

	deliveryCfg, err := deliveryConfig(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	var loc *time.Location
	if tz := cfg.Reminders.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
	}

	eng := engine.New(
		engine.Options{
			CheckSchedule: cfg.Reminders.CheckSchedule,
			Location:      loc,
		},
		store,
		defaultTransports(log),
		suggesterFrom(cfg.Suggestions),
		reminder.Config{LeadDays: cfg.Reminders.LeadDays},
		deliveryCfg,
		nil,
		log.With(logx.String("component", "engine")),
	)

	a := &App{
		cfgm:   cfgm,
		cfg:    cfg,
		logSvc: logSvc,
		log:    log,
		store:  store,
		eng:    eng,
	}
	if cfg.API.Enabled {
		apiCfg, err := apiConfig(cfg.API)
		if err != nil {
			return nil, err
		}
		a.api = api.NewServer(apiCfg, eng, log.With(logx.String("component", "api")))
	}
	return a, nil
}

func (a *App) Engine() *engine.Engine { return a.eng }

func (a *App) Start(ctx context.Context) error {
	if err := a.eng.Start(ctx); err != nil {
		return err
	}
	if a.api != nil {
		if err := a.api.Start(); err != nil {
			return err
		}
	}

	// Hot reload: watch the config file and apply the reloadable subset
	// (logging, reminder window). Structural settings (storage driver, API
	// address, worker counts) require a restart.
	watchCtx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	go func() { _ = a.cfgm.Watch(watchCtx) }()
	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-watchCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(newCfg)
			}
		}
	}()

	a.log.Info("app.started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.eng.ApplyReminderConfig(reminder.Config{LeadDays: cfg.Reminders.LeadDays})
	a.cfg = cfg
	a.log.Info("app.config_applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.api != nil {
		if err := a.api.Shutdown(ctx); err != nil {
			a.log.Warn("app.api_shutdown_failed", logx.Err(err))
		}
	}
	err := a.eng.Stop(ctx)
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("app.stopped")
	_ = a.logSvc.Close()
	return err
}

// defaultTransports registers a log-only transport per channel type. Real
// provider integrations replace these via transport.Registry; out of the box
// the daemon records what it would have sent.
func defaultTransports(log logx.Logger) *transport.Registry {
	reg := transport.NewRegistry()
	for _, t := range []domain.ChannelType{domain.ChannelSMS, domain.ChannelWhatsApp, domain.ChannelTelegram} {
		t := t
		tlog := log.With(logx.String("component", "transport"), logx.String("channel", string(t)))
		reg.Register(t, transport.Func(func(_ context.Context, ch domain.Channel, body string) error {
			tlog.Info("send.dry_run",
				logx.String("address", ch.Address),
				logx.Int("body_len", len(body)))
			return nil
		}))
	}
	return reg
}

func suggesterFrom(cfg *config.SuggestionsConfig) suggest.Suggester {
	if cfg == nil {
		return nil // engine falls back to its built-in bodies
	}
	s := &suggest.Static{
		ByTone:  map[domain.Tone][]string{},
		Default: cfg.Default,
	}
	for tone, bodies := range cfg.ByTone {
		s.ByTone[domain.Tone(tone)] = bodies
	}
	return s
}

func deliveryConfig(c config.DeliveryConfig) (delivery.Config, error) {
	base, err := config.ParseDurationField("delivery.retry_base", c.RetryBase)
	if err != nil {
		return delivery.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("delivery.retry_max_delay", c.RetryMaxDelay)
	if err != nil {
		return delivery.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("delivery.send_timeout", c.SendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		Workers:        c.Workers,
		MaxAttempts:    c.MaxAttempts,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
		RetryJitter:    c.RetryJitter,
		SendTimeout:    sendTimeout,
		RatePerSec:     c.RatePerSec,
		ReadyQueueSize: c.QueueSize,
	}, nil
}

func apiConfig(c config.APIConfig) (api.Config, error) {
	read, err := config.ParseDurationField("api.read_timeout", c.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("api.write_timeout", c.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("api.idle_timeout", c.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{Addr: c.Addr, ReadTimeout: read, WriteTimeout: write, IdleTimeout: idle}, nil
}
