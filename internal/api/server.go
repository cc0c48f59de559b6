// Package api exposes the engine over a small JSON HTTP surface plus the
// iCalendar feed endpoint. It carries no authentication; bind it to loopback.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"occasio/internal/engine"
	"occasio/pkg/logx"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

type Server struct {
	cfg Config
	log logx.Logger
	eng *engine.Engine
	srv *http.Server
}

func NewServer(cfg Config, eng *engine.Engine, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, log: log, eng: eng}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Calendar subscription endpoint (served to calendar clients).
	r.Get("/calendar.ics", s.calendarFeed)

	r.Route("/api", func(r chi.Router) {
		r.Post("/contacts", s.createContact)
		r.Get("/contacts", s.listContacts)
		r.Post("/contacts/import", s.importContacts)
		r.Get("/contacts/{id}", s.getContact)
		r.Put("/contacts/{id}", s.updateContact)
		r.Delete("/contacts/{id}", s.deleteContact)

		r.Post("/events", s.createEvent)
		r.Get("/events/upcoming", s.upcomingEvents)
		r.Get("/events/on/{date}", s.eventsOnDate)
		r.Get("/events/month/{year}/{month}", s.monthView)
		r.Get("/events/{id}", s.getEvent)
		r.Patch("/events/{id}", s.updateEvent)
		r.Delete("/events/{id}", s.deleteEvent)

		r.Post("/messages/draft", s.draftMessage)
		r.Get("/messages/{id}", s.getMessage)
		r.Post("/messages/{id}/revise", s.reviseMessage)

		r.Post("/deliveries", s.scheduleDelivery)
		r.Get("/deliveries/{id}", s.deliveryStatus)
		r.Delete("/deliveries/{id}", s.cancelDelivery)

		r.Post("/reminders/poll", s.pollReminders)
		r.Get("/status", s.status)
	})
	return r
}

// Start listens and serves until Shutdown. It returns once the listener is
// bound, serving in the background; startup errors (port taken) come back
// synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api.serve_failed", logx.Err(err))
		}
	}()
	s.log.Info("api.listening", logx.String("addr", s.cfg.Addr))
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
