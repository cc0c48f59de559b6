package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"occasio/internal/delivery"
	"occasio/internal/domain"
	"occasio/internal/engine"
	"occasio/internal/storage"
	"occasio/internal/suggest"
	"occasio/pkg/logx"
)

// maxImportBody caps vCard uploads.
const maxImportBody = 8 << 20

// --- contacts ---

func (s *Server) createContact(w http.ResponseWriter, r *http.Request) {
	var req contactDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c, err := fromContactDTO(req)
	if err != nil {
		jsonError(w, "birthday/anniversary must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	c.ID = "" // server-assigned
	created, err := s.eng.CreateContact(r.Context(), c)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, toContactDTO(created))
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.eng.ListContacts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]contactDTO, 0, len(list))
	for _, c := range list {
		out = append(out, toContactDTO(c))
	}
	jsonOK(w, http.StatusOK, out)
}

func (s *Server) getContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.eng.GetContact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toContactDTO(c))
}

func (s *Server) updateContact(w http.ResponseWriter, r *http.Request) {
	var req contactDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c, err := fromContactDTO(req)
	if err != nil {
		jsonError(w, "birthday/anniversary must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	c.ID = chi.URLParam(r, "id")
	updated, err := s.eng.UpdateContact(r.Context(), c)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toContactDTO(updated))
}

func (s *Server) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DeleteContact(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importContacts accepts a raw vCard stream (text/vcard) in the body.
func (s *Server) importContacts(w http.ResponseWriter, r *http.Request) {
	stored, err := s.eng.ImportContacts(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]contactDTO, 0, len(stored))
	for _, c := range stored {
		out = append(out, toContactDTO(c))
	}
	jsonOK(w, http.StatusCreated, out)
}

// --- events ---

type createEventReq struct {
	Title           string   `json:"title"`
	Date            string   `json:"date"` // YYYY-MM-DD
	Category        string   `json:"category"`
	ContactIDs      []string `json:"contact_ids"`
	ReminderEnabled *bool    `json:"reminder_enabled,omitempty"` // default true
	Notes           string   `json:"notes,omitempty"`
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	reminders := true
	if req.ReminderEnabled != nil {
		reminders = *req.ReminderEnabled
	}
	ev, err := s.eng.CreateEvent(r.Context(), domain.Event{
		Title:           req.Title,
		Date:            date,
		Category:        domain.EventCategory(req.Category),
		ContactIDs:      req.ContactIDs,
		ReminderEnabled: reminders,
		Notes:           req.Notes,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, toEventDTO(ev))
}

func (s *Server) upcomingEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	jsonOK(w, http.StatusOK, toEventDTOs(s.eng.ListUpcoming(limit)))
}

func (s *Server) eventsOnDate(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(dateLayout, chi.URLParam(r, "date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	jsonOK(w, http.StatusOK, toEventDTOs(s.eng.EventsOnDate(date)))
}

func (s *Server) monthView(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		jsonError(w, "year must be an integer", http.StatusBadRequest)
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		jsonError(w, "month must be 1-12", http.StatusBadRequest)
		return
	}
	view := s.eng.MonthView(year, time.Month(month))
	out := make(map[int][]eventDTO, len(view))
	for day, events := range view {
		out[day] = toEventDTOs(events)
	}
	jsonOK(w, http.StatusOK, out)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.eng.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toEventDTO(ev))
}

type patchEventReq struct {
	Title           *string   `json:"title,omitempty"`
	Date            *string   `json:"date,omitempty"` // YYYY-MM-DD
	Category        *string   `json:"category,omitempty"`
	ContactIDs      *[]string `json:"contact_ids,omitempty"`
	ReminderEnabled *bool     `json:"reminder_enabled,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

func (s *Server) updateEvent(w http.ResponseWriter, r *http.Request) {
	var req patchEventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var p engine.EventPatch
	p.Title = req.Title
	if req.Date != nil {
		d, err := time.Parse(dateLayout, *req.Date)
		if err != nil {
			jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		p.Date = &d
	}
	if req.Category != nil {
		c := domain.EventCategory(*req.Category)
		p.Category = &c
	}
	p.ContactIDs = req.ContactIDs
	p.ReminderEnabled = req.ReminderEnabled
	p.Notes = req.Notes

	ev, err := s.eng.UpdateEvent(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toEventDTO(ev))
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- messages ---

type draftReq struct {
	EventID   string `json:"event_id"`
	ContactID string `json:"contact_id"`
	Tone      string `json:"tone,omitempty"`
}

func (s *Server) draftMessage(w http.ResponseWriter, r *http.Request) {
	var req draftReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" || req.ContactID == "" {
		jsonError(w, "event_id and contact_id are required", http.StatusBadRequest)
		return
	}
	draft, err := s.eng.DraftMessage(r.Context(), req.EventID, req.ContactID, domain.Tone(req.Tone))
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, draftDTO{
		Message:    toMessageDTO(draft.Message),
		Candidates: draft.Candidates,
	})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.eng.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toMessageDTO(m))
}

type reviseReq struct {
	Body string `json:"body"`
}

func (s *Server) reviseMessage(w http.ResponseWriter, r *http.Request) {
	var req reviseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rev, err := s.eng.ReviseMessage(r.Context(), chi.URLParam(r, "id"), req.Body)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, toMessageDTO(rev))
}

// --- deliveries ---

type scheduleReq struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel,omitempty"` // empty = contact's preferred
	When      string `json:"when,omitempty"`    // RFC 3339; empty = send now
}

func (s *Server) scheduleDelivery(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MessageID == "" {
		jsonError(w, "message_id is required", http.StatusBadRequest)
		return
	}
	var when time.Time
	if req.When != "" {
		t, err := time.Parse(time.RFC3339, req.When)
		if err != nil {
			jsonError(w, "when must be RFC 3339 format", http.StatusBadRequest)
			return
		}
		when = t
	}
	var channel domain.ChannelType
	if req.Channel != "" {
		t, err := domain.ParseChannelType(req.Channel)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		channel = t
	}
	job, err := s.eng.ScheduleDelivery(r.Context(), req.MessageID, channel, when)
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, jobDTO{
		ID:           job.ID,
		State:        string(job.State),
		ScheduledFor: job.ScheduledFor,
		CreatedAt:    job.CreatedAt,
	})
}

func (s *Server) deliveryStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.DeliveryStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toJobDTO(st))
}

func (s *Server) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.CancelDelivery(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- reminders / diagnostics ---

func (s *Server) pollReminders(w http.ResponseWriter, r *http.Request) {
	notices, err := s.eng.PollReminders(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	jsonOK(w, http.StatusOK, toNoticeDTOs(notices))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.eng.DeliverySnapshot()
	jsonOK(w, http.StatusOK, map[string]any{
		"running":      snap.Running,
		"workers":      snap.Workers,
		"lanes":        snap.Lanes,
		"queued_jobs":  snap.QueuedJobs,
		"in_flight":    snap.InFlight,
		"state_counts": snap.StateCounts,
	})
}

func (s *Server) calendarFeed(w http.ResponseWriter, _ *http.Request) {
	feed, err := s.eng.CalendarFeed("Occasio")
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(feed)
}

// --- helpers ---

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, delivery.ErrInvalidSchedule):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, delivery.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, delivery.ErrInvalidState):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, suggest.ErrNoSuggestions):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.Error("api.request_failed", logx.Err(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
