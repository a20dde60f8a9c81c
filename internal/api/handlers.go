package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/store"
	"github.com/BTreeMap/Kiko/internal/util"
)

// User-facing API messages.
const (
	msgFAQMissing        = "Info tidak tersedia"
	msgBookingCreated    = "Janji temu berhasil dibuat"
	msgBookingIncomplete = "Data tidak lengkap"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type faqResponse struct {
	Topic  string `json:"topic"`
	Answer string `json:"answer"`
}

type chatRequest struct {
	Identity string `json:"identity,omitempty"`
	Message  string `json:"message"`
}

type chatResponse struct {
	Identity models.Identity    `json:"identity"`
	Reply    models.IntentReply `json:"reply"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.opts.Version})
}

func (s *Server) doctorsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.dir.Doctors()))
}

// faqHandler answers with a 200 even for unknown topics so the front-end can
// show the fallback text directly.
func (s *Server) faqHandler(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	answer, ok := s.dir.FAQ(topic)
	if !ok {
		answer = msgFAQMissing
	}
	writeJSONResponse(w, http.StatusOK, models.Success(faqResponse{Topic: topic, Answer: answer}))
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.chatHandler: invalid JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	id := s.resolveIdentity(w, r, req.Identity)
	reply, err := s.chat.Handle(r.Context(), id, req.Message)
	if err != nil {
		if errors.Is(err, models.ErrEmptyIdentity) {
			writeError(w, http.StatusBadRequest, "Invalid identity")
			return
		}
		slog.Error("Server.chatHandler: chat turn failed", "identity", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}
	writeJSONResponse(w, http.StatusOK, chatResponse{Identity: id, Reply: reply})
}

// resolveIdentity picks the header, then the body field, then the session
// cookie. Browsers without any of these get a fresh identity cookie.
// Client-supplied values are confined to the web namespace so they can never
// name a messaging-channel user.
func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request, fromBody string) models.Identity {
	if h := strings.TrimSpace(r.Header.Get(IdentityHeader)); h != "" {
		return webIdentity(h)
	}
	if b := strings.TrimSpace(fromBody); b != "" {
		return webIdentity(b)
	}
	if c, err := r.Cookie(IdentityCookie); err == nil && c.Value != "" {
		return webIdentity(c.Value)
	}
	id := util.GenerateWebIdentity()
	http.SetCookie(w, &http.Cookie{
		Name:     IdentityCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   30 * 24 * 60 * 60,
	})
	return models.Identity(id)
}

func webIdentity(v string) models.Identity {
	if strings.HasPrefix(v, util.WebIdentityPrefix) {
		return models.Identity(v)
	}
	return models.Identity(util.WebIdentityPrefix + v)
}

func (s *Server) bookAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var appt models.Appointment
	if err := decodeJSON(w, r, &appt); err != nil {
		slog.Warn("Server.bookAppointmentHandler: invalid JSON", "error", err)
		writeError(w, http.StatusBadRequest, msgBookingIncomplete)
		return
	}
	appt.ID = ""
	if err := appt.Validate(); err != nil {
		slog.Debug("Server.bookAppointmentHandler: validation failed", "error", err)
		writeError(w, http.StatusBadRequest, msgBookingIncomplete)
		return
	}
	if err := s.opts.Appointments.RecordAppointment(r.Context(), &appt); err != nil {
		slog.Error("Server.bookAppointmentHandler: failed to record appointment", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to record appointment")
		return
	}
	slog.Info("Server.bookAppointmentHandler: appointment recorded", "id", appt.ID, "doctor_id", appt.DoctorRef)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage(msgBookingCreated, appt))
}

func (s *Server) rateLimitHandler(w http.ResponseWriter, r *http.Request) {
	id := models.Identity(chi.URLParam(r, "identity"))
	if err := id.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid identity")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.opts.Usage.Stats(id)))
}

func (s *Server) securityEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := store.DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.opts.SecurityLog.SecurityEvents(r.Context(), models.Identity(q.Get("identity")), limit)
	if err != nil {
		slog.Error("Server.securityEventsHandler: failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list security events")
		return
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}
