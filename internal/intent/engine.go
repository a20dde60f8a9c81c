// Package intent implements Kiko's rule-based intent engine: a priority
// ordered list of keyword and pattern rules with one slot of conversational
// memory (the pending intent).
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Kiko/internal/directory"
	"github.com/BTreeMap/Kiko/internal/guard"
	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/util"
)

// Directory is the read-only reference data the engine consults.
type Directory interface {
	Hospital() directory.Hospital
	Doctors() []models.Doctor
	Department(key string) []models.Doctor
	FindDoctor(name string) (models.Doctor, bool)
	FAQ(topic string) (string, bool)
	Phrases(set string) []string
	MoodEmojis(mood string) []string
	PsychiatryContact() (models.Doctor, bool)
}

// AppointmentRecorder persists a confirmed booking.
type AppointmentRecorder interface {
	RecordAppointment(ctx context.Context, a *models.Appointment) error
}

// Redactor masks PII in user text that is echoed back in a reply.
type Redactor interface {
	Redact(text string) string
}

var (
	yesTokens = map[string]bool{"iya": true, "ya": true, "yes": true, "yep": true, "y": true, "yoi": true, "oke": true, "ok": true, "boleh": true}
	noTokens  = map[string]bool{"tidak": true, "kagak": true, "no": true, "ga": true, "g": true, "nono": true, "gak": true, "engga": true}
)

const (
	replyCounselingConfirmed = "💙 Baik, saya senang Anda mau berbagi. Silakan ceritakan apa yang sedang Anda rasakan."
	replyBookingDataRequest  = "👍 Baik! Untuk membuat janji temu, silakan berikan:<br>1. Nama lengkap<br>2. Nomor kontak<br>3. Dokter pilihan<br>4. Tanggal & waktu"
	replyDeclined            = "😊 Tidak apa-apa! Ada yang bisa saya bantu dengan hal lain?"
	replyBookingSaveFailed   = "❌ Maaf, gagal menyimpan janji temu."
	replyDoctorNotFoundFmt   = "❌ Dokter '%s' tidak ditemukan."
	replyBookingConfirmedFmt = "✅ <b>Janji temu berhasil dibuat!</b><br><br>Pasien: %s<br>Dokter: %s<br>Tanggal & Waktu: %s<br>Kontak: %s<br><br>Silakan datang 15 menit sebelumnya. Untuk perubahan, hubungi %s"
	replyBookingFormatFmt    = "%s Format: <b>Nama, Nomor HP, Dr. [Nama Dokter], tanggal [tanggal] jam [waktu]</b><br>Contoh: <i>Budi, 08123456789, Dr. Arifudin, tanggal 30 Desember jam 10:00</i>"
	replyCounselingEntryFmt  = "💙 Saya di sini untuk mendengarkan. Untuk konseling lebih mendalam, saya bisa menghubungkan Anda dengan <b>%s</b> (%s).<br><br>Jadwal: %s<br>Kontak: %s<br><br>Atau mau cerita dulu ke saya?"
)

// Engine matches a message against Kiko's rules. It holds no per-identity
// state; the caller passes the ConversationState in and persists the
// returned one.
type Engine struct {
	dir      Directory
	parser   BookingParser
	recorder AppointmentRecorder
	redactor Redactor
	rules    []rule
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBookingParser replaces the default regex booking grammar.
func WithBookingParser(p BookingParser) Option {
	return func(e *Engine) { e.parser = p }
}

// WithRecorder sets where confirmed bookings are persisted.
func WithRecorder(r AppointmentRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithRedactor sets the PII redactor applied to echoed user text.
func WithRedactor(r Redactor) Option {
	return func(e *Engine) { e.redactor = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over dir.
func NewEngine(dir Directory, opts ...Option) *Engine {
	e := &Engine{
		dir:    dir,
		parser: RegexBookingParser{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.redactor == nil {
		e.redactor = guard.NewPiiGuard()
	}
	e.rules = defaultRules()
	return e
}

// turn is the per-call context shared by the rules.
type turn struct {
	text  string
	lower string
	mood  Mood
	emoji string
	next  *models.ConversationState
}

// Match evaluates text against the rules. It returns nil when nothing
// matched, in which case the caller escalates to the language model. The
// returned state always has any pending intent from state consumed.
func (e *Engine) Match(ctx context.Context, text string, state models.ConversationState) (*models.IntentReply, models.ConversationState) {
	next := state
	next.Pending = models.PendingNone

	t := &turn{
		text:  text,
		lower: strings.ToLower(text),
		next:  &next,
	}
	t.mood = AnalyzeMood(text)
	t.emoji = util.PickOne(e.dir.MoodEmojis(string(t.mood)), defaultEmoji)

	if state.Pending != models.PendingNone {
		if r := e.answerPending(t, state.Pending); r != nil {
			e.logger.Debug("Engine.Match: pending intent answered", "identity", state.Identity, "pending", state.Pending, "intent", r.Intent)
			return r, next
		}
		e.logger.Debug("Engine.Match: pending intent dropped", "identity", state.Identity, "pending", state.Pending)
	}

	if r := e.matchBooking(ctx, t, state.Identity); r != nil {
		return r, next
	}

	for _, rl := range e.rules {
		if r := rl.apply(e, t); r != nil {
			e.logger.Debug("Engine.Match: rule matched", "identity", state.Identity, "rule", rl.name, "intent", r.Intent)
			return r, next
		}
	}
	return nil, next
}

func (e *Engine) answerPending(t *turn, pending models.PendingIntent) *models.IntentReply {
	answer := strings.TrimSpace(t.lower)
	switch {
	case yesTokens[answer]:
		switch pending {
		case models.PendingCounseling:
			return &models.IntentReply{Intent: models.IntentCounselingConfirmed, Reply: replyCounselingConfirmed}
		case models.PendingBooking:
			return &models.IntentReply{Intent: models.IntentBookAppointment, Reply: replyBookingDataRequest}
		}
	case noTokens[answer]:
		return &models.IntentReply{Intent: models.IntentSmalltalk, Reply: replyDeclined}
	}
	return nil
}

func (e *Engine) matchBooking(ctx context.Context, t *turn, id models.Identity) *models.IntentReply {
	req, ok := e.parser.Parse(t.text)
	if !ok {
		return nil
	}
	doc, ok := e.dir.FindDoctor(req.DoctorName)
	if !ok {
		name := e.redactor.Redact(req.DoctorName)
		e.logger.Info("Engine.matchBooking: doctor not found", "identity", id, "doctor", name)
		return &models.IntentReply{Intent: models.IntentBookingError, Reply: fmt.Sprintf(replyDoctorNotFoundFmt, name)}
	}

	appt := &models.Appointment{
		Identity:    id,
		PatientName: req.PatientName,
		Contact:     req.Contact,
		DoctorRef:   doc.Contact,
		Date:        req.Date,
		Time:        req.Time,
	}
	if err := e.record(ctx, appt); err != nil {
		e.logger.Error("Engine.matchBooking: failed to record appointment", "identity", id, "doctor", doc.Name, "error", err)
		return &models.IntentReply{Intent: models.IntentBookingError, Reply: replyBookingSaveFailed}
	}

	e.logger.Info("Engine.matchBooking: appointment recorded", "identity", id, "doctor", doc.Name, "date", req.Date, "time", req.Time)
	return &models.IntentReply{
		Intent: models.IntentBookingConfirmed,
		Reply:  fmt.Sprintf(replyBookingConfirmedFmt, req.PatientName, doc.Name, req.DateTime, req.Contact, doc.Contact),
	}
}

func (e *Engine) record(ctx context.Context, a *models.Appointment) error {
	if e.recorder == nil {
		return fmt.Errorf("%w: no appointment recorder configured", models.ErrBookingPersistence)
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrBookingPersistence, err)
	}
	if err := e.recorder.RecordAppointment(ctx, a); err != nil {
		if errors.Is(err, models.ErrBookingPersistence) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrBookingPersistence, err)
	}
	return nil
}
