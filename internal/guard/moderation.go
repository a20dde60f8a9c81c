package guard

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Kiko/internal/models"
)

// MedicalDisclaimer is appended to replies on sensitive but allowed topics.
const MedicalDisclaimer = "\n\n⚠️ **Disclaimer**: Aku bukan profesional kesehatan. Untuk masalah serius, konsultasikan dengan dokter ya!"

const refusalMessage = "Maaf, aku nggak bisa bantu dengan topik itu. Ada hal lain yang bisa aku bantu seputar layanan rumah sakit? 😊"

const crisisFmt = "Aku khawatir dengan apa yang kamu rasakan 💙. " +
	"Kalau kamu butuh bantuan, silakan hubungi:\n\n" +
	"🆘 **Hotline Crisis Centre**\n" +
	"📞 (021) 500-454 atau 119\n\n" +
	"Atau bisa langsung konsultasi dengan %s (%s) di RS kami:\n" +
	"📞 %s\n" +
	"⏰ %s"

type category struct {
	name     models.ModerationCategory
	keywords []string
}

// Checked in this order; self_harm is additionally given precedence over
// every other category.
var harmfulCategories = []category{
	{models.CategoryViolence, []string{"bunuh", "membunuh", "tikam", "tembak", "ledak", "bom", "teror"}},
	{models.CategorySexual, []string{"seks", "telanjang", "porno", "ngentot", "kontol", "memek"}},
	{models.CategoryHateSpeech, []string{"anjing", "babi", "monyet", "kafir", "bego", "tolol", "goblok"}},
	{models.CategoryIllegal, []string{"narkoba", "sabu", "ganja", "kokain", "heroin", "ekstasi"}},
	{models.CategorySelfHarm, []string{"bunuh diri", "suicide", "mau mati", "pengen mati"}},
}

var medicalSensitiveTopics = []string{
	"aborsi", "bunuh diri", "overdosis", "kecanduan", "drugs",
	"depresi berat", "skizofrenia", "psikosis",
}

// DefaultCrisisContact is the psychiatrist referred to in crisis responses.
var DefaultCrisisContact = models.Doctor{
	Name:      "Dr. Jonathan Hutapea",
	Specialty: "Psikiatri",
	Schedule:  "Rabu-Jumat 13:00-19:00",
	Contact:   "0896-3309-7878",
}

// CrisisContactSource supplies the psychiatrist for crisis referrals. It is
// consulted on every self_harm match so roster reloads take effect at once.
type CrisisContactSource interface {
	PsychiatryContact() (models.Doctor, bool)
}

// ContentModerator screens text for harmful categories and sensitive topics.
// Matching is a plain substring scan over lowercased text, so a keyword
// inside a longer harmless word still matches.
type ContentModerator struct {
	categories []category
	sensitive  []string
	crisis     string
	source     CrisisContactSource
	logger     *slog.Logger
}

// ModeratorOption configures a ContentModerator.
type ModeratorOption func(*ContentModerator)

// WithCrisisContact sets the doctor named in the crisis-resource response.
func WithCrisisContact(d models.Doctor) ModeratorOption {
	return func(m *ContentModerator) { m.crisis = crisisResponse(d) }
}

// WithCrisisSource looks the crisis contact up from src on each referral,
// falling back to the fixed contact when src has no psychiatrist.
func WithCrisisSource(src CrisisContactSource) ModeratorOption {
	return func(m *ContentModerator) { m.source = src }
}

// WithModeratorLogger sets the logger.
func WithModeratorLogger(l *slog.Logger) ModeratorOption {
	return func(m *ContentModerator) { m.logger = l }
}

// NewContentModerator creates a moderator with the built-in keyword sets.
func NewContentModerator(opts ...ModeratorOption) *ContentModerator {
	m := &ContentModerator{
		categories: harmfulCategories,
		sensitive:  medicalSensitiveTopics,
		crisis:     crisisResponse(DefaultCrisisContact),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "guard.ContentModerator")
	return m
}

// Moderate classifies text. A self_harm match always wins and yields the
// crisis response; any other harmful match yields a refusal for the first
// category found. Sensitive topics are only checked when nothing harmful
// matched and never block.
func (m *ContentModerator) Moderate(text string) models.ModerationVerdict {
	lower := strings.ToLower(text)

	if kw, ok := m.match(lower, models.CategorySelfHarm); ok {
		m.logger.Warn("ContentModerator.Moderate: harmful content detected", "category", models.CategorySelfHarm, "keyword", kw)
		return models.ModerationVerdict{
			Category: models.CategorySelfHarm,
			Keyword:  kw,
			Response: m.crisisResponse(),
		}
	}

	for _, c := range m.categories {
		if c.name == models.CategorySelfHarm {
			continue
		}
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				m.logger.Warn("ContentModerator.Moderate: harmful content detected", "category", c.name, "keyword", kw)
				return models.ModerationVerdict{
					Category: c.name,
					Keyword:  kw,
					Response: refusalMessage,
				}
			}
		}
	}

	for _, topic := range m.sensitive {
		if strings.Contains(lower, topic) {
			m.logger.Info("ContentModerator.Moderate: sensitive medical topic", "topic", topic)
			return models.ModerationVerdict{
				Safe:       true,
				Category:   models.CategoryMedicalSensitive,
				Keyword:    topic,
				Disclaimer: MedicalDisclaimer,
			}
		}
	}

	return models.ModerationVerdict{Safe: true, Category: models.CategoryClean}
}

func (m *ContentModerator) match(lower string, name models.ModerationCategory) (string, bool) {
	for _, c := range m.categories {
		if c.name != name {
			continue
		}
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

func (m *ContentModerator) crisisResponse() string {
	if m.source != nil {
		if d, ok := m.source.PsychiatryContact(); ok {
			return crisisResponse(d)
		}
	}
	return m.crisis
}

func crisisResponse(d models.Doctor) string {
	return fmt.Sprintf(crisisFmt, d.Name, d.Specialty, d.Contact, d.Schedule)
}
