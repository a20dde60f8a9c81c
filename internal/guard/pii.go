package guard

import (
	"regexp"

	"github.com/BTreeMap/Kiko/internal/models"
)

// Placeholders substituted for each PII kind.
const (
	PlaceholderEmail      = "[EMAIL]"
	PlaceholderPhone      = "[PHONE]"
	PlaceholderIDNumber   = "[ID_NUMBER]"
	PlaceholderCardNumber = "[CARD_NUMBER]"
)

type piiPattern struct {
	kind        models.PIIKind
	re          *regexp.Regexp
	placeholder string
}

var (
	emailRe     = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phoneRe     = regexp.MustCompile(`\b(08|62|0)\d{8,12}\b`)
	dashPhoneRe = regexp.MustCompile(`\b\d{4}-\d{4}-\d{4}\b`)
	idNumberRe  = regexp.MustCompile(`\b\d{16}\b`)
	cardRe      = regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)
)

// Redaction order: card numbers go before phone and ID so a long digit run
// is replaced whole instead of being split by a shorter pattern.
var redactionOrder = []piiPattern{
	{models.PIIEmail, emailRe, PlaceholderEmail},
	{models.PIICardNumber, cardRe, PlaceholderCardNumber},
	{models.PIIPhone, phoneRe, PlaceholderPhone},
	{models.PIIPhone, dashPhoneRe, PlaceholderPhone},
	{models.PIIIDNumber, idNumberRe, PlaceholderIDNumber},
}

// Detection order only fixes the order kinds are reported in.
var detectionOrder = []piiPattern{
	{models.PIIEmail, emailRe, PlaceholderEmail},
	{models.PIIPhone, phoneRe, PlaceholderPhone},
	{models.PIIPhone, dashPhoneRe, PlaceholderPhone},
	{models.PIIIDNumber, idNumberRe, PlaceholderIDNumber},
	{models.PIICardNumber, cardRe, PlaceholderCardNumber},
}

// PiiGuard detects and redacts emails, phone numbers, national ID numbers and
// card numbers.
type PiiGuard struct{}

// NewPiiGuard returns a PiiGuard.
func NewPiiGuard() *PiiGuard {
	return &PiiGuard{}
}

// Detect returns every PII kind present in text, each at most once. Patterns
// are evaluated independently against the original text.
func (g *PiiGuard) Detect(text string) []models.PIIKind {
	var kinds []models.PIIKind
	seen := make(map[models.PIIKind]bool)
	for _, p := range detectionOrder {
		if seen[p.kind] {
			continue
		}
		if p.re.MatchString(text) {
			seen[p.kind] = true
			kinds = append(kinds, p.kind)
		}
	}
	return kinds
}

// Redact replaces each PII span with its placeholder. Placeholders contain no
// digits or '@', so Redact(Redact(x)) == Redact(x).
func (g *PiiGuard) Redact(text string) string {
	for _, p := range redactionOrder {
		text = p.re.ReplaceAllString(text, p.placeholder)
	}
	return text
}
