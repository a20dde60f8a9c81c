package guard

import (
	"log/slog"
	"regexp"
	"strings"
)

// Severity values reported by InjectionDetector.
const (
	SeverityNone = "none"
	SeverityHigh = "high"
)

const deflectionMessage = "Hmm, kayaknya kamu coba sesuatu yang nggak biasa nih 😅 Aku di sini untuk bantu hal-hal seputar rumah sakit aja ya. Ada yang bisa aku bantu?"

// InjectionResult is the outcome of InjectionDetector.Detect.
type InjectionResult struct {
	Detected bool
	// Pattern is the name of the signature that matched.
	Pattern  string
	Severity string
	Response string
}

type signature struct {
	name string
	re   *regexp.Regexp
}

// Signatures are matched against lowercased text, in order.
var injectionSignatures = []signature{
	{"ignore_prior_instructions", regexp.MustCompile(`ignore\s+(previous|all|prior)\s+(instruction|prompt|rule)`)},
	{"ignore_all_prior_instructions", regexp.MustCompile(`ignore\s+all\s+(previous|prior)\s+(instruction|prompt|rule)`)},
	{"forget_prior_instructions", regexp.MustCompile(`forget\s+(all\s+)?(previous|all|prior)\s+(instruction|prompt|rule)`)},
	{"disregard_prior_instructions", regexp.MustCompile(`disregard\s+(all\s+)?(previous|all|prior)\s+(instruction|prompt|rule)`)},

	{"unrestricted_persona", regexp.MustCompile(`(you\s+are|act\s+as|pretend\s+to\s+be|roleplay)\s+(a|an)?\s*(evil|uncensored|unfiltered|dan|jailbreak)`)},
	{"dan_mode", regexp.MustCompile(`dan\s+mode`)},
	{"developer_mode", regexp.MustCompile(`developer\s+mode`)},

	{"reveal_system_prompt", regexp.MustCompile(`(show|tell|reveal|display)\s+(me\s+)?(your|the)\s+(system\s+)?(prompt|instruction|rule)`)},
	{"ask_system_prompt", regexp.MustCompile(`what\s+(is|are)\s+your\s+(system\s+)?(prompt|instruction|rule)`)},

	{"bypass_safety", regexp.MustCompile(`bypass\s+(filter|moderation|safety)`)},
	{"ignore_safety", regexp.MustCompile(`ignore\s+(safety|moderation|filter)`)},

	{"abaikan_instruksi", regexp.MustCompile(`abaikan\s+(semua\s+)?(instruksi|perintah|aturan)\s+(sebelumnya|semua)`)},
	{"lupakan_instruksi", regexp.MustCompile(`lupakan\s+(semua\s+)?(instruksi|perintah|aturan)\s+(sebelumnya|semua)`)},
	{"tampilkan_prompt_sistem", regexp.MustCompile(`tampilkan\s+(prompt|instruksi|aturan)\s+sistem`)},
}

// InjectionDetector flags attempts to override the assistant's instructions.
type InjectionDetector struct {
	signatures []signature
	logger     *slog.Logger
}

// NewInjectionDetector creates a detector with the built-in English and
// Indonesian signatures.
func NewInjectionDetector(logger *slog.Logger) *InjectionDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &InjectionDetector{
		signatures: injectionSignatures,
		logger:     logger.With("component", "guard.InjectionDetector"),
	}
}

// Detect reports the first signature found in text.
func (d *InjectionDetector) Detect(text string) InjectionResult {
	lower := strings.ToLower(text)
	for _, sig := range d.signatures {
		if sig.re.MatchString(lower) {
			d.logger.Warn("InjectionDetector.Detect: prompt injection detected", "pattern", sig.name)
			return InjectionResult{
				Detected: true,
				Pattern:  sig.name,
				Severity: SeverityHigh,
				Response: deflectionMessage,
			}
		}
	}
	return InjectionResult{Severity: SeverityNone}
}

// Patterns returns the signature names in match order.
func (d *InjectionDetector) Patterns() []string {
	names := make([]string, len(d.signatures))
	for i, sig := range d.signatures {
		names[i] = sig.name
	}
	return names
}
