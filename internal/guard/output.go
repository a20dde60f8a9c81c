package guard

import (
	"log/slog"
	"regexp"
)

// OutputApology replaces a model reply that leaked prompt material.
const OutputApology = "Maaf, ada kesalahan dalam menjawab. Bisa coba tanya lagi dengan cara berbeda? 😊"

// OutputResult is the outcome of OutputSanitizer.Sanitize.
type OutputResult struct {
	Safe    bool
	Text    string
	Pattern string
}

var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)system\s+prompt`),
	regexp.MustCompile(`(?i)instruction\s+set`),
	regexp.MustCompile(`(?i)developer\s+set`),
	regexp.MustCompile(`(?i)<\|.*?\|>`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)\[\s*system\s*\]`),
	regexp.MustCompile(`(?i)\[\s*instruction\s*\]`),
	regexp.MustCompile(`(?i)\[\s*answer\s*\]`),
}

// OutputSanitizer rejects model replies that echo prompt scaffolding or
// chat-template tokens. Unsafe replies are replaced whole, never patched.
type OutputSanitizer struct {
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// NewOutputSanitizer creates a sanitizer with the built-in leak patterns.
func NewOutputSanitizer(logger *slog.Logger) *OutputSanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputSanitizer{
		patterns: leakPatterns,
		logger:   logger.With("component", "guard.OutputSanitizer"),
	}
}

// Sanitize returns the reply unchanged when it is clean, otherwise the
// apology text and the pattern that matched.
func (s *OutputSanitizer) Sanitize(reply string) OutputResult {
	for _, re := range s.patterns {
		if re.MatchString(reply) {
			s.logger.Warn("OutputSanitizer.Sanitize: unsafe model output", "pattern", re.String())
			return OutputResult{Text: OutputApology, Pattern: re.String()}
		}
	}
	return OutputResult{Safe: true, Text: reply}
}
