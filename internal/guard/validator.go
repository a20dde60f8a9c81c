// Package guard holds the stateless screens Kiko applies to text: length
// validation, prompt-injection detection, content moderation, PII redaction
// and model-output sanitizing.
//
// Every screen is a pure function of its input and the pattern set it was
// built with, so screens are safe for concurrent use.
package guard

import (
	"fmt"
	"unicode/utf8"

	"github.com/BTreeMap/Kiko/internal/models"
)

const tooLongFmt = "Pesan terlalu panjang! Maksimal %d karakter. Coba persingkat ya! 📝"

// LengthResult is the outcome of ValidateLength.
type LengthResult struct {
	Valid  bool
	Reason string
}

// ValidateLength rejects text longer than maxLength characters. Length is
// counted in runes so multi-byte Indonesian text and emoji count once.
// A non-positive maxLength falls back to models.DefaultMaxInputLength.
func ValidateLength(text string, maxLength int) LengthResult {
	if maxLength <= 0 {
		maxLength = models.DefaultMaxInputLength
	}
	if utf8.RuneCountInString(text) > maxLength {
		return LengthResult{Reason: fmt.Sprintf(tooLongFmt, maxLength)}
	}
	return LengthResult{Valid: true}
}
