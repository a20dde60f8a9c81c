package intent

import "strings"

// Mood is a coarse sentiment used to decorate replies.
type Mood string

const (
	MoodHappy   Mood = "happy"
	MoodSad     Mood = "sad"
	MoodCurious Mood = "curious"
	MoodNeutral Mood = "neutral"
)

const defaultEmoji = "🙂"

var (
	positiveWords = []string{"senang", "happy", "asyik", "mantap", "wkwk", "haha"}
	negativeWords = []string{"sedih", "galau", "stress", "capek", "lelah", "marah"}
)

// AnalyzeMood classifies text as happy, sad, curious or neutral, in that
// precedence.
func AnalyzeMood(text string) Mood {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, positiveWords):
		return MoodHappy
	case containsAny(lower, negativeWords):
		return MoodSad
	case strings.Contains(lower, "?"):
		return MoodCurious
	default:
		return MoodNeutral
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
