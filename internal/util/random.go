// Package util provides utility functions for the Kiko application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// WebIdentityPrefix marks identities that belong to web and API clients.
// Messaging channels use bare phone digits, which never carry it.
const WebIdentityPrefix = "web_"

// GenerateWebIdentity generates an identity for a browser session that did
// not supply one.
func GenerateWebIdentity() string {
	return GenerateRandomID(WebIdentityPrefix, 32)
}

// PickOne returns a uniformly random element of choices, or fallback when
// choices is empty.
func PickOne[T any](choices []T, fallback T) T {
	if len(choices) == 0 {
		return fallback
	}
	return choices[rand.IntN(len(choices))]
}
