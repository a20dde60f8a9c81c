package util

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantLength int
	}{
		{"web identity format", "web_", 32, 36},
		{"custom prefix", "test_", 16, 21},
		{"empty hex", "x_", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.prefix)
			}
			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}
			if !isValidHex(got[len(tt.prefix):]) {
				t.Errorf("GenerateRandomID() hex part of %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	for _, n := range []int{-1, 0, 8, 64} {
		got := GenerateRandomHex(n)
		want := n
		if want < 0 {
			want = 0
		}
		if len(got) != want || !isValidHex(got) {
			t.Errorf("GenerateRandomHex(%d) = %q", n, got)
		}
	}
}

func TestGenerateWebIdentity_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateWebIdentity()
		if seen[id] {
			t.Fatalf("duplicate identity %s", id)
		}
		seen[id] = true
	}
}

func TestPickOne(t *testing.T) {
	if got := PickOne(nil, "🙂"); got != "🙂" {
		t.Errorf("PickOne(nil) = %q, want fallback", got)
	}
	choices := []string{"😊", "😄", "🤗"}
	for i := 0; i < 50; i++ {
		if got := PickOne(choices, ""); !slices.Contains(choices, got) {
			t.Fatalf("PickOne returned %q not in choices", got)
		}
	}
}

func TestParseEnvHelpers(t *testing.T) {
	t.Setenv("KIKO_TEST_INT", "42")
	t.Setenv("KIKO_TEST_BAD_INT", "abc")
	t.Setenv("KIKO_TEST_DUR", "45s")
	t.Setenv("KIKO_TEST_FLOAT", "2.5")
	t.Setenv("KIKO_TEST_BOOL", "on")

	if got := ParseIntEnv("KIKO_TEST_INT", 1); got != 42 {
		t.Errorf("ParseIntEnv = %d, want 42", got)
	}
	if got := ParseIntEnv("KIKO_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("ParseIntEnv(bad) = %d, want default 7", got)
	}
	if got := ParseIntEnv("KIKO_TEST_UNSET", 3); got != 3 {
		t.Errorf("ParseIntEnv(unset) = %d, want default 3", got)
	}
	if got := ParseDurationEnv("KIKO_TEST_DUR", time.Second); got != 45*time.Second {
		t.Errorf("ParseDurationEnv = %v", got)
	}
	if got := ParseFloatEnv("KIKO_TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("ParseFloatEnv = %v", got)
	}
	if !ParseBoolEnv("KIKO_TEST_BOOL", false) {
		t.Error("ParseBoolEnv(on) = false")
	}
	if got := FirstEnv("KIKO_TEST_UNSET", "KIKO_TEST_INT"); got != "42" {
		t.Errorf("FirstEnv = %q", got)
	}
}

func isValidHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
