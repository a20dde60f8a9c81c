package genai

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDebugLogging(t *testing.T) {
	tempDir := t.TempDir()

	client := newClient(&mockChatService{resp: reply("Test response")}, Opts{
		Model:     "test-model",
		MaxTokens: 100,
		DebugMode: true,
		StateDir:  tempDir,
	})

	if _, err := client.GeneratePromptWithContext(context.Background(), "System prompt", "User prompt"); err != nil {
		t.Fatalf("GeneratePromptWithContext failed: %v", err)
	}

	debugDir := filepath.Join(tempDir, "debug")
	files, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("Failed to read debug directory: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 debug file, got %d", len(files))
	}

	b, err := os.ReadFile(filepath.Join(debugDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("debug file is not valid JSON: %v", err)
	}
	for _, key := range []string{"timestamp", "request", "response"} {
		if _, ok := rec[key]; !ok {
			t.Errorf("debug record missing %q", key)
		}
	}
}

func TestDebugLogging_Disabled(t *testing.T) {
	tempDir := t.TempDir()
	client := newClient(&mockChatService{resp: reply("ok")}, Opts{Model: "m", StateDir: tempDir})
	if _, err := client.GeneratePromptWithContext(context.Background(), "s", "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "debug")); !os.IsNotExist(err) {
		t.Errorf("debug directory created with debug mode off")
	}
}
