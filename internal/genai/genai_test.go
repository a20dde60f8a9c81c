package genai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/sony/gobreaker"

	"github.com/BTreeMap/Kiko/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	mu     sync.Mutex
	resp   openai.ChatCompletion
	err    error
	block  bool
	calls  int
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.mu.Lock()
	m.calls++
	m.params = params
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return openai.ChatCompletion{}, ctx.Err()
	}
	return m.resp, m.err
}

func reply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testClient(chat chatService) *Client {
	return newClient(chat, Opts{
		Model:       "test-model",
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     time.Second,
	})
}

func TestReply_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("  IGD buka 24 jam.  ")}
	client := testClient(mock)

	out, err := client.Reply(context.Background(), "IGD buka kapan?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "IGD buka 24 jam." {
		t.Errorf("expected trimmed content, got %q", out)
	}

	p := mock.params
	if string(p.Model) != "test-model" {
		t.Errorf("model = %q", p.Model)
	}
	if len(p.Messages) != 2 || p.Messages[0].OfSystem == nil || p.Messages[1].OfUser == nil {
		t.Fatalf("expected system then user message, got %+v", p.Messages)
	}
	if p.Temperature.Value != 0.7 || p.TopP.Value != 0.9 || p.MaxTokens.Value != 300 {
		t.Errorf("sampling params = temp %v top_p %v max %v", p.Temperature.Value, p.TopP.Value, p.MaxTokens.Value)
	}
}

func TestReply_Failures(t *testing.T) {
	tests := []struct {
		name string
		mock *mockChatService
		want error
	}{
		{"service error", &mockChatService{err: errors.New("connection refused")}, nil},
		{"no choices", &mockChatService{resp: openai.ChatCompletion{}}, ErrNoChoicesReturned},
		{"empty content", &mockChatService{resp: reply("   ")}, ErrEmptyContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testClient(tt.mock).Reply(context.Background(), "halo")
			if !errors.Is(err, models.ErrModelUnavailable) {
				t.Fatalf("expected ErrModelUnavailable, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	_, err := testClient(&mockChatService{err: errors.New("connection refused")}).Reply(context.Background(), "halo")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected underlying error in message, got %v", err)
	}
}

func TestReply_Timeout(t *testing.T) {
	client := newClient(&mockChatService{block: true}, Opts{Model: "m", Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := client.Reply(context.Background(), "halo")
	if !errors.Is(err, models.ErrModelUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestReply_CircuitBreakerOpens(t *testing.T) {
	mock := &mockChatService{err: errors.New("boom")}
	client := testClient(mock)

	for i := 0; i < 5; i++ {
		client.Reply(context.Background(), "halo")
	}
	_, err := client.Reply(context.Background(), "halo")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if !errors.Is(err, models.ErrModelUnavailable) {
		t.Errorf("open circuit must surface as ErrModelUnavailable, got %v", err)
	}
	if mock.calls != 5 {
		t.Errorf("expected 5 backend calls, got %d", mock.calls)
	}
}

func TestReply_CanceledCallsDoNotTripBreaker(t *testing.T) {
	mock := &mockChatService{resp: reply("Halo!")}
	client := testClient(mock)
	mock.err = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		if _, err := client.Reply(ctx, "halo"); err == nil {
			t.Fatal("expected error for canceled call")
		}
	}
	if st := client.breaker.State(); st != gobreaker.StateClosed {
		t.Fatalf("breaker state = %v after canceled calls", st)
	}

	mock.mu.Lock()
	mock.err = nil
	mock.mu.Unlock()
	out, err := client.Reply(context.Background(), "halo")
	if err != nil || out != "Halo!" {
		t.Errorf("healthy call = %q, %v", out, err)
	}
}

func TestNewClient(t *testing.T) {
	cli, err := NewClient()
	if err != nil {
		t.Fatalf("expected keyless Ollama config to work, got %v", err)
	}
	if cli.model != DefaultModel {
		t.Errorf("model = %q, want %q", cli.model, DefaultModel)
	}
	if _, err := NewClient(WithAPIKey("ollama"), WithModel("")); err == nil {
		t.Error("expected error when model is empty")
	}
	cli, err = NewClient(WithAPIKey("ollama"), WithBaseURL("http://ollama:11434"), WithModel("qwen2.5:7b"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "qwen2.5:7b" || cli.timeout != 5*time.Second {
		t.Errorf("options not applied: model=%q timeout=%v", cli.model, cli.timeout)
	}
}

func TestAPIBaseURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:11434":     "http://localhost:11434/v1/",
		"http://localhost:11434/":    "http://localhost:11434/v1/",
		"http://localhost:11434/v1":  "http://localhost:11434/v1/",
		"http://localhost:11434/v1/": "http://localhost:11434/v1/",
	}
	for in, want := range tests {
		if got := apiBaseURL(in); got != want {
			t.Errorf("apiBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
