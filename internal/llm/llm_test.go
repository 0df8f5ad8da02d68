package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/marketpulse/internal/config"
)

// ════════════════════════════════════════════════════════════════════
// provider.go: types and helpers
// ════════════════════════════════════════════════════════════════════

func TestMessageConstructors(t *testing.T) {
	sys := SystemMessage("You are a market analyst.")
	if sys.Role != RoleSystem || sys.Content != "You are a market analyst." {
		t.Fatalf("SystemMessage: got %+v", sys)
	}
	user := UserMessage("hello")
	if user.Role != RoleUser || user.Content != "hello" {
		t.Fatalf("UserMessage: got %+v", user)
	}
}

func TestResponseString(t *testing.T) {
	r := &Response{Provider: "gemini", Model: "gemini-2.0-flash", Content: strings.Repeat("x", 150), Latency: 1500 * time.Millisecond}
	s := r.String()
	if !strings.Contains(s, "gemini/gemini-2.0-flash") || !strings.Contains(s, "...") {
		t.Fatalf("unexpected String(): %s", s)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{401, ErrAuth},
		{403, ErrAuth},
		{404, ErrInvalidModel},
		{413, ErrContextLength},
		{429, ErrRateLimit},
		{500, ErrProviderDown},
		{503, ErrProviderDown},
	}
	for _, tt := range tests {
		err := statusError("test", tt.code, "boom")
		if !errors.Is(err, tt.want) {
			t.Errorf("statusError(%d) = %v, want %v", tt.code, err, tt.want)
		}
	}
	if err := statusError("test", 400, "bad"); err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("statusError(400) = %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("wrap: %w", ErrRateLimit), true},
		{fmt.Errorf("wrap: %w", ErrProviderDown), true},
		{context.DeadlineExceeded, true},
		{ErrAuth, false},
		{ErrNoAPIKey, false},
		{errors.New("parse failure"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// ollama.go
// ════════════════════════════════════════════════════════════════════

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "llama3.1:8b" || req.Stream {
			t.Errorf("unexpected request body: %+v", req)
		}
		if req.Options == nil || req.Options.NumPredict != 8 || req.Options.Temperature == nil || *req.Options.Temperature != 0 {
			t.Errorf("unexpected options: %+v", req.Options)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3.1:8b",
			"message":           map[string]string{"role": "assistant", "content": "0.42"},
			"done":              true,
			"prompt_eval_count": 20,
			"eval_count":        3,
		})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(srv.URL+"/", WithOllamaModel("llama3.1:8b"), WithOllamaHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(),
		[]Message{SystemMessage("rate"), UserMessage("Shares rally")},
		&ChatOptions{Temperature: Temperature(0), MaxTokens: 8})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "0.42" || resp.Provider != ProviderOllama || resp.Usage.TotalTokens != 23 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOllamaErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	content := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "model loading", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": content}})
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(srv.URL)
	_, err := p.Chat(context.Background(), []Message{UserMessage("x")}, nil)
	if !errors.Is(err, ErrProviderDown) || !IsTransient(err) {
		t.Fatalf("expected transient provider error, got %v", err)
	}

	status = http.StatusOK
	_, err = p.Chat(context.Background(), []Message{UserMessage("x")}, nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(srv.URL)
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// gemini.go
// ════════════════════════════════════════════════════════════════════

func TestGeminiRequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(context.Background(), ""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestGeminiChat(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "-0.35"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 40, "candidatesTokenCount": 2}
		}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), "test-key",
		WithGeminiBaseURL(srv.URL+"/"), WithGeminiHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(),
		[]Message{SystemMessage("You rate sentiment."), UserMessage("Profit warning issued")},
		&ChatOptions{Temperature: Temperature(0), MaxTokens: 16})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "-0.35" || resp.Provider != ProviderGemini {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 42 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if !strings.Contains(body, "Profit warning issued") || !strings.Contains(body, "You rate sentiment.") {
		t.Fatalf("request body missing prompt: %s", body)
	}
}

func TestGeminiRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "quota exhausted", "status": "RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), "test-key",
		WithGeminiBaseURL(srv.URL+"/"), WithGeminiHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Chat(context.Background(), []Message{UserMessage("x")}, nil)
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// anthropic.go
// ════════════════════════════════════════════════════════════════════

func TestAnthropicChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["system"] == nil || req["max_tokens"].(float64) != 16 {
			t.Errorf("unexpected request: %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_01", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "0.7"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 30, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL), WithAnthropicHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Chat(context.Background(),
		[]Message{SystemMessage("You rate sentiment."), UserMessage("Record profit")},
		&ChatOptions{MaxTokens: 16, Temperature: Temperature(0)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "0.7" || resp.Provider != ProviderAnthropic || resp.Usage.TotalTokens != 32 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnthropicAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p, _ := NewAnthropicProvider("bad-key", WithAnthropicBaseURL(srv.URL), WithAnthropicHTTPClient(srv.Client()))
	_, err := p.Chat(context.Background(), []Message{UserMessage("x")}, nil)
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if IsTransient(err) {
		t.Fatal("auth errors must not be transient")
	}
}

// ════════════════════════════════════════════════════════════════════
// router.go: router tests
// ════════════════════════════════════════════════════════════════════

// mockProvider implements LLMProvider for testing the router.
type mockProvider struct {
	name     string
	chatFunc func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)
	pingErr  error
}

func (m *mockProvider) Name() string                   { return m.name }
func (m *mockProvider) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	if m.chatFunc != nil {
		return m.chatFunc(ctx, messages, opts)
	}
	return &Response{Content: "mock response", Provider: m.name}, nil
}

func TestRouterBasic(t *testing.T) {
	r := NewRouter("primary", WithFallbacks("missing"))
	r.RegisterProvider(&mockProvider{name: "primary"})

	p, err := r.Primary()
	if err != nil || p.Name() != "primary" {
		t.Fatalf("Primary: %v, %v", p, err)
	}
	names := r.ProviderNames()
	if len(names) != 1 || names[0] != "primary" {
		t.Fatalf("ProviderNames: %v", names)
	}
	if r.Name() != "router/primary" {
		t.Fatalf("Name: %s", r.Name())
	}
}

func TestRouterFallback(t *testing.T) {
	callCount := 0
	r := NewRouter("primary", WithFallbacks("backup"), WithMaxRetries(0))
	r.RegisterProvider(&mockProvider{
		name: "primary",
		chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
			callCount++
			return nil, fmt.Errorf("%w: primary down", ErrProviderDown)
		},
	})
	r.RegisterProvider(&mockProvider{
		name: "backup",
		chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
			callCount++
			return &Response{Content: "from backup", Provider: "backup"}, nil
		},
	})

	resp, err := r.Chat(context.Background(), []Message{UserMessage("test")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "from backup" || resp.Provider != "backup" {
		t.Fatalf("expected fallback response, got: %+v", resp)
	}
	if callCount != 2 {
		t.Fatalf("expected 2 calls (primary + backup), got %d", callCount)
	}
}

func TestRouterAllFail(t *testing.T) {
	r := NewRouter("a", WithFallbacks("b"), WithMaxRetries(0))
	for _, n := range []string{"a", "b"} {
		r.RegisterProvider(&mockProvider{
			name: n,
			chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
				return nil, ErrProviderDown
			},
		})
	}
	_, err := r.Chat(context.Background(), []Message{UserMessage("test")}, nil)
	if !errors.Is(err, ErrProviderDown) {
		t.Fatalf("expected wrapped ErrProviderDown, got %v", err)
	}
}

func TestRouterRetriesTransientOnly(t *testing.T) {
	calls := 0
	r := NewRouter("a", WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	r.RegisterProvider(&mockProvider{
		name: "a",
		chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
			calls++
			if calls < 3 {
				return nil, ErrRateLimit
			}
			return &Response{Content: "ok"}, nil
		},
	})
	resp, err := r.Chat(context.Background(), []Message{UserMessage("x")}, nil)
	if err != nil || resp.Content != "ok" || calls != 3 {
		t.Fatalf("resp=%v err=%v calls=%d", resp, err, calls)
	}

	calls = 0
	r.RegisterProvider(&mockProvider{
		name: "a",
		chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
			calls++
			return nil, ErrAuth
		},
	})
	if _, err := r.Chat(context.Background(), []Message{UserMessage("x")}, nil); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("auth failure retried %d times", calls)
	}
}

func TestRouterNonRetryableStopsChain(t *testing.T) {
	backupCalled := false
	r := NewRouter("a", WithFallbacks("b"), WithMaxRetries(0))
	r.RegisterProvider(&mockProvider{
		name: "a",
		chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
			return nil, ErrContextLength
		},
	})
	r.RegisterProvider(&mockProvider{
		name: "b",
		chatFunc: func(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
			backupCalled = true
			return &Response{Content: "b"}, nil
		},
	})
	if _, err := r.Chat(context.Background(), []Message{UserMessage("x")}, nil); !errors.Is(err, ErrContextLength) {
		t.Fatalf("expected ErrContextLength, got %v", err)
	}
	if backupCalled {
		t.Fatal("fallback must not run after a non-retryable error")
	}
}

func TestRouterNoProviders(t *testing.T) {
	r := NewRouter("nobody")
	if _, err := r.Chat(context.Background(), nil, nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if err := r.Ping(context.Background()); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders from Ping, got %v", err)
	}
}

func TestRouterHealthCheck(t *testing.T) {
	r := NewRouter("a")
	r.RegisterProvider(&mockProvider{name: "a"})
	r.RegisterProvider(&mockProvider{name: "b", pingErr: ErrProviderDown})
	res := r.HealthCheck(context.Background())
	if res["a"] != nil || !errors.Is(res["b"], ErrProviderDown) {
		t.Fatalf("unexpected health: %v", res)
	}
}

func TestNewRouterFromConfig(t *testing.T) {
	ctx := context.Background()

	if _, err := NewRouterFromConfig(ctx, config.LLMConfig{Primary: "gemini"}, nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}

	_, err := NewRouterFromConfig(ctx, config.LLMConfig{Primary: "anthropic", GeminiKey: "g"}, nil)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey for primary without credential, got %v", err)
	}

	r, err := NewRouterFromConfig(ctx, config.LLMConfig{
		Primary:      "gemini",
		GeminiKey:    "g",
		AnthropicKey: "a",
		OllamaURL:    "http://localhost:11434",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	names := r.ProviderNames()
	if len(names) != 2 || names[0] != ProviderGemini || names[1] != ProviderAnthropic {
		t.Fatalf("unexpected chain: %v", names)
	}
	if r.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0 when unset", r.maxRetries)
	}

	r, err = NewRouterFromConfig(ctx, config.LLMConfig{
		Primary:    "gemini",
		GeminiKey:  "g",
		MaxRetries: 2,
		RetryDelay: 50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.maxRetries != 2 || r.retryDelay != 50*time.Millisecond {
		t.Errorf("retries = %d delay = %s, want 2 and 50ms", r.maxRetries, r.retryDelay)
	}
}

func TestDefaultModels(t *testing.T) {
	if got := defaultGeminiModel("gpt-4o"); got != defaultGeminiModelName {
		t.Errorf("defaultGeminiModel = %s", got)
	}
	if got := defaultGeminiModel("gemini-1.5-pro"); got != "gemini-1.5-pro" {
		t.Errorf("defaultGeminiModel = %s", got)
	}
	if got := defaultAnthropicModel(""); got != defaultAnthropicModelName {
		t.Errorf("defaultAnthropicModel = %s", got)
	}
}
