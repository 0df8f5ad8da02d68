// Package llm provides a small completion interface over several LLM
// providers (Gemini, Anthropic, Ollama) with routing and fallback. It backs
// the contextual sentiment backend.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Provider names for routing and configuration.
const (
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Common errors returned by LLM providers.
var (
	ErrNoAPIKey      = errors.New("llm: API key not configured")
	ErrAuth          = errors.New("llm: authentication failed")
	ErrRateLimit     = errors.New("llm: rate limit exceeded")
	ErrContextLength = errors.New("llm: context length exceeded")
	ErrProviderDown  = errors.New("llm: provider unavailable")
	ErrInvalidModel  = errors.New("llm: invalid model")
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrNoProviders   = errors.New("llm: no providers configured")
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response represents a complete response from the LLM.
type Response struct {
	Content  string        `json:"content"`
	Usage    Usage         `json:"usage"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Latency  time.Duration `json:"latency"`
}

// Usage tracks token consumption for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatOptions configures a single chat request. Zero values use the
// provider defaults.
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// LLMProvider is the interface that all LLM backends must implement.
type LLMProvider interface {
	// Name returns the provider identifier (e.g., "gemini", "ollama").
	Name() string

	// Chat sends a conversation and returns a complete response.
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)

	// Ping checks if the provider is reachable and the credential is valid.
	Ping(ctx context.Context) error
}

// SystemMessage creates a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Temperature returns a pointer for ChatOptions.Temperature.
func Temperature(t float64) *float64 { return &t }

// String returns a human-readable summary of the response.
func (r *Response) String() string {
	truncated := r.Content
	if len(truncated) > 100 {
		truncated = truncated[:100] + "..."
	}
	return fmt.Sprintf("[%s/%s] %q, %d tokens, %v",
		r.Provider, r.Model, truncated, r.Usage.TotalTokens, r.Latency.Round(time.Millisecond))
}

// statusError maps an HTTP status from a provider to a sentinel error.
func statusError(provider string, code int, msg string) error {
	var base error
	switch {
	case code == 401 || code == 403:
		base = ErrAuth
	case code == 404:
		base = ErrInvalidModel
	case code == 413:
		base = ErrContextLength
	case code == 429:
		base = ErrRateLimit
	case code >= 500:
		base = ErrProviderDown
	default:
		return fmt.Errorf("%s: HTTP %d: %s", provider, code, msg)
	}
	return fmt.Errorf("%w: %s: HTTP %d: %s", base, provider, code, msg)
}

// IsTransient reports whether a failed call is worth retrying: rate limits,
// server errors and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isNonRetryable reports errors that no other attempt or provider can fix.
func isNonRetryable(err error) bool {
	return errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrContextLength) ||
		errors.Is(err, context.Canceled)
}
