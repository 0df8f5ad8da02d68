package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/infra"
)

// Router routes LLM requests to the primary provider and falls back through
// the configured chain when it fails.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]LLMProvider
	primary    string
	fallbacks  []string
	maxRetries int
	retryDelay time.Duration
	logger     arbor.ILogger
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithFallbacks sets the fallback provider chain.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithMaxRetries sets the maximum number of retry attempts per provider.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l arbor.ILogger) RouterOption {
	return func(r *Router) { r.logger = infra.OrNop(l) }
}

// NewRouter creates a new LLM router with the given primary provider.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]LLMProvider),
		primary:    primary,
		maxRetries: 2,
		retryDelay: 1 * time.Second,
		logger:     infra.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider adds a provider to the router.
func (r *Router) RegisterProvider(provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a registered provider by name.
func (r *Router) GetProvider(name string) (LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[r.primary]
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Chat routes a chat request through the provider chain with fallback.
// It tries the primary provider first, then falls back in order.
func (r *Router) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	chain := r.providerChain()
	if len(chain) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	tried := 0
	for _, providerName := range chain {
		provider, ok := r.GetProvider(providerName)
		if !ok {
			continue
		}
		tried++

		resp, err := r.chatWithRetry(ctx, provider, messages, opts)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		r.logger.Warn().Str("provider", providerName).Err(err).Msg("LLM provider failed, trying next")

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNonRetryable(err) {
			return nil, err
		}
	}
	if tried == 0 {
		return nil, ErrNoProviders
	}

	return nil, fmt.Errorf("llm/router: all providers failed, last error: %w", lastErr)
}

// HealthCheck pings all registered providers and returns their status.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]LLMProvider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, provider := range providers {
		wg.Add(1)
		go func(n string, p LLMProvider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err := p.Ping(pingCtx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, provider)
	}

	wg.Wait()
	return results
}

// Name returns the name of the primary provider (satisfies LLMProvider).
func (r *Router) Name() string {
	return "router/" + r.primary
}

// Ping checks the primary provider's health (satisfies LLMProvider).
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// ProviderNames returns the provider chain in call order, limited to
// registered providers.
func (r *Router) ProviderNames() []string {
	var names []string
	for _, n := range r.providerChain() {
		if _, ok := r.GetProvider(n); ok {
			names = append(names, n)
		}
	}
	return names
}

func (r *Router) providerChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

func (r *Router) chatWithRetry(ctx context.Context, provider LLMProvider,
	messages []Message, opts *ChatOptions) (*Response, error) {

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := provider.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// NewRouterFromConfig creates a Router from the LLM config. Providers are
// registered when their credential or URL is present; the fallback chain is
// cfg.Fallbacks, or every other registered provider when that is empty.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMConfig, logger arbor.ILogger) (*Router, error) {
	router := NewRouter(cfg.Primary,
		WithMaxRetries(cfg.MaxRetries),
		WithRetryDelay(cfg.RetryDelay),
		WithRouterLogger(logger),
	)

	var registered []string
	if cfg.GeminiKey != "" {
		p, err := NewGeminiProvider(ctx, cfg.GeminiKey, WithGeminiModel(defaultGeminiModel(cfg.Model)))
		if err != nil {
			return nil, err
		}
		router.RegisterProvider(p)
		registered = append(registered, ProviderGemini)
	}
	if cfg.AnthropicKey != "" {
		p, err := NewAnthropicProvider(cfg.AnthropicKey, WithAnthropicModel(defaultAnthropicModel(cfg.Model)))
		if err != nil {
			return nil, err
		}
		router.RegisterProvider(p)
		registered = append(registered, ProviderAnthropic)
	}
	if cfg.OllamaURL != "" && (cfg.Primary == ProviderOllama || contains(cfg.Fallbacks, ProviderOllama)) {
		model := defaultOllamaModelName
		if cfg.Primary == ProviderOllama && cfg.Model != "" {
			model = cfg.Model
		}
		p, err := NewOllamaProvider(cfg.OllamaURL, WithOllamaModel(model))
		if err != nil {
			return nil, err
		}
		router.RegisterProvider(p)
		registered = append(registered, ProviderOllama)
	}

	if len(registered) == 0 {
		return nil, ErrNoProviders
	}
	if _, ok := router.GetProvider(cfg.Primary); !ok {
		return nil, fmt.Errorf("%w: primary provider %q has no credential", ErrNoAPIKey, cfg.Primary)
	}

	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		for _, name := range registered {
			if name != cfg.Primary {
				fallbacks = append(fallbacks, name)
			}
		}
	}
	router.fallbacks = fallbacks
	return router, nil
}

func defaultGeminiModel(model string) string {
	if strings.HasPrefix(model, "gemini") {
		return model
	}
	return defaultGeminiModelName
}

func defaultAnthropicModel(model string) string {
	if strings.HasPrefix(model, "claude") {
		return model
	}
	return defaultAnthropicModelName
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
