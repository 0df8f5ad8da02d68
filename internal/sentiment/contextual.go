package sentiment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/internal/llm"
)

const contextualSystemPrompt = `You are an expert financial analyst covering the Indian stock market.
You rate how a news item is likely to move prices, weighing investor sentiment,
sector dynamics, macroeconomic signals and the likely market reaction.

Answer on a scale from -1 to 1:
-1    severely negative impact
-0.75 highly negative impact
-0.5  moderately negative impact
-0.25 slightly negative impact
0     no effect
0.25  slightly positive impact
0.5   moderately positive impact
0.75  highly positive impact
1     extremely positive impact

Reply with a single number between -1 and 1 and nothing else.`

// ContextualBackend asks an LLM to rate the market impact of a text,
// optionally focused on one instrument or sector. Calls are throttled by a
// token bucket and transient provider failures are retried with backoff.
type ContextualBackend struct {
	provider llm.LLMProvider
	limiter  *rate.Limiter
	backoff  infra.Backoff
	maxChars int
	chat     llm.ChatOptions
	logger   arbor.ILogger
}

// ContextualOption configures a ContextualBackend.
type ContextualOption func(*ContextualBackend)

// WithRateLimit sets the request budget: rps sustained, burst at once.
func WithRateLimit(rps float64, burst int) ContextualOption {
	return func(b *ContextualBackend) {
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry schedule for transient provider errors.
func WithRetry(bo infra.Backoff) ContextualOption {
	return func(b *ContextualBackend) { b.backoff = bo }
}

// WithMaxChars truncates the scored text. Zero disables truncation.
func WithMaxChars(n int) ContextualOption {
	return func(b *ContextualBackend) { b.maxChars = n }
}

// WithChatOptions sets model, temperature and token limit.
func WithChatOptions(o llm.ChatOptions) ContextualOption {
	return func(b *ContextualBackend) { b.chat = o }
}

// WithContextualLogger sets the logger.
func WithContextualLogger(l arbor.ILogger) ContextualOption {
	return func(b *ContextualBackend) { b.logger = l }
}

// NewContextual creates the contextual backend over p. The default budget is
// one request per second and three attempts.
func NewContextual(p llm.LLMProvider, opts ...ContextualOption) *ContextualBackend {
	b := &ContextualBackend{
		provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		backoff:  infra.Backoff{Base: time.Second, Factor: 2, Max: 8 * time.Second, MaxAttempts: 3},
		maxChars: 4000,
		chat:     llm.ChatOptions{Temperature: llm.Temperature(0), MaxTokens: 16},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = infra.OrNop(b.logger)
	return b
}

func (b *ContextualBackend) Name() string { return config.BackendContextualLLM }

func (b *ContextualBackend) Score(ctx context.Context, text string, subject *Subject) (Result, error) {
	messages := []llm.Message{
		llm.SystemMessage(contextualSystemPrompt),
		llm.UserMessage(contextualPrompt(truncate(text, b.maxChars), subject)),
	}

	var resp *llm.Response
	attempts, err := b.backoff.Retry(ctx, func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return infra.Permanent(err)
		}
		r, err := b.provider.Chat(ctx, messages, &b.chat)
		if err != nil {
			if llm.IsTransient(err) {
				b.logger.Debug().Str("backend", b.Name()).Err(err).Msg("Transient provider error, retrying")
				return err
			}
			return infra.Permanent(err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return Result{}, unavailable(b.Name(), fmt.Errorf("after %d attempts: %w", attempts, err))
	}

	score, ok := ParseScore(resp.Content)
	if !ok {
		return Result{}, unavailable(b.Name(), fmt.Errorf("unparseable reply %q", truncate(resp.Content, 80)))
	}
	return Result{
		Score: score,
		Details: map[string]string{
			"provider": resp.Provider,
			"model":    resp.Model,
			"raw":      truncate(strings.TrimSpace(resp.Content), 80),
			"attempts": strconv.Itoa(attempts),
		},
	}, nil
}

func contextualPrompt(text string, subject *Subject) string {
	var sb strings.Builder
	if subject != nil {
		fmt.Fprintf(&sb, "Rate the impact of the following news on %s.\n\n", subject.Describe())
	} else {
		sb.WriteString("Rate the impact of the following news on the Indian stock market.\n\n")
	}
	sb.WriteString("News:\n")
	sb.WriteString(text)
	return sb.String()
}

var numberRe = regexp.MustCompile(`[-+]?(?:\d+(?:\.\d*)?|\.\d+)`)

// ParseScore extracts the first number from an LLM reply and clamps it to
// [-1, 1]. It reports false when the reply holds no number.
func ParseScore(reply string) (float64, bool) {
	reply = strings.NewReplacer("−", "-", "–", "-").Replace(reply)
	m := numberRe.FindString(reply)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return clamp(v), true
		}
		return 0, false
	}
	return clamp(v), true
}
