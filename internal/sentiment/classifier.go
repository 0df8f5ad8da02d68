package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/infra"
)

// classifierMaxChars matches the input window of BERT-sized classifiers.
const classifierMaxChars = 512

// ClassifierBackend calls a financial sentiment classifier (FinBERT or
// compatible) behind an HTTP inference endpoint. The server answers with
// label probabilities; the score is P(positive) - P(negative).
type ClassifierBackend struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// ClassifierOption configures a ClassifierBackend.
type ClassifierOption func(*ClassifierBackend)

// WithClassifierToken sets the bearer token sent with each request.
func WithClassifierToken(token string) ClassifierOption {
	return func(b *ClassifierBackend) { b.token = token }
}

// WithClassifierHTTPClient sets the HTTP client.
func WithClassifierHTTPClient(c *http.Client) ClassifierOption {
	return func(b *ClassifierBackend) { b.client = c }
}

// WithClassifierRateLimit throttles requests to the model server.
func WithClassifierRateLimit(rps float64, burst int) ClassifierOption {
	return func(b *ClassifierBackend) {
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(l arbor.ILogger) ClassifierOption {
	return func(b *ClassifierBackend) { b.logger = l }
}

// NewClassifier creates a classifier backend posting to url.
func NewClassifier(url string, opts ...ClassifierOption) *ClassifierBackend {
	b := &ClassifierBackend{
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 2),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = infra.OrNop(b.logger)
	return b
}

func (b *ClassifierBackend) Name() string { return config.BackendDomainClassifier }

type classifierRequest struct {
	Inputs string `json:"inputs"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Score ignores the subject: the classifier rates the text as a whole.
func (b *ClassifierBackend) Score(ctx context.Context, text string, _ *Subject) (Result, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return Result{}, unavailable(b.Name(), err)
	}

	body, err := json.Marshal(classifierRequest{Inputs: truncate(text, classifierMaxChars)})
	if err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, unavailable(b.Name(), fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	labels, err := decodeLabels(data)
	if err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	return labelResult(labels)
}

// decodeLabels accepts both the nested ([[...]]) and flat ([...]) shapes
// that inference servers return for a single input.
func decodeLabels(data []byte) ([]labelScore, error) {
	var nested [][]labelScore
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	var flat []labelScore
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	return flat, nil
}

func labelResult(labels []labelScore) (Result, error) {
	probs := make(map[string]float64, 3)
	for _, l := range labels {
		probs[strings.ToLower(l.Label)] = l.Score
	}
	pos, okPos := probs["positive"]
	neg, okNeg := probs["negative"]
	if !okPos && !okNeg {
		return Result{}, unavailable(config.BackendDomainClassifier, fmt.Errorf("no positive/negative labels in %v", labels))
	}
	details := make(map[string]string, len(probs))
	for label, p := range probs {
		details[label] = strconv.FormatFloat(p, 'f', 4, 64)
	}
	return Result{Score: clamp(pos - neg), Details: details}, nil
}
