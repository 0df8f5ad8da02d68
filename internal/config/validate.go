package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is returned by Validate for any configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks struct-tag ranges and cross-field rules.
// A non-nil result is fatal at startup.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var problems []string

	total := 0.0
	for _, name := range c.Sentiment.Backends {
		w, ok := c.Sentiment.Weights[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("sentiment.weights: missing weight for backend %q", name))
			continue
		}
		if w < 0 {
			problems = append(problems, fmt.Sprintf("sentiment.weights.%s: must be >= 0, got %g", name, w))
		}
		total += w
	}
	if total <= 0 {
		problems = append(problems, "sentiment.weights: enabled backends must have a positive total weight")
	}

	seen := make(map[string]bool)
	for _, name := range c.Sentiment.Backends {
		if seen[name] {
			problems = append(problems, fmt.Sprintf("sentiment.backends: %q listed twice", name))
		}
		seen[name] = true
	}

	if c.BackendEnabled(BackendContextualLLM) {
		if p := c.credentialProblem(c.LLM.Primary); p != "" {
			problems = append(problems, p)
		}
	}
	if c.BackendEnabled(BackendDomainClassifier) && c.Sentiment.Classifier.URL == "" {
		problems = append(problems, "sentiment.classifier.url: required when domain-classifier is enabled")
	}

	ids := make(map[string]bool)
	for _, s := range c.Sources {
		if ids[s.ID] {
			problems = append(problems, fmt.Sprintf("sources: duplicate id %q", s.ID))
		}
		ids[s.ID] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// BackendEnabled reports whether the named backend is enabled with a positive weight.
func (c *Config) BackendEnabled(name string) bool {
	for _, b := range c.Sentiment.Backends {
		if b == name {
			return c.Sentiment.Weights[name] > 0
		}
	}
	return false
}

func (c *Config) credentialProblem(provider string) string {
	switch provider {
	case "gemini":
		if c.LLM.GeminiKey == "" {
			return "llm.gemini_key: required for the contextual-llm backend (set MARKETPULSE_LLM_GEMINI_KEY)"
		}
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			return "llm.anthropic_key: required for the contextual-llm backend (set MARKETPULSE_LLM_ANTHROPIC_KEY)"
		}
	case "ollama":
		if c.LLM.OllamaURL == "" {
			return "llm.ollama_url: required for the contextual-llm backend"
		}
	}
	return ""
}
