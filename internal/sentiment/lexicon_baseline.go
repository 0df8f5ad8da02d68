package sentiment

import (
	"context"
	"strconv"
	"strings"

	"github.com/seenimoa/marketpulse/internal/config"
)

// polarity is a small general-purpose opinion lexicon on [-1, 1].
var polarity = map[string]float64{
	"good": 0.7, "great": 0.8, "excellent": 1.0, "best": 1.0, "better": 0.5,
	"positive": 0.23, "strong": 0.43, "robust": 0.5, "healthy": 0.5, "happy": 0.8,
	"optimistic": 0.6, "confident": 0.5, "impressive": 0.8, "solid": 0.4,
	"success": 0.6, "successful": 0.75, "improve": 0.4, "improved": 0.4,
	"benefit": 0.4, "gain": 0.3, "win": 0.6, "high": 0.16, "higher": 0.25,
	"rise": 0.2, "up": 0.1, "boost": 0.5, "favourable": 0.5, "favorable": 0.5,
	"stable": 0.3, "steady": 0.2, "record": 0.3, "opportunity": 0.4,

	"bad": -0.7, "poor": -0.4, "worst": -1.0, "worse": -0.4, "terrible": -1.0,
	"negative": -0.3, "weak": -0.375, "weaker": -0.4, "fragile": -0.4,
	"sad": -0.5, "pessimistic": -0.6, "worried": -0.5, "fear": -0.6,
	"risk": -0.2, "risky": -0.4, "uncertain": -0.3, "uncertainty": -0.3,
	"fail": -0.5, "failed": -0.5, "failure": -0.6, "loss": -0.4, "lose": -0.4,
	"low": -0.2, "lower": -0.2, "down": -0.15, "fall": -0.3, "decline": -0.3,
	"hurt": -0.5, "damage": -0.5, "crisis": -0.7, "trouble": -0.5,
	"volatile": -0.3, "disappointing": -0.6, "slowdown": -0.4, "pressure": -0.2,
}

// intensifiers scale the polarity of the following word.
var intensifiers = map[string]float64{
	"very": 1.3, "extremely": 1.5, "highly": 1.3, "sharply": 1.3,
	"significantly": 1.3, "strongly": 1.3, "really": 1.2,
	"slightly": 0.5, "marginally": 0.5, "somewhat": 0.7, "modestly": 0.7,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "without": true,
	"neither": true, "nor": true, "hardly": true,
}

// negationScope is how many tokens a negator reaches forward.
const negationScope = 3

// negationFactor is applied to a negated word's polarity.
const negationFactor = -0.5

// LexiconBaselineBackend averages general-purpose word polarities, handling
// negation and intensifiers. It is the least domain-specific backend.
type LexiconBaselineBackend struct{}

// NewLexiconBaseline returns the general polarity backend.
func NewLexiconBaseline() *LexiconBaselineBackend { return &LexiconBaselineBackend{} }

func (LexiconBaselineBackend) Name() string { return config.BackendLexiconBaseline }

func (b LexiconBaselineBackend) Score(ctx context.Context, text string, _ *Subject) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	score, words := ScorePolarity(text)
	return Result{Score: score, Details: map[string]string{"words": strconv.Itoa(words)}}, nil
}

// ScorePolarity returns the mean polarity of opinion words in text, clamped
// to [-1, 1], and how many opinion words contributed.
func ScorePolarity(text string) (score float64, words int) {
	tokens := lexTokens(text)
	sum := 0.0
	negatedUntil := -1

	for i, tok := range tokens {
		if negators[tok] || strings.HasSuffix(tok, "n't") {
			negatedUntil = i + negationScope
			continue
		}
		p, ok := polarity[tok]
		if !ok {
			continue
		}
		if i > 0 {
			if f, ok := intensifiers[tokens[i-1]]; ok {
				p *= f
			}
		}
		if i <= negatedUntil {
			p *= negationFactor
		}
		sum += clamp(p)
		words++
	}

	if words == 0 {
		return 0, 0
	}
	return clamp(sum / float64(words)), words
}
