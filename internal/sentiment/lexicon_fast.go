package sentiment

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/seenimoa/marketpulse/internal/config"
)

// ------------------------------------------------------------------
// Keyword-based financial scorer (offline, no model needed).
// Terms are matched on word boundaries, longest phrase first, with light
// suffix stripping so "surges" and "plunged" hit "surge" and "plunge".
// ------------------------------------------------------------------

// bullish / bearish keyword dictionaries (lowercase).
var bullishWords = map[string]float64{
	"bullish": 0.7, "rally": 0.6, "surge": 0.7, "upbeat": 0.5,
	"positive": 0.4, "growth": 0.4, "upgrade": 0.6, "outperform": 0.6,
	"buy": 0.5, "strong": 0.4, "recovery": 0.5, "breakout": 0.6,
	"record high": 0.7, "all-time high": 0.7, "beat": 0.5,
	"exceed": 0.5, "beats estimates": 0.6, "expansion": 0.4,
	"profit": 0.3, "dividend": 0.4, "accumulate": 0.5,
	"gain": 0.4, "jump": 0.5, "soar": 0.7, "climb": 0.4,
	"rise": 0.3, "margin expansion": 0.5, "order win": 0.5, "buyback": 0.5,
}

var bearishWords = map[string]float64{
	"bearish": 0.7, "crash": 0.8, "plunge": 0.7, "slump": 0.6,
	"negative": 0.4, "downgrade": 0.6, "underperform": 0.6,
	"sell": 0.5, "weak": 0.4, "decline": 0.5, "loss": 0.4,
	"selloff": 0.7, "sell-off": 0.7, "fall": 0.4, "correction": 0.5,
	"default": 0.7, "fraud": 0.8, "scam": 0.8, "investigation": 0.5,
	"cut": 0.3, "miss": 0.5, "warning": 0.5, "concern": 0.3,
	"slide": 0.4, "tumble": 0.6, "drop": 0.4, "penalty": 0.5,
	"raid": 0.5, "margin pressure": 0.5, "profit warning": 0.7,
}

// fastSmoothing damps scores backed by little evidence so that a single weak
// keyword does not read as an extreme.
const fastSmoothing = 0.5

// maxPhraseWords is the longest phrase in either dictionary.
const maxPhraseWords = 2

// LexiconFastBackend scores text with the weighted financial keyword lexicon.
type LexiconFastBackend struct{}

// NewLexiconFast returns the keyword lexicon backend.
func NewLexiconFast() *LexiconFastBackend { return &LexiconFastBackend{} }

func (LexiconFastBackend) Name() string { return config.BackendLexiconFast }

func (b LexiconFastBackend) Score(ctx context.Context, text string, _ *Subject) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, unavailable(b.Name(), err)
	}
	score, matches := ScoreKeywords(text)
	return Result{Score: score, Details: map[string]string{"matches": strconv.Itoa(matches)}}, nil
}

// ScoreKeywords returns a score in [-1, 1] and the number of keyword hits.
// Text without hits scores 0.
func ScoreKeywords(text string) (score float64, matches int) {
	tokens := lexTokens(text)
	bull, bear := 0.0, 0.0

	for i := 0; i < len(tokens); {
		n, w, bullish := matchKeyword(tokens[i:])
		if n == 0 {
			i++
			continue
		}
		if bullish {
			bull += w
		} else {
			bear += w
		}
		matches++
		i += n
	}

	if matches == 0 {
		return 0, 0
	}
	return clamp((bull - bear) / (bull + bear + fastSmoothing)), matches
}

// matchKeyword tries the longest phrase starting at tokens[0]. It returns
// the number of tokens consumed (0 for no match), the weight and polarity.
func matchKeyword(tokens []string) (int, float64, bool) {
	for n := min(maxPhraseWords, len(tokens)); n >= 1; n-- {
		head := strings.Join(tokens[:n-1], " ")
		for _, last := range stems(tokens[n-1]) {
			phrase := last
			if head != "" {
				phrase = head + " " + last
			}
			if w, ok := bullishWords[phrase]; ok {
				return n, w, true
			}
			if w, ok := bearishWords[phrase]; ok {
				return n, w, false
			}
		}
	}
	return 0, 0, false
}

// stems returns the token followed by candidate base forms.
func stems(tok string) []string {
	out := []string{tok}
	add := func(suffix, repl string) {
		if len(tok) > len(suffix)+2 && strings.HasSuffix(tok, suffix) {
			out = append(out, strings.TrimSuffix(tok, suffix)+repl)
		}
	}
	add("ies", "y")
	add("ied", "y")
	add("es", "")
	add("s", "")
	add("ed", "")
	add("d", "")
	add("ing", "")
	add("ing", "e")
	return out
}

// lexTokens lower-cases text and splits it into words. Hyphens and
// apostrophes inside a word are kept.
func lexTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
