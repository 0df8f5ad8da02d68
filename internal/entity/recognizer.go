package entity

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/ternarybob/arbor"
	"golang.org/x/text/unicode/norm"

	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// Method records how an instrument was matched.
type Method string

const (
	MethodSymbol Method = "symbol"
	MethodName   Method = "name"
	MethodFuzzy  Method = "fuzzy"
)

// Match is one recognized instrument.
type Match struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Sector     string  `json:"sector,omitempty"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
	Span       string  `json:"span"` // text that produced the match
}

// SectorMatch is one attributed sector.
type SectorMatch struct {
	Sector string  `json:"sector"`
	Weight float64 `json:"weight"`
	Via    string  `json:"via"` // "instrument" or "keyword"
}

// Result is the outcome of recognizing one text. An empty result is valid.
type Result struct {
	Instruments []Match       `json:"instruments"`
	Sectors     []SectorMatch `json:"sectors"`
}

// Symbols returns the matched instrument symbols in result order.
func (r Result) Symbols() []string {
	out := make([]string, 0, len(r.Instruments))
	for _, m := range r.Instruments {
		out = append(out, m.Symbol)
	}
	return out
}

// SectorNames returns the attributed sector names in result order.
func (r Result) SectorNames() []string {
	out := make([]string, 0, len(r.Sectors))
	for _, s := range r.Sectors {
		out = append(out, s.Sector)
	}
	return out
}

// Metric returns the similarity of two lower-cased strings in [0, 1].
type Metric func(a, b string) float64

// LevenshteinSimilarity is the default metric: 1 - distance/max(len).
func LevenshteinSimilarity() Metric {
	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = false
	return func(a, b string) float64 {
		return strutil.Similarity(a, b, lev)
	}
}

const (
	// DefaultThreshold is the minimum similarity for a fuzzy match.
	DefaultThreshold = 0.85
	// DefaultMinSpanLength is the minimum length of a fuzzy candidate span.
	DefaultMinSpanLength = 4

	maxSpanWords   = 4
	shortVariant   = 4 // variants shorter than this only match exactly
	similarityEps  = 1e-9
	sectorViaInst  = "instrument"
	sectorViaTerms = "keyword"
)

type variant struct {
	text   string
	length int // rune count
	symbol string
}

type sectorTerm struct {
	sector string
	weight float64
}

// Recognizer maps free text to instruments and sectors. It is immutable after
// construction and safe for concurrent use.
type Recognizer struct {
	version     string
	instruments map[string]*models.Instrument
	phrases     map[string][]string // long variants, exact phrase lookup
	short       map[string][]string // short variants, upper-case token lookup
	fuzzy       []variant           // long variants sorted by length
	terms       map[string][]sectorTerm
	maxPhrase   int
	maxTerm     int

	threshold    float64
	minSpan      int
	metric       Metric
	lengthFilter bool
	logger       arbor.ILogger
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithThreshold sets the fuzzy acceptance threshold.
func WithThreshold(t float64) Option {
	return func(r *Recognizer) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

// WithMinSpanLength sets the minimum fuzzy span length in characters.
func WithMinSpanLength(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.minSpan = n
		}
	}
}

// WithMetric replaces the similarity metric. The length pre-filter assumes an
// edit-distance metric, so it is disabled for custom metrics.
func WithMetric(m Metric) Option {
	return func(r *Recognizer) {
		if m != nil {
			r.metric = m
			r.lengthFilter = false
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l arbor.ILogger) Option {
	return func(r *Recognizer) { r.logger = infra.OrNop(l) }
}

// NewRecognizer indexes a corpus for matching.
func NewRecognizer(c *Corpus, opts ...Option) *Recognizer {
	r := &Recognizer{
		version:      c.Version,
		instruments:  make(map[string]*models.Instrument, len(c.Instruments)),
		phrases:      make(map[string][]string),
		short:        make(map[string][]string),
		terms:        make(map[string][]sectorTerm),
		threshold:    DefaultThreshold,
		minSpan:      DefaultMinSpanLength,
		metric:       LevenshteinSimilarity(),
		lengthFilter: true,
		logger:       infra.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := range c.Instruments {
		inst := c.Instruments[i]
		if inst.Symbol == "" {
			continue
		}
		r.instruments[inst.Symbol] = &inst
		variants := inst.Variants
		if len(variants) == 0 {
			variants = Variants(inst.Symbol, inst.Name)
		}
		for _, v := range variants {
			r.addVariant(normalizeText(v), inst.Symbol)
		}
	}
	sort.Slice(r.fuzzy, func(i, j int) bool {
		if r.fuzzy[i].length != r.fuzzy[j].length {
			return r.fuzzy[i].length < r.fuzzy[j].length
		}
		return r.fuzzy[i].text < r.fuzzy[j].text
	})

	for _, sec := range c.Sectors {
		for _, kw := range sec.Keywords {
			term := normalizeText(kw.Term)
			if term == "" || kw.Weight <= 0 {
				continue
			}
			r.terms[term] = append(r.terms[term], sectorTerm{sector: sec.Name, weight: kw.Weight})
			if n := len(strings.Fields(term)); n > r.maxTerm {
				r.maxTerm = n
			}
		}
	}

	r.logger.Debug().
		Str("version", r.version).
		Int("instruments", len(r.instruments)).
		Int("variants", len(r.fuzzy)).
		Int("sector_terms", len(r.terms)).
		Msg("Entity recognizer indexed")
	return r
}

func (r *Recognizer) addVariant(v, symbol string) {
	if v == "" {
		return
	}
	n := utf8.RuneCountInString(v)
	if n < shortVariant && !strings.Contains(v, " ") {
		r.short[v] = appendUnique(r.short[v], symbol)
		return
	}
	if existing := r.phrases[v]; containsString(existing, symbol) {
		return
	}
	r.phrases[v] = append(r.phrases[v], symbol)
	r.fuzzy = append(r.fuzzy, variant{text: v, length: n, symbol: symbol})
	if w := len(strings.Fields(v)); w > r.maxPhrase {
		r.maxPhrase = w
	}
}

// Version returns the corpus version.
func (r *Recognizer) Version() string { return r.version }

// Instrument returns a corpus instrument by symbol.
func (r *Recognizer) Instrument(symbol string) (models.Instrument, bool) {
	inst, ok := r.instruments[symbol]
	if !ok {
		return models.Instrument{}, false
	}
	return *inst, true
}

// InstrumentCount returns the number of indexed instruments.
func (r *Recognizer) InstrumentCount() int { return len(r.instruments) }

var symbolToken = regexp.MustCompile(`\b[A-Z][A-Z0-9&-]{1,19}\b`)

// Recognize returns the distinct instruments and sectors mentioned in text.
func (r *Recognizer) Recognize(text string) Result {
	text = norm.NFKC.String(text)
	toks := tokenize(text)
	best := make(map[string]Match)
	keep := func(m Match) {
		if cur, ok := best[m.Symbol]; ok && cur.Confidence >= m.Confidence {
			return
		}
		inst := r.instruments[m.Symbol]
		m.Name, m.Sector = inst.Name, inst.Sector
		best[m.Symbol] = m
	}

	// Exact ticker symbols.
	for _, s := range symbolToken.FindAllString(text, -1) {
		if _, ok := r.instruments[s]; ok {
			keep(Match{Symbol: s, Confidence: 1, Method: MethodSymbol, Span: s})
		}
	}

	// Exact names and variants, longest phrase first.
	consumed := make([]bool, len(toks))
	for n := r.maxPhrase; n >= 1; n-- {
		for i := 0; i+n <= len(toks); i++ {
			if anyConsumed(consumed, i, n) {
				continue
			}
			phrase := joinNorm(toks[i : i+n])
			syms := r.phrases[phrase]
			if len(syms) == 0 && n == 1 && isUpperToken(toks[i].text) {
				syms = r.short[phrase]
			}
			if len(syms) == 0 {
				continue
			}
			for _, s := range syms {
				keep(Match{Symbol: s, Confidence: 1, Method: MethodName, Span: joinText(toks[i : i+n])})
			}
			for k := i; k < i+n; k++ {
				consumed[k] = true
			}
		}
	}

	// Fuzzy matching over unconsumed capitalized spans.
	for i := range toks {
		if consumed[i] || !isCapitalized(toks[i].text) {
			continue
		}
		for n := 1; n <= maxSpanWords && i+n <= len(toks); n++ {
			if consumed[i+n-1] {
				break
			}
			span := joinNorm(toks[i : i+n])
			if utf8.RuneCountInString(span) < r.minSpan {
				continue
			}
			for _, m := range r.fuzzyMatches(span) {
				m.Span = joinText(toks[i : i+n])
				keep(m)
			}
		}
	}

	var res Result
	for _, m := range best {
		res.Instruments = append(res.Instruments, m)
	}
	sort.Slice(res.Instruments, func(i, j int) bool {
		a, b := res.Instruments[i], res.Instruments[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Symbol < b.Symbol
	})
	res.Sectors = r.sectors(toks, res.Instruments)
	return res
}

func (r *Recognizer) fuzzyMatches(span string) []Match {
	candidates := r.fuzzy
	if r.lengthFilter {
		l := float64(utf8.RuneCountInString(span))
		lo := int(math.Ceil(l*r.threshold - similarityEps))
		hi := int(math.Floor(l/r.threshold + similarityEps))
		start := sort.Search(len(candidates), func(i int) bool { return candidates[i].length >= lo })
		end := sort.Search(len(candidates), func(i int) bool { return candidates[i].length > hi })
		if start >= end {
			return nil
		}
		candidates = candidates[start:end]
	}

	var out []Match
	for _, v := range candidates {
		sim := r.metric(span, v.text)
		if sim+similarityEps >= r.threshold {
			out = append(out, Match{Symbol: v.symbol, Confidence: math.Min(sim, 1), Method: MethodFuzzy})
		}
	}
	return out
}

func (r *Recognizer) sectors(toks []token, matched []Match) []SectorMatch {
	best := make(map[string]SectorMatch)
	for _, m := range matched {
		if m.Sector != "" {
			best[m.Sector] = SectorMatch{Sector: m.Sector, Weight: 1, Via: sectorViaInst}
		}
	}
	// Longest term first so "tech mahindra" does not also count as "mahindra".
	consumed := make([]bool, len(toks))
	for n := r.maxTerm; n >= 1; n-- {
		for i := 0; i+n <= len(toks); i++ {
			if anyConsumed(consumed, i, n) {
				continue
			}
			terms := r.terms[joinNorm(toks[i:i+n])]
			if len(terms) == 0 {
				continue
			}
			for k := i; k < i+n; k++ {
				consumed[k] = true
			}
			for _, t := range terms {
				if cur, ok := best[t.sector]; ok && cur.Weight >= t.weight {
					continue
				}
				best[t.sector] = SectorMatch{Sector: t.sector, Weight: t.weight, Via: sectorViaTerms}
			}
		}
	}

	out := make([]SectorMatch, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Sector < out[j].Sector
	})
	return out
}

type token struct {
	text string // as written
	norm string // lower-cased
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&'
}

func tokenize(s string) []token {
	var toks []token
	start := -1
	for i, r := range s {
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			toks = append(toks, newToken(s[start:i]))
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, newToken(s[start:]))
	}
	return toks
}

func newToken(t string) token {
	return token{text: t, norm: strings.ToLower(t)}
}

// normalizeText lower-cases s and reduces it to single-space separated tokens.
func normalizeText(s string) string {
	return joinNorm(tokenize(norm.NFKC.String(s)))
}

func joinNorm(toks []token) string {
	if len(toks) == 1 {
		return toks[0].norm
	}
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.norm
	}
	return strings.Join(parts, " ")
}

func joinText(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.text
	}
	return strings.Join(parts, " ")
}

func isCapitalized(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func isUpperToken(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 2
}

func anyConsumed(consumed []bool, i, n int) bool {
	for k := i; k < i+n; k++ {
		if consumed[k] {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	return append(list, s)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
