// Package entity recognizes instruments and sectors mentioned in article text.
//
// Recognition runs against a versioned reference corpus. The corpus is built
// offline from an exchange listing (BuildCorpus) and consumed read-only.
package entity

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/seenimoa/marketpulse/pkg/models"
	"github.com/seenimoa/marketpulse/pkg/utils"
)

//go:embed default_corpus.toml
var defaultCorpus []byte

// Corpus is the reference data the recognizer matches against.
type Corpus struct {
	Version     string              `toml:"version"`
	Sectors     []models.Sector     `toml:"sectors"`
	Instruments []models.Instrument `toml:"instruments"`
}

// ErrEmptyCorpus is returned when a corpus has no instruments.
var ErrEmptyCorpus = errors.New("entity: corpus has no instruments")

// DefaultCorpus returns the embedded corpus covering the NIFTY 50 and the
// standard sector keyword table.
func DefaultCorpus() (*Corpus, error) {
	return ParseCorpus(defaultCorpus)
}

// LoadCorpus reads a TOML corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	c, err := ParseCorpus(data)
	if err != nil {
		return nil, fmt.Errorf("corpus %s: %w", path, err)
	}
	return c, nil
}

// ParseCorpus decodes a TOML corpus and fills in missing variants.
func ParseCorpus(data []byte) (*Corpus, error) {
	var c Corpus
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	if len(c.Instruments) == 0 {
		return nil, ErrEmptyCorpus
	}
	c.normalize()
	return &c, nil
}

// Encode writes the corpus as TOML.
func (c *Corpus) Encode(w io.Writer) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func (c *Corpus) normalize() {
	for i := range c.Instruments {
		inst := &c.Instruments[i]
		inst.Symbol = utils.NormalizeSymbol(inst.Symbol)
		inst.Sector = strings.ToLower(strings.TrimSpace(inst.Sector))
		if len(inst.Variants) == 0 {
			inst.Variants = Variants(inst.Symbol, inst.Name)
		}
	}
	for i := range c.Sectors {
		c.Sectors[i].Name = strings.ToLower(strings.TrimSpace(c.Sectors[i].Name))
	}
}

var legalSuffix = regexp.MustCompile(`(?i)\s+(ltd|limited|pvt|private|corporation|corp|inc|company)\.?\s*$`)

// StripLegalSuffix removes trailing legal-form words such as "Ltd" or
// "Private Limited". "Industries" and similar descriptive words are kept.
func StripLegalSuffix(name string) string {
	name = strings.TrimSpace(name)
	for {
		stripped := legalSuffix.ReplaceAllString(name, "")
		if stripped == name || stripped == "" {
			return name
		}
		name = stripped
	}
}

// Variants returns the lower-cased name variants of an instrument: the full
// name, the legal-suffix-stripped name, an acronym of multi-word names and
// the known aliases of the symbol.
func Variants(symbol, name string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		v = normalizeText(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}

	add(name)
	stripped := StripLegalSuffix(name)
	add(stripped)

	words := strings.Fields(normalizeText(stripped))
	if len(words) > 1 {
		var b strings.Builder
		for _, w := range words {
			if w == "&" || w == "and" || w == "of" {
				continue
			}
			r := []rune(w)
			b.WriteRune(r[0])
		}
		if b.Len() >= 3 {
			add(b.String())
		}
	}
	for _, alias := range utils.AliasesFor(symbol) {
		add(alias)
	}
	return out
}

// industrySectors maps exchange industry labels to corpus sector names.
var industrySectors = []struct {
	needle string
	sector string
}{
	{"bank", "banking"},
	{"financial services", "banking"},
	{"finance", "banking"},
	{"information technology", "it"},
	{"software", "it"},
	{"pharma", "pharma"},
	{"healthcare", "pharma"},
	{"automobile", "auto"},
	{"auto", "auto"},
	{"fast moving consumer goods", "fmcg"},
	{"fmcg", "fmcg"},
	{"consumer goods", "fmcg"},
	{"oil", "energy"},
	{"gas", "energy"},
	{"power", "energy"},
	{"energy", "energy"},
	{"metal", "metals"},
	{"mining", "metals"},
	{"telecom", "telecom"},
	{"realty", "realty"},
	{"real estate", "realty"},
	{"construction", "infrastructure"},
	{"capital goods", "infrastructure"},
	{"infrastructure", "infrastructure"},
	{"cement", "infrastructure"},
}

// SectorForIndustry maps an exchange industry label to a sector name, or ""
// when no sector matches.
func SectorForIndustry(industry string) string {
	l := strings.ToLower(industry)
	if l == "it" {
		return "it"
	}
	for _, m := range industrySectors {
		if strings.Contains(l, m.needle) {
			return m.sector
		}
	}
	return ""
}

// BuildCorpus reads an exchange listing CSV with the columns Symbol,
// Company Name and Industry and returns a corpus with precomputed variants.
// Sector keyword tables are taken from sectors.
func BuildCorpus(r io.Reader, version string, sectors []models.Sector) (*Corpus, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	symIdx, ok1 := col["symbol"]
	nameIdx, ok2 := col["company name"]
	indIdx, hasIndustry := col["industry"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("csv must have Symbol and Company Name columns, got %v", header)
	}

	c := &Corpus{Version: version, Sectors: sectors}
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if symIdx >= len(rec) || nameIdx >= len(rec) {
			continue
		}
		symbol := utils.NormalizeSymbol(rec[symIdx])
		name := strings.TrimSpace(rec[nameIdx])
		if symbol == "" || name == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true

		var sector string
		if hasIndustry && indIdx < len(rec) {
			sector = SectorForIndustry(rec[indIdx])
		}
		c.Instruments = append(c.Instruments, models.Instrument{
			Symbol:   symbol,
			Name:     name,
			Sector:   sector,
			Variants: Variants(symbol, name),
		})
	}
	if len(c.Instruments) == 0 {
		return nil, ErrEmptyCorpus
	}
	sort.Slice(c.Instruments, func(i, j int) bool { return c.Instruments[i].Symbol < c.Instruments[j].Symbol })
	return c, nil
}
