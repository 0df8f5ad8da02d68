package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/bits"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Fingerprint identifies a candidate for duplicate detection.
type Fingerprint struct {
	Exact  string   // hex SHA-256 over normalized title and link
	Near   uint64   // SimHash over the normalized title token set
	Link   string   // canonical link
	Tokens []string // distinct normalized title tokens, sorted
}

// attribution matches a trailing " - Source", " | Source" or " — Source"
// of at most four words.
var attribution = regexp.MustCompile(`\s+[-|–—]\s+(\S+(\s+\S+){0,3})\s*$`)

// NormalizeTitle folds a title to the form used for fingerprinting: NFKC,
// lower case, trailing source attribution removed, punctuation dropped and
// whitespace collapsed.
func NormalizeTitle(title string) string {
	s := norm.NFKC.String(title)
	s = strings.ToLower(strings.TrimSpace(s))
	if loc := attribution.FindStringIndex(s); loc != nil && loc[0] > 0 {
		s = s[:loc[0]]
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeLink returns the canonical form of a link: lower-cased scheme and
// host, no fragment, no tracking parameters, no trailing slash.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.TrimRight(link, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// Tokens returns the distinct tokens of a normalized title, sorted.
func Tokens(normalized string) []string {
	fields := strings.Fields(normalized)
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// SimHash computes a 64-bit locality-sensitive fingerprint of a token set.
// Token order and repetition do not affect the result.
func SimHash(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}
	var v [64]int
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if v[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// MinHash signature layout: minHashBands bands of minHashRows rows. Two token
// sets with Jaccard similarity J share at least one band with probability
// 1-(1-J^rows)^bands, above 0.9999 at J = 0.8.
const (
	minHashBands = 10
	minHashRows  = 2
)

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// MinHashBands returns one bucket key per band of the MinHash signature of a
// token set, or nil for an empty set.
func MinHashBands(tokens []string) []uint64 {
	if len(tokens) == 0 {
		return nil
	}
	var sig [minHashBands * minHashRows]uint64
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		for i := range sig {
			if v := mix(h ^ uint64(i+1)*0x9e3779b97f4a7c15); v < sig[i] {
				sig[i] = v
			}
		}
	}
	out := make([]uint64, minHashBands)
	for b := range out {
		key := uint64(b)
		for r := 0; r < minHashRows; r++ {
			key = mix(key ^ bits.RotateLeft64(sig[b*minHashRows+r], 17*r))
		}
		out[b] = key
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b| for sorted, distinct token slices.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, inter := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Compute derives both fingerprints for a title and link.
func Compute(title, link string) Fingerprint {
	nt := NormalizeTitle(title)
	nl := NormalizeLink(link)
	sum := sha256.Sum256([]byte(nt + "\n" + nl))
	tokens := Tokens(nt)
	return Fingerprint{
		Exact:  hex.EncodeToString(sum[:]),
		Near:   SimHash(tokens),
		Link:   nl,
		Tokens: tokens,
	}
}
