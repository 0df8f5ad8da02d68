// Package dedup classifies candidate articles as new, exact duplicates or
// near duplicates of articles seen within a sliding window.
package dedup

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// Verdict is the outcome of classifying a candidate.
type Verdict int

const (
	VerdictNew Verdict = iota
	ExactDuplicate
	NearDuplicate
)

func (v Verdict) String() string {
	switch v {
	case VerdictNew:
		return "new"
	case ExactDuplicate:
		return "exact_duplicate"
	case NearDuplicate:
		return "near_duplicate"
	default:
		return "unknown"
	}
}

// Match is a classification result. For duplicates ArticleID names the
// article already held. For near matches Distance is the SimHash Hamming
// distance and Similarity the Jaccard similarity of the title tokens.
type Match struct {
	Verdict    Verdict
	ArticleID  string
	Distance   int
	Similarity float64
}

// Stats counts verdicts since construction.
type Stats struct {
	New            int64 `json:"new"`
	ExactDuplicate int64 `json:"exact_duplicates"`
	NearDuplicate  int64 `json:"near_duplicates"`
}

type entry struct {
	id    string
	fp    Fingerprint
	lsh   []uint64 // MinHash band keys
	at    time.Time
	alive bool
}

// Deduplicator holds the fingerprints of recent articles. Lookups go through
// hash maps: one for exact fingerprints, one for canonical links, one per
// SimHash band and one per MinHash band, so a check never scans the window.
//
// A candidate is a near duplicate of a held entry when their SimHashes are
// within maxHamming bits or their title token sets have a Jaccard similarity
// of at least minJaccard. The second test catches one-word rewordings of
// short titles, which move a 64-bit SimHash by more than a few bits.
type Deduplicator struct {
	mu         sync.RWMutex
	window     time.Duration
	maxHamming int
	minJaccard float64
	bandBits   uint
	exact      map[string]*entry
	links      map[string]*entry
	bands      []map[uint64][]*entry
	lsh        []map[uint64][]*entry
	byID       map[string]*entry
	order      []*entry // insertion order, for expiry
	now        func() time.Time
	logger     arbor.ILogger

	nNew, nExact, nNear atomic.Int64
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithWindow sets how long fingerprints are remembered.
func WithWindow(d time.Duration) Option {
	return func(d2 *Deduplicator) { d2.window = d }
}

// WithMaxHamming sets the near-duplicate distance bound.
func WithMaxHamming(k int) Option {
	return func(d *Deduplicator) { d.maxHamming = k }
}

// WithMinJaccard sets the title token similarity at or above which a
// candidate is a near duplicate.
func WithMinJaccard(j float64) Option {
	return func(d *Deduplicator) { d.minJaccard = j }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l arbor.ILogger) Option {
	return func(d *Deduplicator) { d.logger = infra.OrNop(l) }
}

// New creates a Deduplicator with a 72h window, a Hamming bound of 3 and a
// Jaccard threshold of 0.8.
func New(opts ...Option) *Deduplicator {
	d := &Deduplicator{
		window:     72 * time.Hour,
		maxHamming: 3,
		minJaccard: 0.8,
		exact:      make(map[string]*entry),
		links:      make(map[string]*entry),
		byID:       make(map[string]*entry),
		now:        time.Now,
		logger:     infra.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxHamming < 0 {
		d.maxHamming = 0
	}
	// With k+1 bands any two fingerprints within distance k agree on at
	// least one whole band.
	nb := d.maxHamming + 1
	d.bandBits = uint(64 / nb)
	d.bands = make([]map[uint64][]*entry, nb)
	for i := range d.bands {
		d.bands[i] = make(map[uint64][]*entry)
	}
	d.lsh = make([]map[uint64][]*entry, minHashBands)
	for i := range d.lsh {
		d.lsh[i] = make(map[uint64][]*entry)
	}
	return d
}

func (d *Deduplicator) band(fp uint64, i int) uint64 {
	shift := uint(i) * d.bandBits
	mask := uint64(1)<<d.bandBits - 1
	if d.bandBits == 64 {
		mask = ^uint64(0)
	}
	return (fp >> shift) & mask
}

// Check classifies fp without recording it.
func (d *Deduplicator) Check(fp Fingerprint) Match {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(fp, d.now().Add(-d.window))
}

// Admit classifies fp and, when it is new, records it under id in the same
// critical section so concurrent near-identical candidates cannot both be
// admitted. Counters are updated for every verdict.
func (d *Deduplicator) Admit(id string, fp Fingerprint) Match {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now.Add(-d.window))

	m := d.lookup(fp, now.Add(-d.window))
	switch m.Verdict {
	case ExactDuplicate:
		d.nExact.Add(1)
	case NearDuplicate:
		d.nNear.Add(1)
	default:
		d.nNew.Add(1)
		d.insert(id, fp, now)
	}
	return m
}

// Forget drops a previously admitted id, for example when persisting it failed.
func (d *Deduplicator) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byID[id]; ok {
		d.remove(e)
	}
}

// Warm loads fingerprints of stored articles, typically the last window's
// worth. Entries are inserted oldest first so expiry stays ordered.
func (d *Deduplicator) Warm(articles []models.Article) int {
	sorted := make([]models.Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ScrapedAt.Before(sorted[j].ScrapedAt) })

	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.window)
	n := 0
	for _, a := range sorted {
		if a.ScrapedAt.Before(cutoff) || a.ContentHash == "" {
			continue
		}
		if _, ok := d.byID[a.ID]; ok {
			continue
		}
		d.insert(a.ID, Fingerprint{
			Exact:  a.ContentHash,
			Near:   a.SimHash,
			Link:   NormalizeLink(a.Link),
			Tokens: Tokens(NormalizeTitle(a.Title)),
		}, a.ScrapedAt)
		n++
	}
	// live admissions may already be held; keep the expiry queue ordered
	sort.SliceStable(d.order, func(i, j int) bool { return d.order[i].at.Before(d.order[j].at) })
	d.logger.Debug().Int("articles", n).Msg("Dedup index warmed")
	return n
}

// Stats returns verdict counters.
func (d *Deduplicator) Stats() Stats {
	return Stats{New: d.nNew.Load(), ExactDuplicate: d.nExact.Load(), NearDuplicate: d.nNear.Load()}
}

// Len returns the number of fingerprints held.
func (d *Deduplicator) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// lookup must be called with mu held. Entries older than cutoff are ignored.
func (d *Deduplicator) lookup(fp Fingerprint, cutoff time.Time) Match {
	if e, ok := d.exact[fp.Exact]; ok && !e.at.Before(cutoff) {
		return Match{Verdict: ExactDuplicate, ArticleID: e.id}
	}
	if fp.Link != "" {
		if e, ok := d.links[fp.Link]; ok && !e.at.Before(cutoff) {
			return Match{Verdict: ExactDuplicate, ArticleID: e.id}
		}
	}

	best := Match{Verdict: VerdictNew}
	seen := make(map[*entry]bool)
	consider := func(e *entry) {
		if seen[e] || e.at.Before(cutoff) {
			return
		}
		seen[e] = true
		dist := Hamming(fp.Near, e.fp.Near)
		sim := Jaccard(fp.Tokens, e.fp.Tokens)
		if dist > d.maxHamming && sim < d.minJaccard {
			return
		}
		if best.Verdict == VerdictNew || sim > best.Similarity ||
			(sim == best.Similarity && dist < best.Distance) {
			best = Match{Verdict: NearDuplicate, ArticleID: e.id, Distance: dist, Similarity: sim}
		}
	}
	for i, table := range d.bands {
		for _, e := range table[d.band(fp.Near, i)] {
			consider(e)
		}
	}
	for i, key := range MinHashBands(fp.Tokens) {
		for _, e := range d.lsh[i][key] {
			consider(e)
		}
	}
	return best
}

// insert must be called with mu held.
func (d *Deduplicator) insert(id string, fp Fingerprint, at time.Time) {
	e := &entry{id: id, fp: fp, lsh: MinHashBands(fp.Tokens), at: at, alive: true}
	d.byID[id] = e
	d.exact[fp.Exact] = e
	if fp.Link != "" {
		d.links[fp.Link] = e
	}
	for i, table := range d.bands {
		b := d.band(fp.Near, i)
		table[b] = append(table[b], e)
	}
	for i, key := range e.lsh {
		d.lsh[i][key] = append(d.lsh[i][key], e)
	}
	d.order = append(d.order, e)
}

// remove must be called with mu held.
func (d *Deduplicator) remove(e *entry) {
	if !e.alive {
		return
	}
	e.alive = false
	delete(d.byID, e.id)
	if d.exact[e.fp.Exact] == e {
		delete(d.exact, e.fp.Exact)
	}
	if d.links[e.fp.Link] == e {
		delete(d.links, e.fp.Link)
	}
	for i, table := range d.bands {
		unlink(table, d.band(e.fp.Near, i), e)
	}
	for i, key := range e.lsh {
		unlink(d.lsh[i], key, e)
	}
}

func unlink(table map[uint64][]*entry, key uint64, e *entry) {
	list := table[key]
	for j, other := range list {
		if other == e {
			list = append(list[:j], list[j+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(table, key)
	} else {
		table[key] = list
	}
}

// expire drops entries older than cutoff from the front of the insertion
// order. Must be called with mu held.
func (d *Deduplicator) expire(cutoff time.Time) {
	i := 0
	for ; i < len(d.order); i++ {
		e := d.order[i]
		if e.alive && !e.at.Before(cutoff) {
			break
		}
		d.remove(e)
	}
	if i > 0 {
		d.order = append(d.order[:0:0], d.order[i:]...)
	}
}
