package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/marketpulse/pkg/models"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Reliance Q3 profit jumps 20%", "reliance q3 profit jumps 20"},
		{"Reliance Q3 profit jumps 20% - Economic Times", "reliance q3 profit jumps 20"},
		{"Reliance Q3 profit jumps 20% | Moneycontrol", "reliance q3 profit jumps 20"},
		{"Reliance Q3 profit jumps 20% — The Hindu BusinessLine", "reliance q3 profit jumps 20"},
		{"  Reliance,   Q3 profit: jumps 20%!  ", "reliance q3 profit jumps 20"},
		{"Ｒｅｌｉａｎｃｅ full-width", "reliance full width"},
		// a long tail after the dash is content, not attribution
		{"Sensex - markets rally as banks and IT stocks surge", "sensex markets rally as banks and it stocks surge"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), tt.in)
	}
}

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.COM/news/a/", "https://example.com/news/a"},
		{"HTTPS://example.com/news/a#comments", "https://example.com/news/a"},
		{"https://example.com/news/a?utm_source=rss&utm_medium=feed", "https://example.com/news/a"},
		{"https://example.com/news/a?id=7&utm_campaign=x", "https://example.com/news/a?id=7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLink(tt.in), tt.in)
	}
}

func TestSimHashOrderIndependent(t *testing.T) {
	a := SimHash(Tokens(NormalizeTitle("Reliance shares rally on strong results")))
	b := SimHash(Tokens(NormalizeTitle("strong results: Reliance shares rally on")))
	c := SimHash(Tokens(NormalizeTitle("Reliance Reliance shares rally on strong results")))
	assert.Equal(t, a, b)
	assert.Equal(t, a, c, "repetition does not matter")
	assert.Equal(t, uint64(0), SimHash(nil))
}

func TestComputeFingerprints(t *testing.T) {
	a := Compute("Reliance Q3 profit jumps - ET", "https://example.com/a")
	b := Compute("Reliance Q3 profit jumps", "https://example.com/a/")
	c := Compute("Reliance Q3 profit jumps | Mint", "https://other.com/b")

	assert.Len(t, a.Exact, 64)
	assert.Equal(t, a.Exact, b.Exact, "attribution and trailing slash are normalized away")
	assert.NotEqual(t, a.Exact, c.Exact, "different link, different exact fingerprint")
	assert.Equal(t, a.Near, c.Near)
}

func TestExactDuplicate(t *testing.T) {
	d := New()
	fp := Compute("TCS wins $2bn deal", "https://example.com/tcs")

	assert.Equal(t, VerdictNew, d.Admit("a1", fp).Verdict)
	m := d.Admit("a2", fp)
	assert.Equal(t, ExactDuplicate, m.Verdict)
	assert.Equal(t, "a1", m.ArticleID)
}

func TestLinkReuseIsExactDuplicate(t *testing.T) {
	d := New()
	require.Equal(t, VerdictNew, d.Admit("a1", Compute("Original headline", "https://example.com/x")).Verdict)

	m := d.Admit("a2", Compute("Completely rewritten headline about something else", "https://example.com/x?utm_source=tw"))
	assert.Equal(t, ExactDuplicate, m.Verdict)
}

func TestNearDuplicateTrailingSourceSuffix(t *testing.T) {
	d := New()
	first := Compute("Reliance Industries shares surge on strong Q3 results", "https://et.example.com/ril-q3")
	second := Compute("Reliance Industries shares surge on strong Q3 results - Business Standard", "https://bs.example.com/ril")

	require.NotEqual(t, first.Exact, second.Exact)
	assert.Equal(t, VerdictNew, d.Admit("a1", first).Verdict)

	m := d.Admit("a2", second)
	assert.Equal(t, NearDuplicate, m.Verdict)
	assert.Equal(t, "a1", m.ArticleID)

	assert.Equal(t, Stats{New: 1, NearDuplicate: 1}, d.Stats())
	assert.Equal(t, 1, d.Len(), "only one is held")
}

func TestNearDuplicateShortTitles(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
		want   Verdict
	}{
		{
			name:   "one word swapped in eleven",
			first:  "Tata Motors shares jump after strong Jaguar Land Rover sales data",
			second: "Tata Motors shares climb after strong Jaguar Land Rover sales data",
			want:   NearDuplicate,
		},
		{
			name:   "one word swapped in sixteen",
			first:  "RBI keeps repo rate unchanged at 6.5 percent as inflation eases further in March quarter",
			second: "RBI keeps repo rate unchanged at 6.5 percent as inflation cools further in March quarter",
			want:   NearDuplicate,
		},
		{
			name:   "95 percent similar",
			first:  "Infosys shares rise 3 percent after company raises full year revenue guidance on strong deal wins in Europe",
			second: "Infosys shares rise 3 percent after company raises full year revenue guidance on strong deal wins in Europe today",
			want:   NearDuplicate,
		},
		{
			name:   "opposite move",
			first:  "Sensex rises 200 points",
			second: "Sensex falls 200 points",
			want:   VerdictNew,
		},
		{
			name:   "different bank",
			first:  "SBI reports record quarterly profit",
			second: "HDFC Bank reports record quarterly profit",
			want:   VerdictNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			require.Equal(t, VerdictNew, d.Admit("a1", Compute(tt.first, "https://a.example.com/1")).Verdict)

			m := d.Admit("a2", Compute(tt.second, "https://b.example.com/2"))
			assert.Equal(t, tt.want, m.Verdict)
			if tt.want == NearDuplicate {
				assert.Equal(t, "a1", m.ArticleID)
				assert.GreaterOrEqual(t, m.Similarity, 0.8)
			}
		})
	}
}

func TestMinJaccardOption(t *testing.T) {
	first := Compute("Tata Motors shares jump after strong Jaguar Land Rover sales data", "https://a.example.com/1")
	second := Compute("Tata Motors shares climb after strong Jaguar Land Rover sales data", "https://b.example.com/2")

	d := New(WithMinJaccard(0.9))
	d.Admit("a1", first)
	assert.Equal(t, VerdictNew, d.Check(second).Verdict)
}

func TestJaccard(t *testing.T) {
	a := Tokens("a b c d")
	assert.InDelta(t, 1.0, Jaccard(a, a), 1e-9)
	assert.InDelta(t, 0.6, Jaccard(a, Tokens("a b c e")), 1e-9)
	assert.InDelta(t, 0.0, Jaccard(a, Tokens("x y")), 1e-9)
	assert.Zero(t, Jaccard(nil, nil))
}

func TestMinHashBands(t *testing.T) {
	a := Tokens("reliance shares rally on strong results")
	b := Tokens("strong results reliance shares rally on")
	assert.Len(t, MinHashBands(a), minHashBands)
	assert.Equal(t, MinHashBands(a), MinHashBands(b), "order independent")
	assert.NotEqual(t, MinHashBands(a), MinHashBands(Tokens("infosys cuts guidance")))
	assert.Nil(t, MinHashBands(nil))
}

func TestExactWinsOverNear(t *testing.T) {
	d := New()
	fp := Compute("Infosys raises guidance", "https://example.com/infy")
	d.Admit("a1", fp)
	assert.Equal(t, ExactDuplicate, d.Check(fp).Verdict)
}

func TestHammingBoundUsesBands(t *testing.T) {
	d := New(WithMaxHamming(3))
	base := uint64(0xDEADBEEFCAFEF00D)
	d.Admit("base", Fingerprint{Exact: "base", Near: base})

	// flip bits spread over every band so no band matches exactly unless
	// the band search is correct
	within := base ^ (1 << 1) ^ (1 << 20) ^ (1 << 40)
	m := d.Check(Fingerprint{Exact: "x", Near: within})
	assert.Equal(t, NearDuplicate, m.Verdict)
	assert.Equal(t, 3, m.Distance)

	beyond := base ^ (1 << 1) ^ (1 << 20) ^ (1 << 40) ^ (1 << 60)
	assert.Equal(t, VerdictNew, d.Check(Fingerprint{Exact: "y", Near: beyond}).Verdict)
}

func TestWindowExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := New(WithWindow(time.Hour), WithClock(func() time.Time { return now }))

	fp := Compute("HDFC Bank merger completes", "https://example.com/hdfc")
	d.Admit("a1", fp)

	now = now.Add(59 * time.Minute)
	assert.Equal(t, ExactDuplicate, d.Check(fp).Verdict)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, VerdictNew, d.Check(fp).Verdict, "outside the window")
	assert.Equal(t, VerdictNew, d.Admit("a2", fp).Verdict)
	assert.Equal(t, 1, d.Len(), "expired entry was dropped")
}

func TestForget(t *testing.T) {
	d := New()
	fp := Compute("Wipro Q3", "https://example.com/wipro")
	d.Admit("a1", fp)
	d.Forget("a1")
	assert.Equal(t, VerdictNew, d.Check(fp).Verdict)
	assert.Equal(t, 0, d.Len())
}

func TestWarm(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := New(WithWindow(24*time.Hour), WithClock(func() time.Time { return now }))

	fresh := Compute("Fresh story", "https://example.com/fresh")
	stale := Compute("Stale story", "https://example.com/stale")
	n := d.Warm([]models.Article{
		{ID: "f", Link: "https://example.com/fresh", ContentHash: fresh.Exact, SimHash: fresh.Near, ScrapedAt: now.Add(-time.Hour)},
		{ID: "s", Link: "https://example.com/stale", ContentHash: stale.Exact, SimHash: stale.Near, ScrapedAt: now.Add(-48 * time.Hour)},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, ExactDuplicate, d.Check(fresh).Verdict)
	assert.Equal(t, VerdictNew, d.Check(stale).Verdict)
}

func TestWarmOutOfOrderStillExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := New(WithWindow(24*time.Hour), WithClock(func() time.Time { return now }))

	newer := Compute("Newer story", "https://example.com/newer")
	older := Compute("Older story", "https://example.com/older")
	// newest first, the order a store listing may return
	n := d.Warm([]models.Article{
		{ID: "n", Title: "Newer story", Link: "https://example.com/newer", ContentHash: newer.Exact, SimHash: newer.Near, ScrapedAt: now.Add(-time.Hour)},
		{ID: "o", Title: "Older story", Link: "https://example.com/older", ContentHash: older.Exact, SimHash: older.Near, ScrapedAt: now.Add(-20 * time.Hour)},
	})
	require.Equal(t, 2, n)

	now = now.Add(5 * time.Hour)
	d.Admit("x", Compute("Unrelated filing", "https://example.com/x"))

	assert.Equal(t, 2, d.Len(), "older entry expired behind the newer one")
	assert.Equal(t, VerdictNew, d.Check(older).Verdict)
	assert.Equal(t, ExactDuplicate, d.Check(newer).Verdict)
}

func TestWarmedTitlesMatchNearDuplicates(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := New(WithClock(func() time.Time { return now }))

	title := "Tata Motors shares jump after strong Jaguar Land Rover sales data"
	fp := Compute(title, "https://a.example.com/1")
	d.Warm([]models.Article{{ID: "w", Title: title, Link: "https://a.example.com/1", ContentHash: fp.Exact, SimHash: fp.Near, ScrapedAt: now}})

	m := d.Check(Compute("Tata Motors shares climb after strong Jaguar Land Rover sales data", "https://b.example.com/2"))
	assert.Equal(t, NearDuplicate, m.Verdict)
	assert.Equal(t, "w", m.ArticleID)
}

func TestConcurrentAdmitHasOneWinner(t *testing.T) {
	d := New()
	const workers = 32

	var wg sync.WaitGroup
	verdicts := make([]Verdict, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// same story, different outlets
			fp := Compute("Adani Ports volumes rise 10% - Outlet", fmt.Sprintf("https://outlet%d.example.com/a", i))
			verdicts[i] = d.Admit(fmt.Sprintf("a%d", i), fp).Verdict
		}(i)
	}
	wg.Wait()

	news := 0
	for _, v := range verdicts {
		if v == VerdictNew {
			news++
		}
	}
	assert.Equal(t, 1, news)
	assert.Equal(t, int64(workers-1), d.Stats().NearDuplicate)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "new", VerdictNew.String())
	assert.Equal(t, "exact_duplicate", ExactDuplicate.String())
	assert.Equal(t, "near_duplicate", NearDuplicate.String())
}
