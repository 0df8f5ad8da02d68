package aggregate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/marketpulse/pkg/models"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// memScores is an in-memory Reader.
type memScores struct {
	mu      sync.Mutex
	scores  []models.SentimentScore
	sectors []models.Sector
	reads   atomic.Int32
}

func (m *memScores) add(s models.SentimentScore) {
	m.mu.Lock()
	m.scores = append(m.scores, s)
	m.mu.Unlock()
}

func (m *memScores) RecentScores(_ context.Context, key models.EntityKey, from, to time.Time, limit int) ([]models.SentimentScore, error) {
	m.reads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SentimentScore
	for _, s := range m.scores {
		if s.CreatedAt.Before(from) || !s.CreatedAt.Before(to) {
			continue
		}
		switch key.Kind {
		case models.EntityInstrument:
			if s.Symbol != key.ID {
				continue
			}
		case models.EntitySector:
			if s.Sector != key.ID {
				continue
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memScores) ListSectors(context.Context) ([]models.Sector, error) {
	return m.sectors, nil
}

func sectorScore(sector string, composite float64, at time.Time) models.SentimentScore {
	return models.SentimentScore{Sector: sector, Composite: composite, CreatedAt: at}
}

func symbolScore(symbol string, composite float64, at time.Time) models.SentimentScore {
	return models.SentimentScore{Symbol: symbol, Composite: composite, CreatedAt: at}
}

func TestSummarizeEqualAges(t *testing.T) {
	at := t0.Add(-time.Hour)
	scores := []models.SentimentScore{
		symbolScore("TCS", 0.8, at),
		symbolScore("TCS", 0.2, at),
		symbolScore("TCS", -0.4, at),
	}
	key := models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}
	snap := Summarize(key, 24*time.Hour, scores, t0)

	assert.InDelta(t, 0.2, snap.Average, 1e-12)
	assert.InDelta(t, snap.Average, snap.WeightedAvg, 1e-12)
	assert.Equal(t, 3, snap.ArticleCount)
	assert.Equal(t, 1, snap.Distribution[models.LabelVeryPositive])
	assert.Equal(t, 1, snap.Distribution[models.LabelPositive])
	assert.Equal(t, 1, snap.Distribution[models.LabelNegative])
	assert.Equal(t, 0, snap.Distribution[models.LabelNeutral])
	assert.Len(t, snap.Distribution, 5)
}

func TestSummarizeRecencyWeighting(t *testing.T) {
	window := 24 * time.Hour
	scores := []models.SentimentScore{
		symbolScore("TCS", 1, t0.Add(-time.Hour)),     // newest, weight 1
		symbolScore("TCS", -1, t0.Add(-13*time.Hour)), // half window older, weight 0.5
	}
	snap := Summarize(models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}, window, scores, t0)

	assert.InDelta(t, 0, snap.Average, 1e-12)
	assert.InDelta(t, (1-0.5)/1.5, snap.WeightedAvg, 1e-12)
	assert.Greater(t, snap.WeightedAvg, snap.Average)
}

func TestSummarizeEmpty(t *testing.T) {
	snap := Summarize(models.EntityKey{Kind: models.EntityMarket}, time.Hour, nil, t0)
	assert.Zero(t, snap.ArticleCount)
	assert.Zero(t, snap.Average)
	assert.Zero(t, snap.WeightedAvg)
	assert.Equal(t, models.LabelNeutral, snap.Label())
}

func TestSnapshotWindow(t *testing.T) {
	mem := &memScores{}
	mem.add(symbolScore("INFY", 0.5, t0.Add(-time.Hour)))
	mem.add(symbolScore("INFY", -0.9, t0.Add(-30*time.Hour))) // outside window
	mem.add(symbolScore("TCS", 0.9, t0.Add(-time.Hour)))

	a := New(mem, WithClock(func() time.Time { return t0 }))
	snap, err := a.Snapshot(context.Background(), models.EntityKey{Kind: models.EntityInstrument, ID: "INFY"}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ArticleCount)
	assert.Equal(t, 0.5, snap.Average)

	market, err := a.Snapshot(context.Background(), models.EntityKey{Kind: models.EntityMarket}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, market.ArticleCount)

	_, err = a.Snapshot(context.Background(), models.EntityKey{Kind: models.EntityMarket}, 0)
	assert.Error(t, err)
}

func TestClassifyRotation(t *testing.T) {
	sig, change := ClassifyRotation(0.30, 0.70, 0.2)
	assert.Equal(t, models.RotationBullish, sig)
	assert.InDelta(t, 0.40, change, 1e-12)

	sig, change = ClassifyRotation(0.5, 0.1, 0.2)
	assert.Equal(t, models.RotationBearish, sig)
	assert.InDelta(t, -0.4, change, 1e-12)

	sig, _ = ClassifyRotation(0.1, 0.25, 0.2)
	assert.Equal(t, models.RotationNeutral, sig)
}

func TestRotation(t *testing.T) {
	window := 24 * time.Hour
	mem := &memScores{sectors: []models.Sector{{Name: "banking"}, {Name: "it"}, {Name: "energy"}}}
	// banking: prior 0.30, current 0.70
	mem.add(sectorScore("banking", 0.2, t0.Add(-30*time.Hour)))
	mem.add(sectorScore("banking", 0.4, t0.Add(-40*time.Hour)))
	mem.add(sectorScore("banking", 0.7, t0.Add(-2*time.Hour)))
	// it: prior 0.5, current -0.3
	mem.add(sectorScore("it", 0.5, t0.Add(-26*time.Hour)))
	mem.add(sectorScore("it", -0.3, t0.Add(-time.Hour)))
	// energy: current only
	mem.add(sectorScore("energy", 0.9, t0.Add(-time.Hour)))

	a := New(mem, WithClock(func() time.Time { return t0 }))
	sig, err := a.Rotation(context.Background(), "banking", window)
	require.NoError(t, err)
	assert.Equal(t, models.RotationBullish, sig.Signal)
	assert.InDelta(t, 0.40, sig.SentimentChange, 1e-12)
	assert.InDelta(t, 0.30, sig.Previous, 1e-12)
	assert.InDelta(t, 0.70, sig.Current, 1e-12)
	assert.Equal(t, 2, sig.PreviousCount)
	assert.Equal(t, 1, sig.CurrentCount)

	sig, err = a.Rotation(context.Background(), "energy", window)
	require.NoError(t, err)
	assert.Equal(t, models.RotationNeutral, sig.Signal)
	assert.Zero(t, sig.SentimentChange)

	signals, err := a.RotationSignals(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "it", signals[0].Sector) // |-0.8| > |0.4|
	assert.Equal(t, models.RotationBearish, signals[0].Signal)
	assert.Equal(t, "banking", signals[1].Sector)
}

func TestTrendScoreMonotonic(t *testing.T) {
	assert.Greater(t, TrendScore(10, 0.3), TrendScore(5, 0.3))
	assert.Greater(t, TrendScore(5, 0.5), TrendScore(5, 0.3))
	assert.Equal(t, TrendScore(5, -0.4), TrendScore(5, 0.4))
}

func TestTrending(t *testing.T) {
	mem := &memScores{sectors: []models.Sector{{Name: "banking"}, {Name: "it"}, {Name: "pharma"}}}
	at := t0.Add(-time.Hour)
	for i := 0; i < 4; i++ {
		mem.add(sectorScore("banking", 0.5, at))
		mem.add(sectorScore("it", -0.6, at))
	}
	mem.add(sectorScore("pharma", 1, at)) // below minimum count

	a := New(mem, WithClock(func() time.Time { return t0 }))
	trending, err := a.Trending(context.Background(), 24*time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, trending, 2)
	assert.Equal(t, "it", trending[0].Sector)
	assert.InDelta(t, 0.5*4+50*0.6, trending[0].TrendScore, 1e-9)
	assert.Equal(t, "banking", trending[1].Sector)

	top, err := a.Trending(context.Background(), 24*time.Hour, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestCorrelation(t *testing.T) {
	mem := &memScores{}
	for i := 0; i < 6; i++ {
		at := t0.Add(-time.Duration(i+1) * time.Hour)
		v := float64(i) / 10
		mem.add(sectorScore("banking", v, at))
		mem.add(sectorScore("it", 2*v-0.5, at))
		mem.add(sectorScore("metals", -v, at))
	}
	mem.add(sectorScore("auto", 0.1, t0.Add(-time.Hour)))

	a := New(mem, WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	r, err := a.Correlation(ctx, "banking", "it", 24*time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 1, r, 1e-9)

	r, err = a.Correlation(ctx, "banking", "metals", 24*time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, -1, r, 1e-9)

	_, err = a.Correlation(ctx, "banking", "auto", 24*time.Hour)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPearsonConstant(t *testing.T) {
	_, ok := Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok)
	_, ok = Pearson([]float64{1, 2}, []float64{1})
	assert.False(t, ok)
}

func TestMarketSummary(t *testing.T) {
	mem := &memScores{sectors: []models.Sector{{Name: "banking"}, {Name: "it"}}}
	at := t0.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		mem.add(sectorScore("banking", 0.4, at))
	}
	mem.add(symbolScore("TCS", 0.8, at))

	a := New(mem, WithClock(func() time.Time { return t0 }))
	sum, err := a.MarketSummary(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "2026-03-02", sum.Date)
	assert.Equal(t, 4, sum.Market.ArticleCount)
	assert.Contains(t, sum.Sectors, "banking")
	assert.NotContains(t, sum.Sectors, "it")
	require.Len(t, sum.Trending, 1)
	assert.Equal(t, "banking", sum.Trending[0].Sector)
	assert.Empty(t, sum.Rotation)
}

func TestCacheHitAndExpiry(t *testing.T) {
	clock := &fakeClock{now: t0}
	mem := &memScores{}
	mem.add(symbolScore("TCS", 0.6, t0.Add(-time.Minute)))

	a := New(mem, WithClock(clock.Now))
	c := NewResultCache(a, WithCacheClock(clock.Now), WithTTL(models.EntityInstrument, 5*time.Minute))
	key := models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}
	ctx := context.Background()

	first, hit, err := c.Snapshot(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, t0.Add(5*time.Minute), first.ExpiresAt)

	// A new score arrives without invalidation: served from cache until expiry.
	mem.add(symbolScore("TCS", -0.6, t0))
	clock.Advance(4 * time.Minute)
	again, hit, err := c.Snapshot(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, again)

	clock.Advance(time.Minute)
	fresh, hit, err := c.Snapshot(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, fresh.ArticleCount)
	assert.InDelta(t, 0, fresh.Average, 1e-12)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCacheInvalidation(t *testing.T) {
	clock := &fakeClock{now: t0}
	mem := &memScores{}
	mem.add(symbolScore("TCS", 0.6, t0.Add(-time.Minute)))
	mem.add(symbolScore("TCSX", 0.1, t0.Add(-time.Minute)))

	a := New(mem, WithClock(clock.Now))
	c := NewResultCache(a, WithCacheClock(clock.Now))
	ctx := context.Background()
	tcs := models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}
	other := models.EntityKey{Kind: models.EntityInstrument, ID: "TCSX"}
	market := models.EntityKey{Kind: models.EntityMarket}

	for _, k := range []models.EntityKey{tcs, other, market} {
		_, _, err := c.Snapshot(ctx, k, 24*time.Hour)
		require.NoError(t, err)
	}
	_, _, err := c.Snapshot(ctx, tcs, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 4, c.Len())

	s := symbolScore("TCS", -1, t0.Add(-time.Second))
	mem.add(s)
	c.InvalidateScore(&s)

	// Both TCS windows and the market entry are gone; TCSX survives.
	assert.Equal(t, 1, c.Len())
	snap, hit, err := c.Snapshot(ctx, tcs, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, snap.ArticleCount)

	_, hit, err = c.Snapshot(ctx, other, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	mem := &memScores{}
	mem.add(symbolScore("TCS", 0.6, t0.Add(-time.Minute)))
	block := make(chan struct{})
	slow := &slowComputer{Aggregator: New(mem, WithClock(func() time.Time { return t0 })), block: block}
	c := NewResultCache(slow, WithCacheClock(func() time.Time { return t0 }))
	key := models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Snapshot(context.Background(), key, time.Hour)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()
	assert.Equal(t, int32(1), slow.calls.Load())
}

func TestCacheErrorNotStored(t *testing.T) {
	c := NewResultCache(failingComputer{})
	_, _, err := c.Snapshot(context.Background(), models.EntityKey{Kind: models.EntityMarket}, time.Hour)
	assert.Error(t, err)
	assert.Zero(t, c.Len())
}

func TestCacheInvalidationDuringComputeNotStored(t *testing.T) {
	mem := &memScores{}
	mem.add(symbolScore("TCS", 0.6, t0.Add(-time.Minute)))
	gated := &gatedComputer{
		Aggregator: New(mem, WithClock(func() time.Time { return t0 })),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	c := NewResultCache(gated, WithCacheClock(func() time.Time { return t0 }))
	key := models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}

	done := make(chan *models.AggregateSnapshot)
	go func() {
		snap, _, err := c.Snapshot(context.Background(), key, time.Hour)
		assert.NoError(t, err)
		done <- snap
	}()

	<-gated.started
	c.Invalidate(models.EntityInstrument, "TCS")
	close(gated.release)

	snap := <-done
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.ArticleCount, "the caller still gets its result")
	assert.Zero(t, c.Len(), "a result computed across an invalidation is not stored")

	_, hit, err := c.Snapshot(context.Background(), key, time.Hour)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, c.Len())
}

func TestCacheReturnsCopies(t *testing.T) {
	mem := &memScores{sectors: []models.Sector{{Name: "banking"}}}
	for i := 0; i < 3; i++ {
		mem.add(sectorScore("banking", 0.4, t0.Add(-time.Hour)))
	}
	now := func() time.Time { return t0 }
	c := NewResultCache(New(mem, WithClock(now)), WithCacheClock(now))
	ctx := context.Background()

	sum, hit, err := c.MarketSummary(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.False(t, hit)
	require.Len(t, sum.Trending, 1)

	delete(sum.Sectors, "banking")
	sum.Trending[0].Sector = "changed"
	sum.Market.Distribution[models.LabelPositive] = 99

	cached, hit, err := c.MarketSummary(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Contains(t, cached.Sectors, "banking")
	assert.Equal(t, "banking", cached.Trending[0].Sector)
	assert.Equal(t, 3, cached.Market.Distribution[models.LabelPositive])

	key := models.EntityKey{Kind: models.EntitySector, ID: "banking"}
	snap, _, err := c.Snapshot(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	snap.Distribution[models.LabelPositive] = 0

	again, hit, err := c.Snapshot(ctx, key, 24*time.Hour)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 3, again.Distribution[models.LabelPositive])
}

type gatedComputer struct {
	*Aggregator
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedComputer) Snapshot(ctx context.Context, key models.EntityKey, window time.Duration) (*models.AggregateSnapshot, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.Aggregator.Snapshot(ctx, key, window)
}

type slowComputer struct {
	*Aggregator
	block chan struct{}
	calls atomic.Int32
}

func (s *slowComputer) Snapshot(ctx context.Context, key models.EntityKey, window time.Duration) (*models.AggregateSnapshot, error) {
	s.calls.Add(1)
	<-s.block
	return s.Aggregator.Snapshot(ctx, key, window)
}

type failingComputer struct{}

func (failingComputer) Snapshot(context.Context, models.EntityKey, time.Duration) (*models.AggregateSnapshot, error) {
	return nil, errors.New("store down")
}

func (failingComputer) MarketSummary(context.Context, time.Duration) (*models.MarketSummary, error) {
	return nil, errors.New("store down")
}
