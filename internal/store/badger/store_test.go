package badger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/store"
	"github.com/seenimoa/marketpulse/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), arbor.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testArticle(id, link, hash string, scraped time.Time) *models.Article {
	return &models.Article{
		ID:          id,
		SourceID:    "et-markets",
		Title:       "Title " + id,
		Link:        link,
		ContentHash: hash,
		PublishedAt: scraped,
		ScrapedAt:   scraped,
	}
}

func TestInsertAndGetArticle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	a := testArticle("a1", "https://example.com/1", "h1", now)
	require.NoError(t, s.InsertArticle(ctx, a))

	got, err := s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/1", got.Link)
	assert.False(t, got.Analyzed)

	_, err = s.GetArticle(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertArticleUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertArticle(ctx, testArticle("a1", "https://example.com/1", "h1", now)))

	err := s.InsertArticle(ctx, testArticle("a2", "https://example.com/1", "h2", now))
	assert.ErrorIs(t, err, store.ErrDuplicate, "same link")

	err = s.InsertArticle(ctx, testArticle("a3", "https://example.com/3", "h1", now))
	assert.ErrorIs(t, err, store.ErrDuplicate, "same content hash")

	total, _, err := s.CountArticles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "rejected inserts must not leave partial claims or rows")

	require.NoError(t, s.InsertArticle(ctx, testArticle("a4", "https://example.com/4", "h4", now)))
}

func TestInsertArticleRaceHasOneWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	const writers = 16
	var wins, dups atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := testArticle(fmt.Sprintf("r%d", i), "https://example.com/race", "same-hash", now)
			err := s.InsertArticle(ctx, a)
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, store.ErrDuplicate):
				dups.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(writers-1), dups.Load())

	total, _, err := s.CountArticles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestConcurrentDistinctInsertsAllStored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	const writers = 40
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d%02d", i)
			errs[i] = s.InsertArticle(ctx, testArticle(id, "https://example.com/"+id, "h"+id, base.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "writer %d", i)
	}
	total, analyzed, err := s.CountArticles(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers, total)
	assert.Zero(t, analyzed)

	pending, err := s.ListUnanalyzed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, writers)
	assert.Equal(t, "d39", pending[0].ID, "newest first")
}

func TestConcurrentScoresForOneArticle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertArticle(ctx, testArticle("a1", "https://example.com/1", "h1", now)))

	scopes := []models.SentimentScore{
		{ArticleID: "a1", Symbol: "RELIANCE"},
		{ArticleID: "a1", Symbol: "ONGC"},
		{ArticleID: "a1", Symbol: "BPCL"},
		{ArticleID: "a1", Sector: "energy"},
		{ArticleID: "a1", Sector: "oil"},
		{ArticleID: "a1"},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(scopes))
	for i := range scopes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sc := scopes[i]
			sc.Composite = 0.4
			sc.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
			errs[i] = s.SaveScore(ctx, &sc)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "scope %d", i)
	}
	scores, err := s.ScoresForArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, scores, len(scopes))

	art, err := s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, art.Analyzed)

	market, err := s.RecentScores(ctx, models.EntityKey{Kind: models.EntityMarket}, now.Add(-time.Minute), now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, market, len(scopes))
}

func TestRescoreMovesEntityIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertArticle(ctx, testArticle("a1", "https://example.com/1", "h1", base)))

	key := models.EntityKey{Kind: models.EntityInstrument, ID: "TCS"}
	require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{ArticleID: "a1", Symbol: "TCS", Composite: -0.5, CreatedAt: base}))
	require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{ArticleID: "a1", Symbol: "TCS", Composite: 0.5, CreatedAt: base.Add(2 * time.Hour)}))

	got, err := s.RecentScores(ctx, key, base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, got, "replaced score must leave the old time slot")

	got, err = s.RecentScores(ctx, key, base, base.Add(3*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Composite)
}

func TestUpdateArticleKeepsPendingState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.InsertArticle(ctx, testArticle("a1", "https://example.com/1", "h1", now)))

	a, err := s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	a.Instruments = []string{"RELIANCE"}
	a.ScrapedAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateArticle(ctx, a))

	pending, err := s.ListUnanalyzed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"RELIANCE"}, pending[0].Instruments)

	require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{ArticleID: "a1", CreatedAt: now}))
	pending, err = s.ListUnanalyzed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, s.UpdateArticle(ctx, &models.Article{ID: "ghost"}), store.ErrNotFound)
}

func TestSaveScoreUpsertsPerScopeAndMarksAnalyzed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertArticle(ctx, testArticle("a1", "https://example.com/1", "h1", now)))

	first := &models.SentimentScore{ID: "s1", ArticleID: "a1", Symbol: "RELIANCE", Composite: 0.5, CreatedAt: now}
	require.NoError(t, s.SaveScore(ctx, first))

	art, err := s.GetArticle(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, art.Analyzed)

	again := &models.SentimentScore{ID: "s2", ArticleID: "a1", Symbol: "RELIANCE", Composite: 0.7, CreatedAt: now}
	require.NoError(t, s.SaveScore(ctx, again))
	whole := &models.SentimentScore{ID: "s3", ArticleID: "a1", Composite: 0.1, CreatedAt: now}
	require.NoError(t, s.SaveScore(ctx, whole))

	scores, err := s.ScoresForArticle(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, scores, 2, "one score per (article, scope)")

	_, analyzed, err := s.CountArticles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, analyzed)

	err = s.SaveScore(ctx, &models.SentimentScore{ArticleID: "ghost", CreatedAt: now})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecentScores(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		require.NoError(t, s.InsertArticle(ctx, testArticle(id, "https://example.com/"+id, "h"+id, base)))
		sym := "RELIANCE"
		if i == 4 {
			sym = "TCS"
		}
		require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{
			ArticleID: id, Symbol: sym, Composite: float64(i) / 10,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
		require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{
			ArticleID: id, Sector: "energy", Composite: float64(i) / 10,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	key := models.EntityKey{Kind: models.EntityInstrument, ID: "RELIANCE"}
	got, err := s.RecentScores(ctx, key, base, base.Add(10*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 0.3, got[0].Composite, "newest first")

	got, err = s.RecentScores(ctx, key, base, base.Add(10*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.2, got[1].Composite)

	got, err = s.RecentScores(ctx, key, base.Add(time.Hour), base.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2, "window is [from, to)")

	got, err = s.RecentScores(ctx, models.EntityKey{Kind: models.EntitySector, ID: "energy"}, base, base.Add(10*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)

	got, err = s.RecentScores(ctx, models.EntityKey{Kind: models.EntityMarket}, base, base.Add(10*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	_, err = s.RecentScores(ctx, models.EntityKey{Kind: "planet"}, base, base, 0)
	assert.Error(t, err)
}

func TestDeleteArticleCascadesAndReleasesClaims(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertArticle(ctx, testArticle("a1", "https://example.com/1", "h1", now)))
	require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{ArticleID: "a1", Composite: 0.2, CreatedAt: now}))

	require.NoError(t, s.DeleteArticle(ctx, "a1"))

	_, err := s.GetArticle(ctx, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	scores, err := s.ScoresForArticle(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, scores)

	// link and hash are free again
	require.NoError(t, s.InsertArticle(ctx, testArticle("a2", "https://example.com/1", "h1", now)))
}

func TestDeleteUnanalyzedBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	require.NoError(t, s.InsertArticle(ctx, testArticle("old-pending", "https://example.com/1", "h1", old)))
	require.NoError(t, s.InsertArticle(ctx, testArticle("old-done", "https://example.com/2", "h2", old)))
	require.NoError(t, s.InsertArticle(ctx, testArticle("fresh", "https://example.com/3", "h3", now)))
	require.NoError(t, s.SaveScore(ctx, &models.SentimentScore{ArticleID: "old-done", CreatedAt: old}))

	n, err := s.DeleteUnanalyzedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.ListUnanalyzed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "fresh", pending[0].ID)

	since, err := s.ListScrapedSince(ctx, old)
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestReferenceData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSector(ctx, &models.Sector{Name: "energy", Keywords: []models.SectorKeyword{{Term: "oil", Weight: 0.8}}}))
	require.NoError(t, s.SaveInstrument(ctx, &models.Instrument{Symbol: "TCS", Name: "Tata Consultancy Services", Sector: "it"}))
	require.NoError(t, s.SaveInstrument(ctx, &models.Instrument{Symbol: "RELIANCE", Name: "Reliance Industries", Sector: "energy"}))
	require.NoError(t, s.SaveSource(ctx, &models.Source{ID: "et", URL: "https://example.com/rss", Active: true}))

	insts, err := s.ListInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "RELIANCE", insts[0].Symbol)

	sec, err := s.GetSector(ctx, "energy")
	require.NoError(t, err)
	assert.Equal(t, 0.8, sec.Keywords[0].Weight)

	_, err = s.GetInstrument(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	src, err := s.GetSource(ctx, "et")
	require.NoError(t, err)
	assert.True(t, src.Active)

	sectors, err := s.ListSectors(ctx)
	require.NoError(t, err)
	assert.Len(t, sectors, 1)
	sources, err := s.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}
