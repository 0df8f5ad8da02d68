// Package aggregate computes rolling sentiment summaries per instrument,
// sector and the whole market, derives rotation and trending signals, and
// memoizes results behind a TTL cache.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/models"
	"github.com/seenimoa/marketpulse/pkg/utils"
)

// ErrInsufficientData is returned when a statistic needs more points than
// the window holds.
var ErrInsufficientData = errors.New("aggregate: insufficient data")

// Defaults mirror the configuration defaults.
const (
	DefaultRecentLimit          = 1000
	DefaultRotationThreshold    = 0.2
	DefaultMinTrendingCount     = 3
	DefaultMinCorrelationPoints = 5
)

// Reader is the read side of the score store the aggregator needs.
type Reader interface {
	RecentScores(ctx context.Context, key models.EntityKey, from, to time.Time, limit int) ([]models.SentimentScore, error)
	ListSectors(ctx context.Context) ([]models.Sector, error)
}

// Aggregator computes snapshots from persisted scores. Reads tolerate a
// concurrently changing score set; there is no snapshot isolation.
type Aggregator struct {
	reader            Reader
	limit             int
	rotationThreshold float64
	minTrending       int
	minCorrelation    int
	now               func() time.Time
	logger            arbor.ILogger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRecentLimit bounds how many scores a snapshot reads.
func WithRecentLimit(n int) Option { return func(a *Aggregator) { a.limit = n } }

// WithRotationThreshold sets the change needed for a bullish/bearish signal.
func WithRotationThreshold(t float64) Option {
	return func(a *Aggregator) { a.rotationThreshold = t }
}

// WithMinTrendingCount sets the article count below which a sector is not ranked.
func WithMinTrendingCount(n int) Option { return func(a *Aggregator) { a.minTrending = n } }

// WithMinCorrelationPoints sets the series length needed for a correlation.
func WithMinCorrelationPoints(n int) Option { return func(a *Aggregator) { a.minCorrelation = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l arbor.ILogger) Option { return func(a *Aggregator) { a.logger = l } }

// New creates an Aggregator reading from r.
func New(r Reader, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader:            r,
		limit:             DefaultRecentLimit,
		rotationThreshold: DefaultRotationThreshold,
		minTrending:       DefaultMinTrendingCount,
		minCorrelation:    DefaultMinCorrelationPoints,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = infra.OrNop(a.logger)
	return a
}

// Snapshot summarizes the scores of key created within the last window.
func (a *Aggregator) Snapshot(ctx context.Context, key models.EntityKey, window time.Duration) (*models.AggregateSnapshot, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	now := a.now()
	scores, err := a.reader.RecentScores(ctx, key, now.Add(-window), now, a.limit)
	if err != nil {
		return nil, fmt.Errorf("read scores for %s: %w", key, err)
	}
	snap := Summarize(key, window, scores, now)
	return &snap, nil
}

// Summarize computes a snapshot from scores. The recency-weighted average
// gives the newest score weight 1 and halves the weight for every half
// window of additional age.
func Summarize(key models.EntityKey, window time.Duration, scores []models.SentimentScore, now time.Time) models.AggregateSnapshot {
	snap := models.AggregateSnapshot{
		Entity:       key,
		Window:       window,
		ArticleCount: len(scores),
		Distribution: emptyDistribution(),
		ComputedAt:   now,
	}
	if len(scores) == 0 {
		return snap
	}

	newest := time.Duration(math.MaxInt64)
	for _, s := range scores {
		newest = min(newest, utils.Age(now, s.CreatedAt))
	}
	halfLife := float64(window) / 2

	sum, wsum, wtotal := 0.0, 0.0, 0.0
	for _, s := range scores {
		sum += s.Composite
		w := math.Exp2(-float64(utils.Age(now, s.CreatedAt)-newest) / halfLife)
		wsum += w * s.Composite
		wtotal += w
		snap.Distribution[models.LabelFor(s.Composite)]++
	}
	snap.Average = sum / float64(len(scores))
	snap.WeightedAvg = wsum / wtotal
	return snap
}

func emptyDistribution() models.Distribution {
	d := make(models.Distribution, len(models.Labels))
	for _, l := range models.Labels {
		d[l] = 0
	}
	return d
}

// ClassifyRotation labels the change from previous to current.
func ClassifyRotation(previous, current, threshold float64) (models.RotationDirection, float64) {
	change := current - previous
	switch {
	case change > threshold:
		return models.RotationBullish, change
	case change < -threshold:
		return models.RotationBearish, change
	default:
		return models.RotationNeutral, change
	}
}

// Rotation compares the sector's last window to the window before it. A
// sector with no scores in either window is neutral with zero change.
func (a *Aggregator) Rotation(ctx context.Context, sector string, window time.Duration) (*models.RotationSignal, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	key := models.EntityKey{Kind: models.EntitySector, ID: sector}
	now := a.now()
	cur, err := a.reader.RecentScores(ctx, key, now.Add(-window), now, a.limit)
	if err != nil {
		return nil, fmt.Errorf("read current window for %s: %w", sector, err)
	}
	prev, err := a.reader.RecentScores(ctx, key, now.Add(-2*window), now.Add(-window), a.limit)
	if err != nil {
		return nil, fmt.Errorf("read previous window for %s: %w", sector, err)
	}

	sig := &models.RotationSignal{
		Sector:        sector,
		Signal:        models.RotationNeutral,
		Previous:      mean(prev),
		Current:       mean(cur),
		PreviousCount: len(prev),
		CurrentCount:  len(cur),
	}
	if len(prev) > 0 && len(cur) > 0 {
		sig.Signal, sig.SentimentChange = ClassifyRotation(sig.Previous, sig.Current, a.rotationThreshold)
	}
	return sig, nil
}

// RotationSignals returns the bullish and bearish sectors, largest absolute
// change first.
func (a *Aggregator) RotationSignals(ctx context.Context, window time.Duration) ([]models.RotationSignal, error) {
	sectors, err := a.reader.ListSectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sectors: %w", err)
	}
	var out []models.RotationSignal
	for _, s := range sectors {
		sig, err := a.Rotation(ctx, s.Name, window)
		if err != nil {
			a.logger.Warn().Str("sector", s.Name).Err(err).Msg("Rotation signal failed")
			continue
		}
		if sig.Signal != models.RotationNeutral {
			out = append(out, *sig)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := math.Abs(out[i].SentimentChange), math.Abs(out[j].SentimentChange)
		if ci != cj {
			return ci > cj
		}
		return out[i].Sector < out[j].Sector
	})
	return out, nil
}

// TrendScore ranks a sector: increasing in both article count and the
// magnitude of the average.
func TrendScore(count int, average float64) float64 {
	return 0.5*float64(count) + 50*math.Abs(average)
}

// SectorSnapshots returns a snapshot per sector that has scores in window.
func (a *Aggregator) SectorSnapshots(ctx context.Context, window time.Duration) (map[string]models.AggregateSnapshot, error) {
	sectors, err := a.reader.ListSectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sectors: %w", err)
	}
	out := make(map[string]models.AggregateSnapshot, len(sectors))
	for _, s := range sectors {
		snap, err := a.Snapshot(ctx, models.EntityKey{Kind: models.EntitySector, ID: s.Name}, window)
		if err != nil {
			return nil, err
		}
		if snap.ArticleCount > 0 {
			out[s.Name] = *snap
		}
	}
	return out, nil
}

// Trending ranks sectors with at least the minimum article count by
// TrendScore, highest first, ties by name. limit <= 0 returns all.
func (a *Aggregator) Trending(ctx context.Context, window time.Duration, limit int) ([]models.TrendingSector, error) {
	snaps, err := a.SectorSnapshots(ctx, window)
	if err != nil {
		return nil, err
	}
	return rankTrending(snaps, a.minTrending, limit), nil
}

func rankTrending(snaps map[string]models.AggregateSnapshot, minCount, limit int) []models.TrendingSector {
	var out []models.TrendingSector
	for name, s := range snaps {
		if s.ArticleCount < minCount {
			continue
		}
		out = append(out, models.TrendingSector{
			Sector:       name,
			TrendScore:   TrendScore(s.ArticleCount, s.Average),
			ArticleCount: s.ArticleCount,
			Average:      s.Average,
			Distribution: s.Distribution,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrendScore != out[j].TrendScore {
			return out[i].TrendScore > out[j].TrendScore
		}
		return out[i].Sector < out[j].Sector
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Correlation returns the Pearson correlation between the score series of
// two sectors over window. Series are taken oldest first and truncated to
// the shorter length. It returns ErrInsufficientData when either series is
// shorter than the minimum or has no variance.
func (a *Aggregator) Correlation(ctx context.Context, sectorA, sectorB string, window time.Duration) (float64, error) {
	now := a.now()
	series := func(sector string) ([]float64, error) {
		scores, err := a.reader.RecentScores(ctx, models.EntityKey{Kind: models.EntitySector, ID: sector}, now.Add(-window), now, a.limit)
		if err != nil {
			return nil, fmt.Errorf("read scores for %s: %w", sector, err)
		}
		out := make([]float64, len(scores))
		for i, s := range scores {
			out[len(scores)-1-i] = s.Composite // newest first in, oldest first out
		}
		return out, nil
	}
	xs, err := series(sectorA)
	if err != nil {
		return 0, err
	}
	ys, err := series(sectorB)
	if err != nil {
		return 0, err
	}
	if len(xs) < a.minCorrelation || len(ys) < a.minCorrelation {
		return 0, fmt.Errorf("%w: %d and %d points, need %d", ErrInsufficientData, len(xs), len(ys), a.minCorrelation)
	}
	n := min(len(xs), len(ys))
	r, ok := Pearson(xs[:n], ys[:n])
	if !ok {
		return 0, fmt.Errorf("%w: constant series", ErrInsufficientData)
	}
	return r, nil
}

// Pearson returns the correlation coefficient of two equal-length series.
// It reports false when either series has zero variance.
func Pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0, false
	}
	mx, my := 0.0, 0.0
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return math.Max(-1, math.Min(1, cov/math.Sqrt(vx*vy))), true
}

// MarketSummary reports the market snapshot, every active sector, the
// trending ranking and rotation signals over window.
func (a *Aggregator) MarketSummary(ctx context.Context, window time.Duration) (*models.MarketSummary, error) {
	market, err := a.Snapshot(ctx, models.EntityKey{Kind: models.EntityMarket}, window)
	if err != nil {
		return nil, err
	}
	sectors, err := a.SectorSnapshots(ctx, window)
	if err != nil {
		return nil, err
	}
	rotation, err := a.RotationSignals(ctx, window)
	if err != nil {
		return nil, err
	}
	now := a.now()
	return &models.MarketSummary{
		Date:        utils.FormatDateIST(now),
		Window:      window,
		Market:      *market,
		Sectors:     sectors,
		Trending:    rankTrending(sectors, a.minTrending, 5),
		Rotation:    rotation,
		GeneratedAt: now,
	}, nil
}

func mean(scores []models.SentimentScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Composite
	}
	return sum / float64(len(scores))
}
