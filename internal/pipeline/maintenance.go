package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/seenimoa/marketpulse/pkg/models"
)

// Aggregate returns the snapshot for an entity over window, served from the
// result cache when fresh.
func (p *Pipeline) Aggregate(ctx context.Context, key models.EntityKey, window time.Duration) (*models.AggregateSnapshot, error) {
	snap, _, err := p.cache.Snapshot(ctx, key, window)
	return snap, err
}

// Summary returns the market summary for window, served from the cache.
func (p *Pipeline) Summary(ctx context.Context, window time.Duration) (*models.MarketSummary, error) {
	sum, _, err := p.cache.MarketSummary(ctx, window)
	return sum, err
}

// Warm loads fingerprints of articles scraped within window into the
// deduplicator so a restart does not readmit recent stories.
func (p *Pipeline) Warm(ctx context.Context, window time.Duration) (int, error) {
	articles, err := p.store.ListScrapedSince(ctx, p.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("warm dedup index: %w", err)
	}
	n := p.dedup.Warm(articles)
	p.logger.Info().Int("articles", n).Msg("Dedup index warmed")
	return n, nil
}

// Cleanup deletes unanalyzed articles scraped more than olderThan ago and
// prunes expired cache entries.
func (p *Pipeline) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := p.now().Add(-olderThan)
	n, err := p.store.DeleteUnanalyzedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	p.cache.Prune()
	p.logger.Info().Int("deleted", n).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Cleanup complete")
	return n, nil
}
