// Package catalog is the registry of feed sources the ingestor pulls from.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/internal/store"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// DefaultSources lists the Indian financial news RSS feeds used when no
// sources are configured.
var DefaultSources = []models.Source{
	{ID: "et-markets", Name: "Economic Times Markets", URL: "https://economictimes.indiatimes.com/markets/rssfeeds/1977021501.cms", Category: "markets", Active: true},
	{ID: "et-industry", Name: "Economic Times Industry", URL: "https://economictimes.indiatimes.com/industry/rssfeeds/13352306.cms", Category: "industry", Active: true},
	{ID: "et-economy", Name: "Economic Times Economy", URL: "https://economictimes.indiatimes.com/news/economy/rssfeeds/1898055.cms", Category: "economy", Active: true},
	{ID: "bs-markets", Name: "Business Standard Markets", URL: "https://www.business-standard.com/rss/markets-106.rss", Category: "markets", Active: true},
	{ID: "bs-finance", Name: "Business Standard Finance", URL: "https://www.business-standard.com/rss/finance-101.rss", Category: "finance", Active: true},
	{ID: "bs-economy", Name: "Business Standard Economy", URL: "https://www.business-standard.com/rss/economy-policy-102.rss", Category: "economy", Active: true},
	{ID: "mint-markets", Name: "LiveMint Markets", URL: "https://www.livemint.com/rss/markets", Category: "markets", Active: true},
	{ID: "mint-companies", Name: "LiveMint Companies", URL: "https://www.livemint.com/rss/companies", Category: "companies", Active: true},
	{ID: "mint-economy", Name: "LiveMint Economy", URL: "https://www.livemint.com/rss/economy", Category: "economy", Active: true},
	{ID: "mc-latest", Name: "Moneycontrol Latest", URL: "https://www.moneycontrol.com/rss/latestnews.xml", Category: "markets", Active: true},
	{ID: "mc-marketedge", Name: "Moneycontrol Market Edge", URL: "https://www.moneycontrol.com/rss/marketedge.xml", Category: "markets", Active: true},
	{ID: "hindu-markets", Name: "The Hindu Markets", URL: "https://www.thehindu.com/business/markets/feeder/default.rss", Category: "markets", Active: true},
	{ID: "hindu-economy", Name: "The Hindu Economy", URL: "https://www.thehindu.com/business/Economy/feeder/default.rss", Category: "economy", Active: true},
	{ID: "hindu-industry", Name: "The Hindu Industry", URL: "https://www.thehindu.com/business/Industry/feeder/default.rss", Category: "industry", Active: true},
	{ID: "toi-business", Name: "Times of India Business", URL: "https://timesofindia.indiatimes.com/rssfeeds/1898055.cms", Category: "economy", Active: true},
}

// FromConfig converts configured sources, falling back to DefaultSources
// when none are configured.
func FromConfig(cfgs []config.SourceConfig) []models.Source {
	if len(cfgs) == 0 {
		out := make([]models.Source, len(DefaultSources))
		copy(out, DefaultSources)
		return out
	}
	out := make([]models.Source, 0, len(cfgs))
	for _, c := range cfgs {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		out = append(out, models.Source{
			ID:       c.ID,
			Name:     name,
			URL:      c.URL,
			Category: c.Category,
			Active:   !c.Disabled,
		})
	}
	return out
}

// Catalog keeps the configured sources in the source repository and tracks
// fetch bookkeeping for each of them.
type Catalog struct {
	repo   store.SourceRepository
	logger arbor.ILogger
	now    func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates a catalog over repo.
func New(repo store.SourceRepository, logger arbor.ILogger, opts ...Option) *Catalog {
	c := &Catalog{
		repo:   repo,
		logger: infra.OrNop(logger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync upserts sources into the repository. Fetch bookkeeping of sources
// already stored is preserved. Stored sources missing from the list are
// deactivated, never deleted.
func (c *Catalog) Sync(ctx context.Context, sources []models.Source) error {
	wanted := make(map[string]bool, len(sources))
	for _, src := range sources {
		src := src
		wanted[src.ID] = true

		existing, err := c.repo.GetSource(ctx, src.ID)
		switch {
		case err == nil:
			src.LastFetchedAt = existing.LastFetchedAt
			src.UnhealthyUntil = existing.UnhealthyUntil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("sync source %s: %w", src.ID, err)
		}

		if err := c.repo.SaveSource(ctx, &src); err != nil {
			return fmt.Errorf("sync source %s: %w", src.ID, err)
		}
	}

	stored, err := c.repo.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("sync sources: %w", err)
	}
	for _, src := range stored {
		if wanted[src.ID] || !src.Active {
			continue
		}
		src.Active = false
		if err := c.repo.SaveSource(ctx, &src); err != nil {
			return fmt.Errorf("deactivate source %s: %w", src.ID, err)
		}
		c.logger.Info().Str("source", src.ID).Msg("Source no longer configured, deactivated")
	}

	c.logger.Debug().Int("sources", len(sources)).Msg("Source catalog synced")
	return nil
}

// List returns every stored source.
func (c *Catalog) List(ctx context.Context) ([]models.Source, error) {
	return c.repo.ListSources(ctx)
}

// Get returns one source.
func (c *Catalog) Get(ctx context.Context, id string) (*models.Source, error) {
	return c.repo.GetSource(ctx, id)
}

// Active returns active sources that are not inside an unhealthy period.
func (c *Catalog) Active(ctx context.Context) ([]models.Source, error) {
	all, err := c.repo.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	now := c.now()
	var out []models.Source
	for _, src := range all {
		if !src.Active {
			continue
		}
		if !src.Healthy(now) {
			c.logger.Debug().Str("source", src.ID).Str("until", src.UnhealthyUntil.Format(time.RFC3339)).Msg("Skipping unhealthy source")
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

// MarkFetched records a successful fetch and clears any unhealthy mark.
func (c *Catalog) MarkFetched(ctx context.Context, id string, at time.Time) error {
	src, err := c.repo.GetSource(ctx, id)
	if err != nil {
		return err
	}
	src.LastFetchedAt = at
	src.UnhealthyUntil = time.Time{}
	return c.repo.SaveSource(ctx, src)
}

// MarkUnhealthy suspends a source until the given time. The source stays
// active and is picked up again once the period ends.
func (c *Catalog) MarkUnhealthy(ctx context.Context, id string, until time.Time) error {
	src, err := c.repo.GetSource(ctx, id)
	if err != nil {
		return err
	}
	src.UnhealthyUntil = until
	if err := c.repo.SaveSource(ctx, src); err != nil {
		return err
	}
	c.logger.Warn().Str("source", id).Str("until", until.Format(time.RFC3339)).Msg("Source marked temporarily unhealthy")
	return nil
}
