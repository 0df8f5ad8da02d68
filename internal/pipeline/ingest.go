package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/seenimoa/marketpulse/internal/dedup"
	"github.com/seenimoa/marketpulse/internal/ingest"
	"github.com/seenimoa/marketpulse/internal/store"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// IngestReport summarizes one source's ingestion run.
type IngestReport struct {
	Source         models.Source    `json:"source"`
	Fetched        int              `json:"fetched"`
	New            []models.Article `json:"new"`
	Duplicates     int              `json:"duplicates"`
	NearDuplicates int              `json:"near_duplicates"`
	Malformed      int              `json:"malformed"`
	Attempts       int              `json:"attempts"`
	Failed         bool             `json:"failed"`
	Reason         string           `json:"reason,omitempty"`
}

// Ingest fetches one source and stores its new articles.
func (p *Pipeline) Ingest(ctx context.Context, sourceID string) (*IngestReport, error) {
	src, err := p.catalog.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	reports := p.ingest(ctx, []models.Source{*src})
	return &reports[0], nil
}

// IngestAll fetches every active, healthy source through the worker pool.
// Reports are returned in catalog order; a failed source never affects the
// others.
func (p *Pipeline) IngestAll(ctx context.Context) ([]IngestReport, error) {
	sources, err := p.catalog.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return p.ingest(ctx, sources), nil
}

func (p *Pipeline) ingest(ctx context.Context, sources []models.Source) []IngestReport {
	var mu sync.Mutex
	byID := make(map[string]IngestReport, len(sources))

	p.pool.FetchAll(ctx, sources, func(ctx context.Context, res ingest.FetchResult) {
		rep := p.handle(ctx, res)
		mu.Lock()
		byID[res.Source.ID] = rep
		mu.Unlock()
	})

	reports := make([]IngestReport, 0, len(sources))
	for _, src := range sources {
		reports = append(reports, byID[src.ID])
	}
	return reports
}

// handle records source health and admits every item of one fetch result.
func (p *Pipeline) handle(ctx context.Context, res ingest.FetchResult) IngestReport {
	rep := IngestReport{
		Source:    res.Source,
		Fetched:   len(res.Items),
		Malformed: len(res.Malformed),
		Attempts:  res.Attempts,
	}

	if res.Failed() {
		p.failed.Add(1)
		rep.Failed = true
		rep.Reason = res.Err.Error()
		until := p.now().Add(p.unhealthyFor)
		if err := p.catalog.MarkUnhealthy(ctx, res.Source.ID, until); err != nil {
			p.logger.Warn().Str("source", res.Source.ID).Err(err).Msg("Failed to mark source unhealthy")
		}
		p.logger.Warn().
			Str("source", res.Source.ID).
			Int("attempts", res.Attempts).
			Err(res.Err).
			Msg("Source fetch failed")
		return rep
	}

	if err := p.catalog.MarkFetched(ctx, res.Source.ID, res.FetchedAt); err != nil {
		p.logger.Warn().Str("source", res.Source.ID).Err(err).Msg("Failed to record fetch time")
	}
	p.fetched.Add(int64(len(res.Items)))
	p.malformed.Add(int64(len(res.Malformed)))
	for _, m := range res.Malformed {
		p.logger.Debug().
			Str("source", m.SourceID).
			Int("index", m.Index).
			Str("link", m.Link).
			Msg(m.Reason)
	}

	for _, item := range res.Items {
		if ctx.Err() != nil {
			break
		}
		a, verdict, err := p.admit(ctx, item)
		switch {
		case err != nil:
			p.logger.Warn().
				Str("source", item.SourceID).
				Str("link", item.Link).
				Err(err).
				Msg("Failed to store article")
		case verdict == dedup.ExactDuplicate:
			rep.Duplicates++
		case verdict == dedup.NearDuplicate:
			rep.NearDuplicates++
		default:
			rep.New = append(rep.New, *a)
		}
	}

	p.logger.Info().
		Str("source", res.Source.ID).
		Int("items", len(res.Items)).
		Int("new", len(rep.New)).
		Int("duplicates", rep.Duplicates).
		Int("near_duplicates", rep.NearDuplicates).
		Int("malformed", rep.Malformed).
		Msg("Source ingested")
	return rep
}

// admit classifies one feed item and stores it when it is new. A uniqueness
// conflict at the store means another worker won the race; it is reported
// as an exact duplicate.
func (p *Pipeline) admit(ctx context.Context, item models.FeedItem) (*models.Article, dedup.Verdict, error) {
	fp := dedup.Compute(item.Title, item.Link)
	id := uuid.NewString()

	m := p.dedup.Admit(id, fp)
	switch m.Verdict {
	case dedup.ExactDuplicate:
		p.exact.Add(1)
		return nil, m.Verdict, nil
	case dedup.NearDuplicate:
		p.near.Add(1)
		p.logger.Debug().
			Str("link", item.Link).
			Str("article_id", m.ArticleID).
			Int("distance", m.Distance).
			Msg("Near duplicate skipped")
		return nil, m.Verdict, nil
	}

	a := &models.Article{
		ID:          id,
		SourceID:    item.SourceID,
		Title:       item.Title,
		Link:        fp.Link,
		Summary:     item.Summary,
		Body:        item.Content,
		Author:      item.Author,
		ImageURL:    item.ImageURL,
		Tags:        item.Tags,
		PublishedAt: item.PublishedAt,
		ScrapedAt:   p.now(),
		ContentHash: fp.Exact,
		SimHash:     fp.Near,
	}
	if err := p.store.InsertArticle(ctx, a); err != nil {
		p.dedup.Forget(id)
		if errors.Is(err, store.ErrDuplicate) {
			p.exact.Add(1)
			return nil, dedup.ExactDuplicate, nil
		}
		return nil, dedup.VerdictNew, err
	}
	p.created.Add(1)
	return a, dedup.VerdictNew, nil
}
