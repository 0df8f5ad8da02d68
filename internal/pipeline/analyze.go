package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/marketpulse/internal/entity"
	"github.com/seenimoa/marketpulse/internal/sentiment"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// Recognition is the entity result for one article.
type Recognition struct {
	entity.Result
	CorpusVersion string `json:"corpus_version"`
}

// Analysis is the outcome of analyzing one article. Unscored lists the
// scopes for which every backend failed.
type Analysis struct {
	ArticleID   string                  `json:"article_id"`
	Recognition Recognition             `json:"recognition"`
	Scores      []models.SentimentScore `json:"scores"`
	Unscored    []models.Scope          `json:"unscored,omitempty"`
}

// PendingReport summarizes an AnalyzePending pass.
type PendingReport struct {
	Attempted int `json:"attempted"`
	Analyzed  int `json:"analyzed"`
	Unscored  int `json:"unscored"`
	Failed    int `json:"failed"`
}

// Recognize finds the instruments and sectors the article mentions and
// stores them on the article.
func (p *Pipeline) Recognize(ctx context.Context, a *models.Article) (Recognition, error) {
	res := p.recognizer.Recognize(a.Text())
	a.Instruments = res.Symbols()
	a.Sectors = res.SectorNames()
	if err := p.store.UpdateArticle(ctx, a); err != nil {
		return Recognition{}, fmt.Errorf("store entities for %s: %w", a.ID, err)
	}
	return Recognition{Result: res, CorpusVersion: p.recognizer.Version()}, nil
}

// Score evaluates the ensemble for one (article, scope) pair and persists the
// result. Concurrent calls for the same pair share a single evaluation.
func (p *Pipeline) Score(ctx context.Context, a *models.Article, scope models.Scope) (*models.SentimentScore, error) {
	key := a.ID + "|" + scope.Key()
	v, err, shared := p.inflight.Do(key, func() (any, error) {
		return p.score(ctx, a, scope)
	})
	if shared {
		p.merged.Add(1)
	}
	if err != nil {
		return nil, err
	}
	s := *v.(*models.SentimentScore)
	return &s, nil
}

func (p *Pipeline) score(ctx context.Context, a *models.Article, scope models.Scope) (*models.SentimentScore, error) {
	out, err := p.ensemble.Evaluate(ctx, a.Text(), sentiment.SubjectFor(scope))
	if err != nil {
		p.exhausted.Add(1)
		p.logger.Warn().
			Str("article_id", a.ID).
			Str("link", a.Link).
			Str("scope", scope.Key()).
			Err(err).
			Msg("No sentiment backend responded")
		return nil, fmt.Errorf("%w: %w", ErrUnscored, err)
	}

	details := out.Details
	if len(out.Failures) > 0 {
		if details == nil {
			details = make(map[string]string, len(out.Failures))
		}
		for name, ferr := range out.Failures {
			details[name+".error"] = ferr.Error()
		}
	}

	s := &models.SentimentScore{
		ID:         uuid.NewString(),
		ArticleID:  a.ID,
		Backends:   out.Scores,
		Composite:  out.Composite,
		Label:      out.Label,
		Confidence: out.Confidence,
		Entities:   a.Instruments,
		Keywords:   a.Sectors,
		Details:    details,
		CreatedAt:  p.now(),
	}
	switch scope.Kind {
	case models.ScopeInstrument:
		s.Symbol = scope.ID
	case models.ScopeSector:
		s.Sector = scope.ID
	}

	if err := p.store.SaveScore(ctx, s); err != nil {
		return nil, fmt.Errorf("save score for %s (%s): %w", a.ID, scope.Key(), err)
	}
	p.cache.InvalidateScore(s)
	p.scored.Add(1)

	p.logger.Debug().
		Str("article_id", a.ID).
		Str("scope", scope.Key()).
		Float64("composite", s.Composite).
		Str("label", string(s.Label)).
		Float64("confidence", s.Confidence).
		Msg("Scored")
	return s, nil
}

// Scopes returns the scopes an article is scored under: one per instrument,
// one per sector, and the whole article.
func Scopes(res entity.Result) []models.Scope {
	scopes := make([]models.Scope, 0, len(res.Instruments)+len(res.Sectors)+1)
	for _, m := range res.Instruments {
		scopes = append(scopes, models.InstrumentScope(m.Symbol, m.Name))
	}
	for _, s := range res.Sectors {
		scopes = append(scopes, models.SectorScope(s.Sector))
	}
	return append(scopes, models.ArticleScope)
}

// Analyze recognizes entities in the article and scores every scope. The
// error wraps ErrUnscored when no scope could be scored; partial results are
// returned with the unscored scopes listed.
func (p *Pipeline) Analyze(ctx context.Context, articleID string) (*Analysis, error) {
	a, err := p.store.GetArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	rec, err := p.Recognize(ctx, a)
	if err != nil {
		return nil, err
	}

	scopes := Scopes(rec.Result)
	scores := make([]*models.SentimentScore, len(scopes))
	var (
		mu       sync.Mutex
		unscored []models.Scope
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.scoreConcurrency)
	for i, scope := range scopes {
		g.Go(func() error {
			s, err := p.Score(gctx, a, scope)
			switch {
			case errors.Is(err, ErrUnscored):
				mu.Lock()
				unscored = append(unscored, scope)
				mu.Unlock()
				return nil
			case err != nil:
				return err
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	an := &Analysis{ArticleID: a.ID, Recognition: rec, Unscored: unscored}
	for _, s := range scores {
		if s != nil {
			an.Scores = append(an.Scores, *s)
		}
	}
	if len(an.Scores) == 0 {
		return an, fmt.Errorf("%w: %s", ErrUnscored, a.ID)
	}
	return an, nil
}

// AnalyzePending analyzes up to limit unanalyzed articles, newest first.
// Failures are counted and logged; the pass continues with the next article.
func (p *Pipeline) AnalyzePending(ctx context.Context, limit int) (PendingReport, error) {
	var rep PendingReport
	articles, err := p.store.ListUnanalyzed(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("list unanalyzed: %w", err)
	}

	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Attempted++
		_, err := p.Analyze(ctx, a.ID)
		switch {
		case err == nil:
			rep.Analyzed++
		case errors.Is(err, ErrUnscored):
			rep.Unscored++
		default:
			rep.Failed++
			p.logger.Warn().
				Str("article_id", a.ID).
				Str("link", a.Link).
				Err(err).
				Msg("Analysis failed")
		}
	}

	p.logger.Info().
		Int("attempted", rep.Attempted).
		Int("analyzed", rep.Analyzed).
		Int("unscored", rep.Unscored).
		Int("failed", rep.Failed).
		Msg("Pending analysis pass complete")
	return rep, nil
}
