package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/seenimoa/marketpulse/internal/store"
	"github.com/seenimoa/marketpulse/pkg/models"
)

// articleRecord is the persisted form of an article. Timestamps are kept as
// unix nanoseconds so range queries compare plain integers. The analyzed flag
// is not stored here: an article is pending while its pending key exists.
type articleRecord struct {
	ID          string
	ScrapedUnix int64
	Article     models.Article
}

func toArticleRecord(a *models.Article) *articleRecord {
	return &articleRecord{
		ID:          a.ID,
		ScrapedUnix: unixNanos(a.ScrapedAt),
		Article:     *a,
	}
}

func (r *articleRecord) pendingKey() []byte { return pendingKey(r.ScrapedUnix, r.ID) }

// article returns the model with Analyzed derived from the pending key.
func (r *articleRecord) article(txn *badgerdb.Txn) (models.Article, error) {
	pending, err := exists(txn, r.pendingKey())
	if err != nil {
		return models.Article{}, err
	}
	a := r.Article
	a.Analyzed = !pending
	return a, nil
}

// InsertArticle stores a new article. The link and the content hash are each
// claimed in the same transaction as the insert.
func (s *Store) InsertArticle(ctx context.Context, a *models.Article) error {
	if a.ID == "" {
		return fmt.Errorf("article ID is required")
	}
	if a.Link == "" || a.ContentHash == "" {
		return fmt.Errorf("article link and content hash are required")
	}

	rec := toArticleRecord(a)
	err := s.update(ctx, func(txn *badgerdb.Txn) error {
		if err := claim(txn, linkClaimKey(a.Link), a.ID); err != nil {
			return err
		}
		if err := claim(txn, hashClaimKey(a.ContentHash), a.ID); err != nil {
			return err
		}
		if err := s.db.TxInsert(txn, a.ID, rec); err != nil {
			return err
		}
		if a.Analyzed {
			return nil
		}
		return txn.Set(rec.pendingKey(), []byte(a.ID))
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%w: article %s", store.ErrDuplicate, a.ID)
	}
	return err
}

// UpdateArticle replaces an existing article. Link, content hash and scrape
// time are immutable.
func (s *Store) UpdateArticle(ctx context.Context, a *models.Article) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		var old articleRecord
		if err := s.db.TxGet(txn, a.ID, &old); err != nil {
			return notFound(err, "article", a.ID)
		}
		rec := toArticleRecord(a)
		rec.ScrapedUnix = old.ScrapedUnix
		rec.Article.Link = old.Article.Link
		rec.Article.ContentHash = old.Article.ContentHash
		rec.Article.ScrapedAt = old.Article.ScrapedAt
		return s.db.TxUpdate(txn, a.ID, rec)
	})
}

func (s *Store) GetArticle(ctx context.Context, id string) (*models.Article, error) {
	var out models.Article
	err := s.db.Badger().View(func(txn *badgerdb.Txn) error {
		var rec articleRecord
		if err := s.db.TxGet(txn, id, &rec); err != nil {
			return notFound(err, "article", id)
		}
		a, err := rec.article(txn)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUnanalyzed walks the pending keys newest first.
func (s *Store) ListUnanalyzed(ctx context.Context, limit int) ([]models.Article, error) {
	var out []models.Article
	err := s.db.Badger().View(func(txn *badgerdb.Txn) error {
		prefix := []byte(pendingPrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte(pendingPrefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			id := pendingID(it.Item().Key())
			var rec articleRecord
			if err := s.db.TxGet(txn, id, &rec); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					continue
				}
				return fmt.Errorf("failed to get article %s: %w", id, err)
			}
			a := rec.Article
			a.Analyzed = false
			out = append(out, a)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unanalyzed articles: %w", err)
	}
	return out, nil
}

func (s *Store) ListScrapedSince(ctx context.Context, since time.Time) ([]models.Article, error) {
	var out []models.Article
	err := s.db.Badger().View(func(txn *badgerdb.Txn) error {
		var recs []articleRecord
		query := badgerhold.Where("ScrapedUnix").Ge(unixNanos(since)).SortBy("ScrapedUnix")
		if err := s.db.TxFind(txn, &recs, query); err != nil {
			return err
		}
		out = make([]models.Article, 0, len(recs))
		for i := range recs {
			a, err := recs[i].article(txn)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return out, nil
}

// DeleteArticle removes the article, its uniqueness claims and its scores.
func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badgerdb.Txn) error {
		var rec articleRecord
		if err := s.db.TxGet(txn, id, &rec); err != nil {
			return notFound(err, "article", id)
		}
		return s.deleteArticleTx(txn, &rec)
	})
}

func (s *Store) deleteArticleTx(txn *badgerdb.Txn, rec *articleRecord) error {
	prefix := scoreArticlePrefix(rec.ID)
	for _, k := range keysWithPrefix(txn, prefix) {
		recKey := rec.ID + "|" + string(k[len(prefix):])
		var sc scoreRecord
		if err := s.db.TxGet(txn, recKey, &sc); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				if err := txn.Delete(k); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("failed to get score %s: %w", recKey, err)
		}
		if err := deleteScoreIndex(txn, &sc); err != nil {
			return err
		}
		if err := s.db.TxDelete(txn, recKey, scoreRecord{}); err != nil {
			return fmt.Errorf("failed to delete score %s: %w", recKey, err)
		}
	}

	if err := release(txn, linkClaimKey(rec.Article.Link), rec.ID); err != nil {
		return err
	}
	if err := release(txn, hashClaimKey(rec.Article.ContentHash), rec.ID); err != nil {
		return err
	}
	if err := txn.Delete(rec.pendingKey()); err != nil {
		return err
	}
	return s.db.TxDelete(txn, rec.ID, articleRecord{})
}

// DeleteUnanalyzedBefore walks the pending keys oldest first up to cutoff.
// Each article is deleted in its own transaction that re-checks it is still
// pending, so an article scored meanwhile survives.
func (s *Store) DeleteUnanalyzedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	limit := tsKey(unixNanos(cutoff))
	var stale []string
	err := s.db.Badger().View(func(txn *badgerdb.Txn) error {
		prefix := []byte(pendingPrefix)
		for _, k := range keysWithPrefix(txn, prefix) {
			if string(k[len(prefix):len(prefix)+tsWidth]) >= limit {
				break
			}
			stale = append(stale, pendingID(k))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find stale articles: %w", err)
	}

	deleted := 0
	for _, id := range stale {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		removed := false
		err := s.update(ctx, func(txn *badgerdb.Txn) error {
			removed = false
			var rec articleRecord
			if err := s.db.TxGet(txn, id, &rec); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return nil
				}
				return err
			}
			pending, err := exists(txn, rec.pendingKey())
			if err != nil || !pending {
				return err
			}
			removed = true
			return s.deleteArticleTx(txn, &rec)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("article_id", id).Msg("Failed to delete stale article")
			continue
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CountArticles(ctx context.Context) (int, int, error) {
	total, err := s.db.Count(&articleRecord{}, nil)
	if err != nil {
		return 0, 0, err
	}
	pending := 0
	err = s.db.Badger().View(func(txn *badgerdb.Txn) error {
		pending = len(keysWithPrefix(txn, []byte(pendingPrefix)))
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return int(total), int(total) - pending, nil
}

var _ store.ArticleRepository = (*Store)(nil)
