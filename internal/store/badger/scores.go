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

// scoreRecord is keyed by "articleID|scopeKey" so each (article, scope) pair
// holds at most one score. It carries no badgerhold indexes; lookups by
// article and by entity go through the raw index keys in keys.go.
type scoreRecord struct {
	Key         string
	ArticleID   string
	ScopeKey    string
	Symbol      string
	Sector      string
	CreatedUnix int64
	Score       models.SentimentScore
}

// ScoreKey returns the storage key of a score.
func ScoreKey(articleID string, scope models.Scope) string {
	return articleID + "|" + scope.Key()
}

// SaveScore upserts the score for its (article, scope) and clears the
// article's pending key in the same transaction. The pending key is deleted
// without being read, so scores for different scopes of one article commit
// concurrently.
func (s *Store) SaveScore(ctx context.Context, sc *models.SentimentScore) error {
	if sc.ArticleID == "" {
		return fmt.Errorf("score article ID is required")
	}
	scope := sc.Scope()
	rec := &scoreRecord{
		Key:         ScoreKey(sc.ArticleID, scope),
		ArticleID:   sc.ArticleID,
		ScopeKey:    scope.Key(),
		Symbol:      sc.Symbol,
		Sector:      sc.Sector,
		CreatedUnix: unixNanos(sc.CreatedAt),
		Score:       *sc,
	}

	return s.update(ctx, func(txn *badgerdb.Txn) error {
		var art articleRecord
		if err := s.db.TxGet(txn, sc.ArticleID, &art); err != nil {
			return notFound(err, "article", sc.ArticleID)
		}

		var prev scoreRecord
		switch err := s.db.TxGet(txn, rec.Key, &prev); {
		case err == nil:
			if err := deleteScoreIndex(txn, &prev); err != nil {
				return err
			}
		case !errors.Is(err, badgerhold.ErrNotFound):
			return fmt.Errorf("failed to read score %s: %w", rec.Key, err)
		}

		if err := s.db.TxUpsert(txn, rec.Key, rec); err != nil {
			return fmt.Errorf("failed to save score: %w", err)
		}
		if err := setScoreIndex(txn, rec); err != nil {
			return fmt.Errorf("failed to index score: %w", err)
		}
		return txn.Delete(art.pendingKey())
	})
}

func (s *Store) ScoresForArticle(ctx context.Context, articleID string) ([]models.SentimentScore, error) {
	var out []models.SentimentScore
	err := s.db.Badger().View(func(txn *badgerdb.Txn) error {
		prefix := scoreArticlePrefix(articleID)
		for _, k := range keysWithPrefix(txn, prefix) {
			var rec scoreRecord
			if err := s.db.TxGet(txn, articleID+"|"+string(k[len(prefix):]), &rec); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, rec.Score)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find scores: %w", err)
	}
	return out, nil
}

// RecentScores walks the entity's time-ordered index backwards from to, so
// only scores inside [from, to) are read and the walk stops at limit.
func (s *Store) RecentScores(ctx context.Context, key models.EntityKey, from, to time.Time, limit int) ([]models.SentimentScore, error) {
	switch key.Kind {
	case models.EntityInstrument, models.EntitySector:
	case models.EntityMarket:
		key.ID = ""
	default:
		return nil, fmt.Errorf("unknown entity kind %q", key.Kind)
	}

	prefix := scoreEntityPrefix(key)
	lo := unixNanos(from)
	seek := append(scoreEntityPrefix(key), tsKey(unixNanos(to))...)

	var out []models.SentimentScore
	err := s.db.Badger().View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			ts, err := parseTS(rest)
			if err != nil {
				return err
			}
			if ts < lo {
				break
			}
			recKey := string(rest[tsWidth+1:])
			var rec scoreRecord
			if err := s.db.TxGet(txn, recKey, &rec); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, rec.Score)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find scores for %s: %w", key, err)
	}
	return out, nil
}

var _ store.ScoreRepository = (*Store)(nil)
