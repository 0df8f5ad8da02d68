package badger

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/seenimoa/marketpulse/pkg/models"
)

// Raw keys written next to the badgerhold records. Every key belongs to a
// single article or score, so concurrent writers for different records never
// read each other's keys and cannot conflict.
//
//	mp:claim:link:<link>                          uniqueness claim, value = article ID
//	mp:claim:hash:<hash>                          uniqueness claim, value = article ID
//	mp:pending:<scraped ts>:<article ID>          present while the article is unanalyzed
//	mp:idx:score:article:<article ID>\x00<scope>  scores of one article
//	mp:idx:score:<kind>:<id>\x00<ts>\x00<key>     scores of one entity by creation time
const (
	pendingPrefix    = "mp:pending:"
	scoreIndexPrefix = "mp:idx:score:"
	tsWidth          = 20
)

func hashClaimKey(hash string) []byte { return []byte("mp:claim:hash:" + hash) }
func linkClaimKey(link string) []byte { return []byte("mp:claim:link:" + link) }

// unixNanos clamps t to the range that orders correctly as a fixed-width key.
func unixNanos(t time.Time) int64 {
	switch {
	case t.Year() < 1970:
		return 0
	case t.Year() > 2261:
		return math.MaxInt64
	}
	return t.UnixNano()
}

func tsKey(ns int64) string {
	if ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%0*d", tsWidth, ns)
}

func parseTS(b []byte) (int64, error) {
	if len(b) < tsWidth {
		return 0, fmt.Errorf("short timestamp key %q", b)
	}
	return strconv.ParseInt(string(b[:tsWidth]), 10, 64)
}

func pendingKey(scraped int64, id string) []byte {
	return []byte(pendingPrefix + tsKey(scraped) + ":" + id)
}

// pendingID extracts the article ID from a pending key.
func pendingID(key []byte) string {
	return string(key[len(pendingPrefix)+tsWidth+1:])
}

func scoreArticlePrefix(articleID string) []byte {
	return []byte(scoreIndexPrefix + "article:" + articleID + "\x00")
}

func scoreEntityPrefix(key models.EntityKey) []byte {
	return []byte(scoreIndexPrefix + string(key.Kind) + ":" + key.ID + "\x00")
}

func scoreEntityKey(key models.EntityKey, created int64, recKey string) []byte {
	return append(scoreEntityPrefix(key), tsKey(created)+"\x00"+recKey...)
}

// scoreEntities lists every entity a score counts towards.
func scoreEntities(rec *scoreRecord) []models.EntityKey {
	keys := []models.EntityKey{{Kind: models.EntityMarket}}
	if rec.Symbol != "" {
		keys = append(keys, models.EntityKey{Kind: models.EntityInstrument, ID: rec.Symbol})
	}
	if rec.Sector != "" {
		keys = append(keys, models.EntityKey{Kind: models.EntitySector, ID: rec.Sector})
	}
	return keys
}

func setScoreIndex(txn *badgerdb.Txn, rec *scoreRecord) error {
	if err := txn.Set(append(scoreArticlePrefix(rec.ArticleID), rec.ScopeKey...), []byte(rec.Key)); err != nil {
		return err
	}
	for _, k := range scoreEntities(rec) {
		if err := txn.Set(scoreEntityKey(k, rec.CreatedUnix, rec.Key), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteScoreIndex(txn *badgerdb.Txn, rec *scoreRecord) error {
	if err := txn.Delete(append(scoreArticlePrefix(rec.ArticleID), rec.ScopeKey...)); err != nil {
		return err
	}
	for _, k := range scoreEntities(rec) {
		if err := txn.Delete(scoreEntityKey(k, rec.CreatedUnix, rec.Key)); err != nil {
			return err
		}
	}
	return nil
}

// exists reports whether key is present. In a read-write transaction the read
// is tracked for conflict detection.
func exists(txn *badgerdb.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// keysWithPrefix collects the keys under prefix without fetching values.
func keysWithPrefix(txn *badgerdb.Txn, prefix []byte) [][]byte {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out
}
