// Package badger implements the store repositories on an embedded Badger
// database through badgerhold.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/internal/store"
)

// Store is the badgerhold-backed implementation of store.Store.
type Store struct {
	db     *badgerhold.Store
	retry  infra.Backoff
	logger arbor.ILogger
}

// conflictRetry bounds how often a transaction that lost a badger conflict
// is replayed.
var conflictRetry = infra.Backoff{Base: 2 * time.Millisecond, Factor: 2, Max: 100 * time.Millisecond, MaxAttempts: 10}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database under path.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	logger = infra.OrNop(logger)

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening Badger database")

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // badger's own logger is noisy; errors surface through arbor

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Badger database initialized")
	return &Store{db: db, retry: conflictRetry, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// update runs fn in a read-write transaction. A badger conflict means a key
// fn read was committed by another writer meanwhile; the transaction is
// replayed so fn sees the new state. Only claim reports store.ErrDuplicate.
func (s *Store) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	attempts, err := s.retry.Retry(ctx, func(ctx context.Context) error {
		err := s.db.Badger().Update(fn)
		if err == nil || errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
		return infra.Permanent(err)
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		s.logger.Warn().Int("attempts", attempts).Msg("Transaction conflict persisted after retries")
	}
	return err
}

// claim reserves a unique key inside txn. It fails with store.ErrDuplicate
// when the key is already held.
func claim(txn *badgerdb.Txn, key []byte, owner string) error {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", store.ErrDuplicate, key)
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		return txn.Set(key, []byte(owner))
	default:
		return err
	}
}

// release drops a claim key if owner still holds it.
func release(txn *badgerdb.Txn, key []byte, owner string) error {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	held, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(held) != owner {
		return nil
	}
	return txn.Delete(key)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to get %s %s: %w", what, id, err)
}
