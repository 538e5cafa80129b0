package persistence

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// badgerGateway is the BadgerDB implementation of the Gateway.
type badgerGateway struct {
	db *badger.DB
}

// NewBadgerGateway creates and returns a new gateway connected to a BadgerDB database.
// An empty dbPath opens an in-memory database.
func NewBadgerGateway(dbPath string) (Gateway, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "badger: open %q", dbPath)
	}
	return &badgerGateway{db: db}, nil
}

// Put stores value under the path key.
func (g *badgerGateway) Put(_ context.Context, path string, value []byte) error {
	key := []byte(Clean(path))
	err := g.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	return errors.Wrapf(err, "badger: put %s", key)
}

// Delete removes the key itself and every key below it.
func (g *badgerGateway) Delete(_ context.Context, path string) error {
	node := Clean(path)
	keys := [][]byte{[]byte(node)}

	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(node + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "badger: scan %s", node)
	}

	wb := g.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return errors.Wrapf(err, "badger: delete %s", k)
		}
	}
	return errors.Wrapf(wb.Flush(), "badger: delete %s", node)
}

// ListChildren returns the values of keys exactly one level below path.
func (g *badgerGateway) ListChildren(_ context.Context, path string) ([][]byte, error) {
	prefix := Clean(path) + "/"
	values := make([][]byte, 0)

	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if _, ok := childName(prefix, string(item.Key())); !ok {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, val)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "badger: list %s", prefix)
	}
	return values, nil
}

// Close gracefully closes the connection to the database.
func (g *badgerGateway) Close() error {
	return g.db.Close()
}
