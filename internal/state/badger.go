package state

import (
	"context"
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

var recordKey = []byte("spikewatch/state")

// BadgerStore keeps the record under a single key in a Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state: badger path is required")
	}
	return openBadger(badger.DefaultOptions(path).WithLogger(nil))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Load reads the record. A missing key is an empty record.
func (s *BadgerStore) Load(ctx context.Context) (Record, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return Decode(data)
}

// Save replaces the record.
func (s *BadgerStore) Save(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey, data)
	})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
