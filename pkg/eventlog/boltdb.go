package eventlog

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/skycoin/skycoin/src/util/logging"
	"go.etcd.io/bbolt"
)

var boltDBBucket = []byte("eventlog")
var log = logging.MustGetLogger("eventlog")

// ErrNotFound occurs when no entry is recorded for a connection.
var ErrNotFound = errors.New("log entry not found")

type boltDBLogStore struct {
	db *bbolt.DB
}

// BoltDBLogStore implements a LogStore on top of BoltDB. Entries are
// CBOR-encoded and keyed by connection id.
func BoltDBLogStore(path string) (LogStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltDBBucket); err != nil {
			return fmt.Errorf("failed to create bucket: %s", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &boltDBLogStore{db: db}, nil
}

func (ls *boltDBLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	var raw []byte
	err := ls.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltDBBucket).Get(id[:]); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	entry := &LogEntry{}
	if err := cbor.Unmarshal(raw, entry); err != nil {
		return nil, fmt.Errorf("cbor: %s", err)
	}
	return entry, nil
}

func (ls *boltDBLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	raw, err := cbor.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cbor: %s", err)
	}
	return ls.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltDBBucket).Put(id[:], raw)
	})
}

// Close closes the underlying database.
func (ls *boltDBLogStore) Close() error {
	if ls == nil {
		return nil
	}
	return ls.db.Close()
}
