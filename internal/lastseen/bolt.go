package lastseen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketLastSeen = []byte("lastseen")
	keyLastEventID = []byte("lastEventId")
)

// BoltBackend stores the id in a local bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

var _ Backend = (*BoltBackend)(nil)

// NewBoltBackend opens (creating if needed) the database at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLastSeen); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketLastSeen, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db}, nil
}

// Load implements Backend.
func (b *BoltBackend) Load(_ context.Context) (string, error) {
	var id string
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketLastSeen).Get(keyLastEventID); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, err
}

// Save implements Backend.
func (b *BoltBackend) Save(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLastSeen).Put(keyLastEventID, []byte(id))
	})
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
