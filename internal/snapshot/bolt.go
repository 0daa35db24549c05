package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fruitsalade/aftp/internal/fstree"
)

var (
	boltBucket = []byte("snapshots")
	boltKey    = []byte("tree")
)

// BoltStore keeps the snapshot under one key of a bolt database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Persist overwrites the stored document in one transaction.
func (s *BoltStore) Persist(_ context.Context, root *fstree.Tree) error {
	data, err := Encode(root)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKey, data)
	})
}

// Load reads the stored document.
func (s *BoltStore) Load(_ context.Context) (*fstree.Tree, error) {
	var data []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(boltKey)
		if v != nil {
			// v is only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("read bolt snapshot: %w", err)
	}
	if data == nil {
		return nil, ErrNoSnapshot
	}
	return Decode(data)
}

// Type returns "bolt".
func (s *BoltStore) Type() string { return "bolt" }

// Close closes the database.
func (s *BoltStore) Close() error { return s.db.Close() }
