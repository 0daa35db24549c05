// Package snapshot persists the file tree as a JSON document after every
// mutation and loads it back at startup.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
)

// ErrNoSnapshot is returned by Load when nothing was ever persisted.
var ErrNoSnapshot = errors.New("no snapshot")

// Store is a durable home for the tree document.
type Store interface {
	fstree.Sink

	// Load returns the last persisted tree or ErrNoSnapshot.
	Load(ctx context.Context) (*fstree.Tree, error)

	// Type returns the backend identifier ("file", "postgres", "bolt").
	Type() string

	Close() error
}

// Encode renders root as the snapshot document.
func Encode(root *fstree.Tree) ([]byte, error) {
	return json.Marshal(root)
}

// Decode parses a snapshot document. The top node must be a folder and the
// whole tree must pass fstree validation; anything else is corrupt.
func Decode(data []byte) (*fstree.Tree, error) {
	var root *fstree.Tree
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if root == nil {
		return nil, errors.New("decode snapshot: empty document")
	}
	if !root.Node.IsFolder() {
		return nil, fmt.Errorf("decode snapshot: root %q is not a folder", root.Node.Name)
	}
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return root, nil
}

// LoadOrInit loads the persisted tree, or starts an empty root when none
// exists. Any other failure, an unparseable document included, is returned.
func LoadOrInit(ctx context.Context, store Store) (*fstree.Tree, error) {
	root, err := store.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		logging.Info("no snapshot found, starting with an empty tree",
			zap.String("backend", store.Type()))
		return fstree.NewRoot(), nil
	}
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Instrument wraps a store so each persist is timed and logged.
func Instrument(store Store) Store {
	return &instrumented{Store: store}
}

type instrumented struct {
	Store
}

func (s *instrumented) Persist(ctx context.Context, root *fstree.Tree) error {
	start := time.Now()
	err := s.Store.Persist(ctx, root)
	metrics.RecordSnapshot(s.Type(), time.Since(start), err == nil)
	if err != nil {
		logging.WithContext(ctx).Error("snapshot failed",
			zap.String("backend", s.Type()), zap.Error(err))
	}
	return err
}
