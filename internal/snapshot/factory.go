package snapshot

import (
	"context"
	"fmt"

	"github.com/fruitsalade/aftp/internal/config"
)

// New opens the snapshot store selected by cfg.SnapshotBackend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.SnapshotBackend {
	case "file":
		store, err = NewFileStore(cfg.SnapshotPath)
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.DatabaseURL, "")
	case "bolt":
		store, err = NewBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.SnapshotBackend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(store), nil
}
