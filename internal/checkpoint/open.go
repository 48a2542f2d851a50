package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/hodie/internal/config"
	"github.com/nugget/hodie/internal/conversation"
)

// Open creates the store selected by cfg. An empty SQLite DSN uses
// hodie.db under dataDir. When cfg.Keep > 0, every save prunes the
// thread to its newest Keep snapshots.
func Open(ctx context.Context, cfg config.StoreConfig, dataDir string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", config.StoreMemory:
		store = NewMemoryStore()
	case config.StoreSQLite3, config.StoreSQLite:
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(dataDir, "hodie.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err = OpenSQL(cfg.Driver, path)
	case config.StorePostgres:
		store, err = OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("checkpoint: unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("checkpoint store opened", "driver", cfg.Driver, "keep", cfg.Keep)
	if cfg.Keep > 0 {
		return &retaining{Store: store, keep: cfg.Keep, logger: logger}, nil
	}
	return store, nil
}

// retaining prunes a thread after each save.
type retaining struct {
	Store
	keep   int
	logger *slog.Logger
}

func (r *retaining) Save(ctx context.Context, threadID, stage string, state *conversation.State) error {
	if err := r.Store.Save(ctx, threadID, stage, state); err != nil {
		return err
	}
	// A failed prune leaves extra history behind; the save stands.
	if n, err := r.Store.Prune(ctx, threadID, r.keep); err != nil {
		r.logger.Warn("checkpoint prune failed", "thread_id", threadID, "error", err)
	} else if n > 0 {
		r.logger.Debug("checkpoint pruned", "thread_id", threadID, "removed", n)
	}
	return nil
}
