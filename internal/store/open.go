package store

import (
	"context"
	"fmt"

	"github.com/wispim/server/internal/config"
	"go.uber.org/zap"
)

// Open builds the backend named by the storage driver and loads the store
// from it. The file driver roots itself in the server data directory.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Storage.Driver {
	case "", "file":
		backend, err = NewFileBackend(cfg.Server.DataDir, log)
	case "postgres":
		backend, err = NewPostgresBackend(ctx, cfg.Storage, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want file or postgres)", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}
	return New(ctx, backend, log)
}
