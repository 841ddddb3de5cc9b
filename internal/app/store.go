package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/platform/db"
)

// OpenStore connects the document gateway selected by STORE_DRIVER. The returned
// closer releases the gateway and its connection.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (docstore.Gateway, func(), error) {
	switch cfg.StoreDriver {
	case StoreMemory:
		store := docstore.NewMemory()
		return store, func() { _ = store.Close(context.Background()) }, nil
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		store := docstore.NewPostgres(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() {
			_ = store.Close(context.Background())
			pool.Close()
		}, nil
	case StoreMongo:
		client, err := docstore.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		store := docstore.NewMongo(client.Database(cfg.MongoDatabase), logger)
		return store, func() {
			_ = store.Close(context.Background())
			_ = client.Disconnect(context.Background())
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
