package migrate

import (
	"context"
	"fmt"

	"github.com/igolaizola/sunobot/pkg/logger"
	"github.com/igolaizola/sunobot/pkg/storage"
)

type Config struct {
	Debug  bool
	DBType string
	DBConn string
}

// Run creates or updates the database schema.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.New(cfg.Debug)
	store, err := storage.New(cfg.DBType, cfg.DBConn, true)
	if err != nil {
		return fmt.Errorf("migrate: couldn't create: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't start: %w", err)
	}
	defer func() { _ = store.Stop() }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't migrate: %w", err)
	}
	log.Info("migrate: database is up to date")
	return nil
}
