// Package shared builds the components every command needs from the common
// flags.
package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/fetch"
	"github.com/igolaizola/sunobot/pkg/fhttp"
	"github.com/igolaizola/sunobot/pkg/filestore"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/storage"
	"github.com/igolaizola/sunobot/pkg/suno"
)

type Config struct {
	Debug       bool
	DBType      string
	DBConn      string
	FSType      string
	FSConn      string
	Proxy       string
	Impersonate bool
	Output      string

	Wait             time.Duration
	PollWait         time.Duration
	PollErrorWait    time.Duration
	MaxPolls         int
	MaxRenewals      int
	SettleDelay      time.Duration
	DownloadAttempts int
	MinSize          int64

	Quota    int
	Lifetime time.Duration
}

// OpenStore connects to the database and migrates it.
func OpenStore(ctx context.Context, cfg *Config) (*storage.Store, error) {
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("couldn't create orm store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return nil, fmt.Errorf("couldn't start orm store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Stop()
		return nil, fmt.Errorf("couldn't migrate orm store: %w", err)
	}
	return store, nil
}

// NewArchive returns the file store configured by the fs flags or nil if
// none is configured.
func NewArchive(ctx context.Context, cfg *Config, logger *log.Logger) (*filestore.Store, error) {
	if cfg.FSType == "" {
		return nil, nil
	}
	fs, err := filestore.New(ctx, cfg.FSType, cfg.FSConn, logger)
	if err != nil {
		return nil, fmt.Errorf("couldn't create file store: %w", err)
	}
	return fs, nil
}

// NewGenerator wires the session client and the fetcher around the store.
// The archive is optional.
func NewGenerator(cfg *Config, store *storage.Store, fs *filestore.Store, logger *log.Logger) (*generator.Generator, error) {
	sunoClient, err := fhttp.NewClient(2*time.Minute, cfg.Proxy, cfg.Impersonate)
	if err != nil {
		return nil, fmt.Errorf("couldn't create suno http client: %w", err)
	}
	cdnClient, err := fhttp.NewClient(2*time.Minute, cfg.Proxy, false)
	if err != nil {
		return nil, fmt.Errorf("couldn't create cdn http client: %w", err)
	}

	var archive generator.Archive
	if fs != nil {
		archive = fs
	}

	return generator.New(&generator.Config{
		Store: store,
		Sessions: generator.SunoSessions(&suno.Config{
			Wait:          cfg.Wait,
			Debug:         cfg.Debug,
			Client:        sunoClient,
			Logger:        logger,
			PollWait:      cfg.PollWait,
			PollErrorWait: cfg.PollErrorWait,
			MaxPolls:      cfg.MaxPolls,
			MaxRenewals:   cfg.MaxRenewals,
		}),
		Fetcher: fetch.New(&fetch.Config{
			Client:      cdnClient,
			Logger:      logger,
			SettleDelay: cfg.SettleDelay,
			MaxAttempts: cfg.DownloadAttempts,
			MinSize:     cfg.MinSize,
		}),
		Archive:         archive,
		Logger:          logger,
		OutputDir:       cfg.Output,
		DefaultQuota:    cfg.Quota,
		DefaultLifetime: cfg.Lifetime,
	}), nil
}
