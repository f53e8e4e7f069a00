package serve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/igolaizola/sunobot/pkg/api"
	"github.com/igolaizola/sunobot/pkg/bot"
	"github.com/igolaizola/sunobot/pkg/cmd/refresh"
	"github.com/igolaizola/sunobot/pkg/cmd/shared"
	"github.com/igolaizola/sunobot/pkg/logger"
)

type Config struct {
	shared.Config

	Token string
	Admin int64

	Timezone       string
	ExpirySchedule string
	QuotaSchedule  string

	// Addr enables the admin API.
	Addr        string
	Credentials map[string]string
}

// Run launches the telegram bot, the reconciliation jobs and optionally the
// admin API until the context is done.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.New(cfg.Debug)
	log.Info("serve: process started")
	defer log.Info("serve: process ended")

	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Shanghai"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("serve: invalid timezone %s: %w", cfg.Timezone, err)
	}

	store, err := shared.OpenStore(ctx, &cfg.Config)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() { _ = store.Stop() }()

	fs, err := shared.NewArchive(ctx, &cfg.Config, log)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	gen, err := shared.NewGenerator(&cfg.Config, store, fs, log)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	b, err := bot.New(&bot.Config{
		Token:     cfg.Token,
		Proxy:     cfg.Proxy,
		Admin:     cfg.Admin,
		Generator: gen,
		Logger:    log,
		Debug:     cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched, err := newScheduler(ctx, loc, log, []job{
		reconcileJob("expiry", cfg.ExpirySchedule, refresh.ExpiryTitle, gen.RefreshExpiry, b),
		reconcileJob("quota", cfg.QuotaSchedule, refresh.QuotaTitle, gen.RefreshQuota, b),
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	errC := make(chan error, 2)
	running := 1
	go func() {
		errC <- b.Run(ctx)
	}()
	if cfg.Addr != "" {
		running++
		apiCfg := &api.Config{
			Store:       store,
			Generator:   gen,
			Logger:      log,
			Debug:       cfg.Debug,
			Credentials: cfg.Credentials,
		}
		if fs != nil {
			apiCfg.Archive = fs
		}
		handler := api.New(apiCfg)
		go func() {
			errC <- api.Serve(ctx, cfg.Addr, handler, log)
		}()
	}

	// The first component to stop stops the rest.
	var errs []error
	for i := 0; i < running; i++ {
		if err := <-errC; err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
