package refresh

import (
	"context"
	"fmt"

	"github.com/igolaizola/sunobot/pkg/cmd/shared"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/logger"
)

// Titles of the reports.
const (
	ExpiryTitle = "Cookie expiry refresh"
	QuotaTitle  = "Cookie quota refresh"
)

type Config struct {
	shared.Config

	Expiry bool
	Quota  bool
}

// Run refreshes the expiry and/or the quota of every idle cookie and prints
// the reports. If no kind is selected both are refreshed.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.New(cfg.Debug)
	if !cfg.Expiry && !cfg.Quota {
		cfg.Expiry, cfg.Quota = true, true
	}

	store, err := shared.OpenStore(ctx, &cfg.Config)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer func() { _ = store.Stop() }()

	gen, err := shared.NewGenerator(&cfg.Config, store, nil, log)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	if cfg.Expiry {
		reports, err := gen.RefreshExpiry(ctx)
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		fmt.Println(generator.FormatReports(ExpiryTitle, reports))
	}
	if cfg.Quota {
		reports, err := gen.RefreshQuota(ctx)
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		fmt.Println(generator.FormatReports(QuotaTitle, reports))
	}
	return nil
}
