package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/igolaizola/sunobot/pkg/storage"
)

// Report is the outcome of refreshing a single credential.
type Report struct {
	CredentialID string
	Quota        *int
	Expiry       *time.Time
	Skipped      bool
	Err          error
}

func (r Report) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s couldn't be refreshed: %v", r.CredentialID, r.Err)
	case r.Skipped:
		return fmt.Sprintf("%s skipped, it is busy", r.CredentialID)
	case r.Quota != nil:
		return fmt.Sprintf("%s left count updated to %d", r.CredentialID, *r.Quota)
	case r.Expiry != nil:
		return fmt.Sprintf("%s session updated and will expire at %s", r.CredentialID, r.Expiry.Format(time.DateTime))
	default:
		return fmt.Sprintf("%s unchanged", r.CredentialID)
	}
}

// FormatReports joins the reports in a single message.
func FormatReports(title string, reports []Report) string {
	lines := []string{title}
	for _, r := range reports {
		lines = append(lines, r.String())
	}
	if len(reports) == 0 {
		lines = append(lines, "no credentials")
	}
	return strings.Join(lines, "\n")
}

// RefreshExpiry updates the expiry of every idle credential with the
// session expiry reported by the provider.
func (g *Generator) RefreshExpiry(ctx context.Context) ([]Report, error) {
	return g.refresh(ctx, "expiry", func(ctx context.Context, s Session, r *Report) error {
		expiry, ok, err := s.SessionExpiry(ctx)
		if err != nil {
			return err
		}
		if ok {
			r.Expiry = &expiry
		}
		return nil
	})
}

// RefreshQuota updates the quota of every idle credential with the credits
// reported by the provider.
func (g *Generator) RefreshQuota(ctx context.Context) ([]Report, error) {
	return g.refresh(ctx, "quota", func(ctx context.Context, s Session, r *Report) error {
		credits, err := s.RemainingCredits(ctx)
		if err != nil {
			return err
		}
		r.Quota = &credits
		return nil
	})
}

func (g *Generator) refresh(ctx context.Context, name string, query func(context.Context, Session, *Report) error) ([]Report, error) {
	creds, err := g.store.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("generator: couldn't list credentials: %w", err)
	}
	g.log.Info("generator: refresh started", "type", name, "credentials", len(creds))

	var reports []Report
	for _, c := range creds {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		r := g.refreshOne(ctx, c, query)
		if r.Err != nil {
			g.log.Warn("generator: couldn't refresh credential", "type", name, "credential", c.ID, "err", r.Err)
		} else {
			g.log.Info("generator: credential refreshed", "type", name, "report", r.String())
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (g *Generator) refreshOne(ctx context.Context, c *storage.Credential, query func(context.Context, Session, *Report) error) Report {
	r := Report{CredentialID: c.ID}
	// Busy credentials belong to a running job, which will write them back.
	if c.Busy {
		r.Skipped = true
		return r
	}
	s := g.sessions(c.Content)
	if err := s.Start(ctx); err != nil {
		r.Err = err
		return r
	}
	if err := query(ctx, s, &r); err != nil {
		r.Err = err
		return r
	}
	if r.Quota == nil && r.Expiry == nil {
		return r
	}
	ok, err := g.store.RefreshCredential(ctx, c.ID, r.Quota, r.Expiry)
	if err != nil {
		r.Err = err
		return r
	}
	if !ok {
		// Acquired by a job while the provider was queried
		r.Skipped = true
		r.Quota = nil
		r.Expiry = nil
	}
	return r
}
