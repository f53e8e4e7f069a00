package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/robfig/cron"
)

const (
	DefaultExpirySchedule = "0 3 * * *"
	DefaultQuotaSchedule  = "0 0,12 * * *"
)

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

type notifier interface {
	Notify(ctx context.Context, text string) error
}

// reconcileJob runs a refresh pass and sends the reports to the admin.
func reconcileJob(name, spec, title string, refresh func(context.Context) ([]generator.Report, error), n notifier) job {
	return job{
		name: name,
		spec: spec,
		run: func(ctx context.Context) error {
			reports, err := refresh(ctx)
			if err != nil {
				return err
			}
			return n.Notify(ctx, generator.FormatReports(title, reports))
		},
	}
}

// newScheduler parses the standard cron specs of the jobs and schedules them
// in the given location. Jobs run with the given context.
func newScheduler(ctx context.Context, loc *time.Location, l *log.Logger, jobs []job) (*cron.Cron, error) {
	c := cron.NewWithLocation(loc)
	for _, j := range jobs {
		sched, err := cron.ParseStandard(j.spec)
		if err != nil {
			return nil, fmt.Errorf("serve: invalid %s schedule %q: %w", j.name, j.spec, err)
		}
		c.Schedule(sched, cron.FuncJob(func() {
			l.Info("serve: job started", "job", j.name)
			if err := j.run(ctx); err != nil {
				l.Error("serve: job failed", "job", j.name, "err", err)
				return
			}
			l.Info("serve: job finished", "job", j.name)
		}))
	}
	return c, nil
}
