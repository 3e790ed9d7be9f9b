package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/manifest"
	"github.com/robfig/cron/v3"
)

// Runner drives Trigger from a cron clock, one entry per distinct
// (timeZone, cron) pair among the manifest's enabled schedules.
type Runner struct {
	scheduler *Scheduler
	cron      *cron.Cron
	specs     []string
}

func NewRunner(s *Scheduler, m manifest.Manifest) (*Runner, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler: scheduler is required")
	}
	r := &Runner{scheduler: s, cron: cron.New(cron.WithLocation(time.UTC))}
	seen := map[string]struct{}{}
	for _, schedule := range m.Schedules {
		if !schedule.Enabled {
			continue
		}
		expr := manifest.NormalizeCron(schedule.Cron)
		tz := strings.TrimSpace(schedule.TimeZone)
		spec := expr
		if tz != "" {
			spec = "CRON_TZ=" + tz + " " + expr
		}
		if _, ok := seen[spec]; ok {
			continue
		}
		seen[spec] = struct{}{}
		fire := Fire{Cron: expr, TimeZone: tz}
		if _, err := r.cron.AddFunc(spec, func() { r.fire(fire) }); err != nil {
			return nil, fmt.Errorf("scheduler: add %q: %w", spec, err)
		}
		r.specs = append(r.specs, spec)
	}
	sort.Strings(r.specs)
	return r, nil
}

// Specs lists the registered cron specs.
func (r *Runner) Specs() []string {
	return append([]string(nil), r.specs...)
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the clock and waits for running triggers or ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) fire(fire Fire) {
	fire.ScheduledAt = r.scheduler.now().Truncate(time.Minute)
	ctx := context.Background()
	if _, err := r.scheduler.Trigger(ctx, fire); err != nil {
		r.scheduler.Observer.Error(ctx, "scheduler: trigger failed", map[string]any{
			"cron":  fire.Cron,
			"error": err.Error(),
		})
	}
}
