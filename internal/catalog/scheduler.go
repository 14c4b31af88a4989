package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/robfig/cron/v3"
)

// Scheduler runs catalog refreshes on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	refresh func(ctx context.Context) error
	timeout time.Duration
	spec    string
}

// NewScheduler creates a scheduler that calls r.Refresh on spec, a 5-field
// cron expression or descriptor such as "@daily". An empty spec returns a
// nil Scheduler, whose Start and Stop are no-ops.
func NewScheduler(spec string, r *Refresher) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	schedule, err := oembedfilter.ParseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("parse catalog schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		cron:    cron.New(),
		timeout: 2 * time.Minute,
		spec:    spec,
		refresh: func(ctx context.Context) error {
			_, err := r.Refresh(ctx)
			return err
		},
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.run))
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	if err := s.refresh(ctx); err != nil {
		logging.FromContext(ctx).Error("scheduled catalog refresh failed", "error", err)
	}
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
	slog.Info("catalog refresh scheduled", "schedule", s.spec)
}

// Stop stops the schedule and waits for a running refresh to finish or ctx
// to be done.
func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	if s == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
