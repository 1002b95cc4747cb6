// Package scheduler fires the trading cycle at daily wall-clock times or
// at a fixed cadence.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Schedule yields the next trigger strictly after now.
type Schedule interface {
	Next(now time.Time) time.Time
}

// Clock time of day.
type Clock struct {
	Hour, Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, errors.Wrapf(err, "parse time of day %q", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Daily fires at each clock time in loc.
type Daily struct {
	times []Clock
	loc   *time.Location
}

// NewDaily creates a daily schedule. A nil loc means UTC.
func NewDaily(times []Clock, loc *time.Location) (*Daily, error) {
	if len(times) == 0 {
		return nil, errors.New("daily schedule needs at least one time")
	}
	if loc == nil {
		loc = time.UTC
	}
	sorted := append([]Clock(nil), times...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Hour != sorted[j].Hour {
			return sorted[i].Hour < sorted[j].Hour
		}
		return sorted[i].Minute < sorted[j].Minute
	})
	return &Daily{times: sorted, loc: loc}, nil
}

// Next returns the first configured time after now.
func (d *Daily) Next(now time.Time) time.Time {
	local := now.In(d.loc)
	for day := 0; day < 2; day++ {
		y, m, dd := local.AddDate(0, 0, day).Date()
		for _, c := range d.times {
			at := time.Date(y, m, dd, c.Hour, c.Minute, 0, 0, d.loc)
			if at.After(now) {
				return at
			}
		}
	}
	// unreachable with at least one time configured
	return now.Add(24 * time.Hour)
}

// Cadence fires every interval, aligned to multiples of interval.
type Cadence struct {
	Interval time.Duration
}

// Next returns the next interval boundary after now.
func (c Cadence) Next(now time.Time) time.Time {
	return now.Truncate(c.Interval).Add(c.Interval)
}

// Scheduler calls the task on every trigger. Tasks run in their own
// goroutine so a slow cycle never delays the next trigger; callers
// coalesce overlaps.
type Scheduler struct {
	schedule       Schedule
	RunImmediately bool

	nowFn  func() time.Time
	logger *zap.Logger
}

// New creates a scheduler.
func New(schedule Schedule, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{schedule: schedule, nowFn: time.Now, logger: logger}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context, task func(context.Context)) {
	if task == nil {
		s.logger.Warn("scheduler task is nil, exit")
		return
	}
	if c, ok := s.schedule.(Cadence); ok && c.Interval <= 0 {
		s.logger.Warn("invalid cadence, exit", zap.Duration("interval", c.Interval))
		return
	}

	if s.RunImmediately {
		s.logger.Info("running first cycle immediately")
		go task(ctx)
	}

	for {
		now := s.nowFn()
		next := s.schedule.Next(now)
		wait := next.Sub(now)
		s.logger.Info("next cycle scheduled",
			zap.Time("at", next),
			zap.Duration("in", wait.Truncate(time.Second)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}
		go task(ctx)
	}
}
