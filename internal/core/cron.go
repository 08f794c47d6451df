package core

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronSchedule returns the midnight-of-eligible-day schedule for s.
func cronSchedule(s Schedule) (cron.Schedule, error) {
	expr := s.CronExpr()
	if expr == "" {
		return nil, fmt.Errorf("%w: schedule has no eligible day", ErrInvalidTaskConfig)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextEligible returns the earliest instant at or after now when a task with the
// given schedule and last run may be enqueued again, or nil if it never can.
func NextEligible(s Schedule, lastRun *time.Time, now time.Time) *time.Time {
	candidate := now
	if lastRun != nil {
		if c := lastRun.In(now.Location()).Add(Cooldown); c.After(candidate) {
			candidate = c
		}
	}
	if s.On(candidate.Weekday()) {
		return &candidate
	}
	schedule, err := cronSchedule(s)
	if err != nil {
		return nil
	}
	next := schedule.Next(candidate)
	return &next
}

// UpcomingDays returns the start of the next n eligible days after base.
func UpcomingDays(s Schedule, base time.Time, n int) []time.Time {
	schedule, err := cronSchedule(s)
	if err != nil {
		return nil
	}
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		times = append(times, next)
	}
	return times
}
