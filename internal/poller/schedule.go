package poller

import (
	"time"

	"github.com/robfig/cron/v3"
)

// newSchedule returns a constant-delay schedule. cron.Every rounds the
// interval down to whole seconds (minimum 1s).
func newSchedule(interval time.Duration) cron.Schedule {
	return cron.Every(interval)
}

// scheduleDelay reports the effective delay of s.
func scheduleDelay(s cron.Schedule) time.Duration {
	if cd, ok := s.(cron.ConstantDelaySchedule); ok {
		return cd.Delay
	}
	return 0
}
