package schedule

import (
	"fmt"
	"time"
)

// Alarm is a durable recurring watch registration for one tab. At most one
// alarm exists per tab; re-registering replaces the previous one.
type Alarm struct {
	TabID           string     `json:"tab_id"`
	Name            string     `json:"name"`
	IntervalMinutes int        `json:"interval_minutes"`
	NextRunAt       time.Time  `json:"next_run_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	ChatID          string     `json:"chat_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AlarmName returns the canonical alarm name for a tab.
func AlarmName(tabID string) string {
	return fmt.Sprintf("watch-tab-%s", tabID)
}

// Interval returns the alarm's recurrence interval as a duration.
func (a *Alarm) Interval() time.Duration {
	return time.Duration(a.IntervalMinutes) * time.Minute
}
