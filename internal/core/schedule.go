package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Schedule marks the weekdays on which a task is eligible to run, indexed by time.Weekday.
type Schedule [7]bool

var weekdayNames = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// DefaultSchedule is Monday through Friday.
func DefaultSchedule() Schedule {
	return Schedule{false, true, true, true, true, true, false}
}

// Days builds a schedule eligible on the given weekdays only.
func Days(days ...time.Weekday) Schedule {
	var s Schedule
	for _, d := range days {
		s[d] = true
	}
	return s
}

// ParseWeekday accepts English weekday names, full or as three-letter
// abbreviations, in any case.
func ParseWeekday(name string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range weekdayNames {
		if n == key || (len(key) == 3 && n[:3] == key) {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, name)
}

// ParseDays reads a comma-separated weekday list such as "mon,wed,fri".
func ParseDays(list string) (Schedule, error) {
	var s Schedule
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		day, err := ParseWeekday(part)
		if err != nil {
			return Schedule{}, err
		}
		s[day] = true
	}
	return s, nil
}

// ScheduleFromMap converts a weekday-name mapping; absent days are not eligible.
func ScheduleFromMap(m map[string]bool) (Schedule, error) {
	var s Schedule
	for name, on := range m {
		day, err := ParseWeekday(name)
		if err != nil {
			return Schedule{}, err
		}
		s[day] = on
	}
	return s, nil
}

// Map returns all seven weekday keys.
func (s Schedule) Map() map[string]bool {
	m := make(map[string]bool, len(weekdayNames))
	for i, n := range weekdayNames {
		m[n] = s[i]
	}
	return m
}

func (s Schedule) On(day time.Weekday) bool {
	return s[day]
}

// Empty reports whether no weekday is eligible.
func (s Schedule) Empty() bool {
	return s == Schedule{}
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON reads a weekday mapping. An empty mapping yields the default
// schedule, matching how task configuration files written without a schedule
// have always been interpreted.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) == 0 {
		*s = DefaultSchedule()
		return nil
	}
	parsed, err := ScheduleFromMap(m)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CronExpr renders the schedule as a 5-field cron expression firing at midnight
// on every eligible day. It returns "" for an empty schedule.
func (s Schedule) CronExpr() string {
	days := make([]string, 0, 7)
	for i, on := range s {
		if on {
			days = append(days, fmt.Sprint(i))
		}
	}
	if len(days) == 0 {
		return ""
	}
	return "0 0 * * " + strings.Join(days, ",")
}

func (s Schedule) String() string {
	days := make([]string, 0, 7)
	for i, on := range s {
		if on {
			days = append(days, weekdayNames[i][:3])
		}
	}
	if len(days) == 0 {
		return "never"
	}
	return strings.Join(days, ",")
}
