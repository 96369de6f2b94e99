package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/storage"
)

const dateLayout = "2006-01-02"

var dayTokens = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// DaySet is the set of weekdays a schedule runs on. An empty set means
// every day.
type DaySet map[time.Weekday]bool

func (d DaySet) Allows(day time.Weekday) bool {
	return len(d) == 0 || d[day]
}

// ParseDays parses a comma separated list of Mon..Sun tokens, case
// insensitive. Blank entries are skipped; an unknown token is an error.
func ParseDays(s string) (DaySet, error) {
	days := DaySet{}
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		day, ok := dayTokens[strings.ToLower(token)]
		if !ok {
			return nil, fmt.Errorf("unknown day token %q", token)
		}
		days[day] = true
	}
	return days, nil
}

// allowedDays is the lenient form used at evaluation time: unknown tokens
// never match, but a list made only of unknown tokens still restricts.
func allowedDays(s *string, day time.Weekday) bool {
	if s == nil || strings.TrimSpace(*s) == "" {
		return true
	}

	matched, listed := false, false
	for _, token := range strings.Split(*s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		listed = true
		if d, ok := dayTokens[strings.ToLower(token)]; ok && d == day {
			matched = true
		}
	}
	return !listed || matched
}

// ParseStartTime parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseStartTime(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid start time %q: want HH:MM or HH:MM:SS", s)
	}

	limits := []int{23, 59, 59}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}

	for i, part := range parts {
		if len(part) == 0 || len(part) > 2 {
			return 0, fmt.Errorf("invalid start time %q", s)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid start time %q", s)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}

func sinceMidnight(t time.Time) time.Duration {
	y, m, d := t.Date()
	return t.Sub(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
}

// IsDue reports whether s should fire at now for a loop ticking every
// interval. The window is [start, start+interval); a tick paused longer than
// interval can skip a day's run.
func IsDue(s storage.Schedule, now time.Time, interval time.Duration) (bool, error) {
	now = now.UTC()

	start, err := ParseStartTime(s.StartTimeUTC)
	if err != nil {
		return false, err
	}

	if !allowedDays(s.DaysOfWeek, now.Weekday()) {
		return false, nil
	}

	if s.LastRunDateUTC != nil && *s.LastRunDateUTC == now.Format(dateLayout) {
		return false, nil
	}

	current := sinceMidnight(now)
	return current >= start && current < start+interval, nil
}

// NextRun returns the next instant after now at which an enabled schedule
// would fire, looking up to a week ahead. ok is false when nothing is
// scheduled.
func NextRun(schedules []storage.Schedule, now time.Time) (next time.Time, ok bool) {
	now = now.UTC()
	today := now.Format(dateLayout)
	midnight := now.Add(-sinceMidnight(now))

	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		start, err := ParseStartTime(s.StartTimeUTC)
		if err != nil {
			continue
		}

		for offset := 0; offset <= 7; offset++ {
			day := midnight.AddDate(0, 0, offset)
			at := day.Add(start)

			if !allowedDays(s.DaysOfWeek, day.Weekday()) {
				continue
			}
			if offset == 0 {
				if at.Before(now) {
					continue
				}
				if s.LastRunDateUTC != nil && *s.LastRunDateUTC == today {
					continue
				}
			}

			if !ok || at.Before(next) {
				next, ok = at, true
			}
			break
		}
	}
	return next, ok
}
