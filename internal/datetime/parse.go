// Package datetime turns the relative date and time fragments produced by
// intent classification into absolute timestamps.
package datetime

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"sun":       time.Sunday,
	"monday":    time.Monday,
	"mon":       time.Monday,
	"tuesday":   time.Tuesday,
	"tue":       time.Tuesday,
	"tues":      time.Tuesday,
	"wednesday": time.Wednesday,
	"wed":       time.Wednesday,
	"thursday":  time.Thursday,
	"thu":       time.Thursday,
	"thurs":     time.Thursday,
	"friday":    time.Friday,
	"fri":       time.Friday,
	"saturday":  time.Saturday,
	"sat":       time.Saturday,
}

// Layouts tried, in order, for literal dates. Date-only layouts resolve to
// midnight in the base location.
var literalLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
}

var timePattern = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// Parse resolves dateStr and timeStr against base. Unknown date phrases leave
// the date of base untouched; invalid time strings leave its time of day
// untouched. When a time applies, seconds are zeroed.
func Parse(dateStr, timeStr string, base time.Time) time.Time {
	result := applyDate(strings.TrimSpace(dateStr), base)
	if h, m, ok := parseClock(timeStr); ok {
		result = time.Date(result.Year(), result.Month(), result.Day(), h, m, 0, 0, result.Location())
	}
	return result
}

func applyDate(raw string, base time.Time) time.Time {
	phrase := strings.ToLower(raw)
	switch phrase {
	case "", "today":
		return base
	case "tomorrow":
		return base.AddDate(0, 0, 1)
	case "next week":
		return base.AddDate(0, 0, 7)
	}

	if target, ok := weekdays[strings.TrimPrefix(phrase, "next ")]; ok {
		diff := (int(target) - int(base.Weekday()) + 7) % 7
		if diff == 0 {
			diff = 7
		}
		return base.AddDate(0, 0, diff)
	}

	for _, layout := range literalLayouts {
		if t, err := time.ParseInLocation(layout, raw, base.Location()); err == nil {
			return t
		}
	}
	return base
}

// parseClock reads "H", "H:MM" with an optional am/pm suffix. With a suffix
// the hour must be 1 to 12.
func parseClock(raw string) (hour, minute int, ok bool) {
	m := timePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, false
	}

	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}

// Reschedule moves an event to newStart and keeps its original duration.
func Reschedule(start, end, newStart time.Time) (time.Time, time.Time) {
	return newStart, newStart.Add(end.Sub(start))
}
