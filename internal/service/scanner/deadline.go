package scanner

import (
	"strings"
	"time"
)

var deadlineLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
}

// ParseDeadline reads a deadline as a calendar date in loc.
// Dates with a time component keep only their date in loc.
func ParseDeadline(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range deadlineLayouts {
		parsed, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return calendarDate(parsed, loc), true
		}
	}
	return time.Time{}, false
}

// InWindow reports whether today < deadline < today+windowDays, compared as calendar dates
func InWindow(today, deadline time.Time, windowDays int) bool {
	limit := today.AddDate(0, 0, windowDays)
	return deadline.After(today) && deadline.Before(limit)
}

func calendarDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
