package domain

import (
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// DateOf returns the civil date of t as seen in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate reads a YYYY-MM-DD civil date. Full RFC 3339 timestamps are accepted
// and truncated to their date part.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// AddDays moves a civil date by whole calendar days.
func AddDays(date time.Time, days int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day()+days, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b; both must be civil dates.
func DaysBetween(a time.Time, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
