package scheduler

import (
	"fmt"
	"time"
)

// Calendar answers trading-day questions for the scheduler: weekends and
// configured market holidays are skipped.
type Calendar struct {
	location *time.Location
	holidays map[string]bool
}

// NewCalendar builds a calendar in the given timezone with holidays listed
// as YYYY-MM-DD strings.
func NewCalendar(timezone string, holidays []string) (*Calendar, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", timezone, err)
	}

	holidaySet := make(map[string]bool, len(holidays))
	for _, day := range holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", day, err)
		}
		holidaySet[day] = true
	}

	return &Calendar{
		location: location,
		holidays: holidaySet,
	}, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.location
}

// IsTradingDay reports whether the given date is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[local.Format("2006-01-02")]
}

// NextTradingDay returns the first trading day strictly after the given date.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	day := t.In(c.location)
	for {
		day = day.AddDate(0, 0, 1)
		if c.IsTradingDay(day) {
			return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.location)
		}
	}
}

// PreviousTradingDay returns the last trading day strictly before the given
// date.
func (c *Calendar) PreviousTradingDay(t time.Time) time.Time {
	day := t.In(c.location)
	for {
		day = day.AddDate(0, 0, -1)
		if c.IsTradingDay(day) {
			return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.location)
		}
	}
}

// NextRunTime returns the next valuation cutoff at or after the given
// instant: today's cutoff when it is still ahead on a trading day, otherwise
// the cutoff on the next trading day.
func (c *Calendar) NextRunTime(from time.Time, cutoffHour, cutoffMin int) time.Time {
	local := from.In(c.location)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), cutoffHour, cutoffMin, 0, 0, c.location)
	if c.IsTradingDay(local) && !local.After(cutoff) {
		return cutoff
	}
	next := c.NextTradingDay(local)
	return time.Date(next.Year(), next.Month(), next.Day(), cutoffHour, cutoffMin, 0, 0, c.location)
}
