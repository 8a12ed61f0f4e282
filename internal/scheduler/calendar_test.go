package scheduler

import (
	"testing"
	"time"
)

func luxCalendar(t *testing.T, holidays []string) *Calendar {
	t.Helper()
	calendar, err := NewCalendar("Europe/Luxembourg", holidays)
	if err != nil {
		t.Fatalf("NewCalendar returned error: %v", err)
	}
	return calendar
}

func TestIsTradingDay(t *testing.T) {
	calendar := luxCalendar(t, []string{"2024-03-29"}) // Good Friday

	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"weekday", time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), true},
		{"saturday", time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC), false},
		{"holiday", time.Date(2024, 3, 29, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calendar.IsTradingDay(tt.date); got != tt.want {
				t.Errorf("IsTradingDay(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.want)
			}
		})
	}
}

func TestNextTradingDaySkipsWeekendAndHoliday(t *testing.T) {
	// Thursday 2024-03-28, Friday is a holiday, so the next trading day is
	// Monday 2024-04-01.
	calendar := luxCalendar(t, []string{"2024-03-29"})

	next := calendar.NextTradingDay(time.Date(2024, 3, 28, 12, 0, 0, 0, calendar.Location()))
	want := time.Date(2024, 4, 1, 0, 0, 0, 0, calendar.Location())
	if !next.Equal(want) {
		t.Errorf("NextTradingDay = %s, want %s", next, want)
	}
}

func TestPreviousTradingDay(t *testing.T) {
	// Monday 2024-03-18 looks back across the weekend to Friday 2024-03-15.
	calendar := luxCalendar(t, nil)

	prev := calendar.PreviousTradingDay(time.Date(2024, 3, 18, 12, 0, 0, 0, calendar.Location()))
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, calendar.Location())
	if !prev.Equal(want) {
		t.Errorf("PreviousTradingDay = %s, want %s", prev, want)
	}
}

func TestNextRunTime(t *testing.T) {
	calendar := luxCalendar(t, []string{"2024-03-29"})
	loc := calendar.Location()

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{
			"before cutoff on a trading day",
			time.Date(2024, 3, 15, 9, 0, 0, 0, loc),
			time.Date(2024, 3, 15, 18, 0, 0, 0, loc),
		},
		{
			"after cutoff rolls to next trading day",
			time.Date(2024, 3, 15, 19, 0, 0, 0, loc),
			time.Date(2024, 3, 18, 18, 0, 0, 0, loc),
		},
		{
			"weekend rolls to monday",
			time.Date(2024, 3, 16, 9, 0, 0, 0, loc),
			time.Date(2024, 3, 18, 18, 0, 0, 0, loc),
		},
		{
			"holiday eve skips the holiday and weekend",
			time.Date(2024, 3, 28, 19, 0, 0, 0, loc),
			time.Date(2024, 4, 1, 18, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calendar.NextRunTime(tt.from, 18, 0)
			if !got.Equal(tt.want) {
				t.Errorf("NextRunTime(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestNewCalendarRejectsBadInput(t *testing.T) {
	if _, err := NewCalendar("Atlantis/Nowhere", nil); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, err := NewCalendar("UTC", []string{"29-03-2024"}); err == nil {
		t.Error("expected error for malformed holiday date")
	}
}
