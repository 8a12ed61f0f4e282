package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/types"
)

// DayCount returns the number of accrual days between start and end under the
// given convention. ACT conventions count actual calendar days; 30/360 uses
// US bond-basis day clamping: the start day is clamped 31 -> 30, and the end
// day is clamped 31 -> 30 only when the start day is 30 or 31.
func DayCount(start, end time.Time, convention string) (int, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("day count: end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	switch convention {
	case types.ConventionAct360, types.ConventionAct365, types.ConventionActAct:
		return actualDays(start, end), nil
	case types.ConventionThirty360:
		return thirty360Days(start, end), nil
	default:
		return 0, fmt.Errorf("day count: unknown convention %q", convention)
	}
}

// YearFraction returns the fraction of a year between start and end under the
// given convention, used for annualized accrual and hurdle math.
func YearFraction(start, end time.Time, convention string) (decimal.Decimal, error) {
	if convention == types.ConventionActAct {
		return actActYearFraction(start, end)
	}

	days, err := DayCount(start, end, convention)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(int64(denominator(convention)))), nil
}

// denominator returns the days-per-year base for a convention.
func denominator(convention string) int {
	switch convention {
	case types.ConventionAct360, types.ConventionThirty360:
		return 360
	default:
		return 365
	}
}

func actualDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}

func thirty360Days(start, end time.Time) int {
	d1, d2 := start.Day(), end.Day()
	if d1 == 31 {
		d1 = 30
	}
	if d2 == 31 && d1 >= 30 {
		d2 = 30
	}

	years := end.Year() - start.Year()
	months := int(end.Month()) - int(start.Month())
	return 360*years + 30*months + (d2 - d1)
}

// actActYearFraction splits the period at year boundaries so each slice is
// divided by its own year length (365 or 366).
func actActYearFraction(start, end time.Time) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, fmt.Errorf("day count: end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	fraction := decimal.Zero
	cursor := start
	for cursor.Year() < end.Year() {
		yearEnd := time.Date(cursor.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		days := decimal.NewFromInt(int64(actualDays(cursor, yearEnd)))
		fraction = fraction.Add(days.Div(decimal.NewFromInt(int64(daysInYear(cursor.Year())))))
		cursor = yearEnd
	}

	days := decimal.NewFromInt(int64(actualDays(cursor, end)))
	fraction = fraction.Add(days.Div(decimal.NewFromInt(int64(daysInYear(end.Year())))))
	return fraction, nil
}

func daysInYear(year int) int {
	if isLeapYear(year) {
		return 366
	}
	return 365
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
