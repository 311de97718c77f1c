package circulation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Interval names as they appear in loan policy documents.
const (
	Minutes = "Minutes"
	Hours   = "Hours"
	Days    = "Days"
	Weeks   = "Weeks"
	Months  = "Months"
	Years   = "Years"
)

// ErrUnrecognisedPeriod is returned when a policy has no usable period at all.
var ErrUnrecognisedPeriod = errors.New("loan period is not recognised")

// UnrecognisedIntervalError reports an interval name that is not supported.
type UnrecognisedIntervalError struct {
	Interval string
}

func (e *UnrecognisedIntervalError) Error() string {
	return fmt.Sprintf("interval %q is not recognised", e.Interval)
}

// InvalidDurationError reports a duration that is not a positive number.
type InvalidDurationError struct {
	Duration int
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("duration %d is invalid", e.Duration)
}

// Period is a duration measured in a calendar interval.
type Period struct {
	Duration int
	Interval string
}

func DaysPeriod(n int) Period   { return Period{Duration: n, Interval: Days} }
func WeeksPeriod(n int) Period  { return Period{Duration: n, Interval: Weeks} }
func MonthsPeriod(n int) Period { return Period{Duration: n, Interval: Months} }
func YearsPeriod(n int) Period  { return Period{Duration: n, Interval: Years} }

// IsZero reports whether no period was configured.
func (p Period) IsZero() bool {
	return p.Duration == 0 && p.Interval == ""
}

func (p Period) String() string {
	return fmt.Sprintf("%d %s", p.Duration, p.Interval)
}

// AddTo applies the period to t. Month and year arithmetic clamps to the last
// day of the target month rather than overflowing into the next one.
func (p Period) AddTo(t time.Time) (time.Time, error) {
	if p.IsZero() {
		return time.Time{}, ErrUnrecognisedPeriod
	}

	interval := canonicalInterval(p.Interval)
	if interval == "" {
		return time.Time{}, &UnrecognisedIntervalError{Interval: p.Interval}
	}
	if p.Duration <= 0 {
		return time.Time{}, &InvalidDurationError{Duration: p.Duration}
	}

	switch interval {
	case Minutes:
		return t.Add(time.Duration(p.Duration) * time.Minute), nil
	case Hours:
		return t.Add(time.Duration(p.Duration) * time.Hour), nil
	case Days:
		return t.AddDate(0, 0, p.Duration), nil
	case Weeks:
		return t.AddDate(0, 0, 7*p.Duration), nil
	case Months:
		return addMonths(t, p.Duration), nil
	default:
		return addMonths(t, 12*p.Duration), nil
	}
}

func canonicalInterval(name string) string {
	for _, known := range []string{Minutes, Hours, Days, Weeks, Months, Years} {
		if strings.EqualFold(strings.TrimSpace(name), known) {
			return known
		}
	}
	return ""
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
