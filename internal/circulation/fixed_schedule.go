package circulation

import (
	"time"
)

// FixedSchedule maps a date range to the fixed due date for loans made in it.
type FixedSchedule struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Due  time.Time `json:"due"`
}

// Covers reports whether t falls inside the range, bounds included.
func (s FixedSchedule) Covers(t time.Time) bool {
	return !t.Before(s.From) && !t.After(s.To)
}

// FixedSchedules is a named set of fixed due date ranges. A set with no ranges
// means no schedule is configured.
type FixedSchedules struct {
	ID        string
	Name      string
	Schedules []FixedSchedule
}

// NoFixedSchedules is the sentinel attached to policies without a schedule.
func NoFixedSchedules() FixedSchedules {
	return FixedSchedules{}
}

func (f FixedSchedules) IsEmpty() bool {
	return len(f.Schedules) == 0
}

// FindMatching returns the range covering t. When several ranges cover t the
// one with the earliest due date is chosen, independent of supplied order.
func (f FixedSchedules) FindMatching(t time.Time) (FixedSchedule, bool) {
	var (
		match FixedSchedule
		found bool
	)
	for _, s := range f.Schedules {
		if !s.Covers(t) {
			continue
		}
		if !found || s.Due.Before(match.Due) {
			match, found = s, true
		}
	}
	return match, found
}

// Truncate clamps due to the due date of the range covering probe. The empty
// set never truncates; otherwise false is returned when no range covers probe.
func (f FixedSchedules) Truncate(due, probe time.Time) (time.Time, bool) {
	if f.IsEmpty() {
		return due, true
	}
	match, ok := f.FindMatching(probe)
	if !ok {
		return time.Time{}, false
	}
	if due.After(match.Due) {
		return match.Due, true
	}
	return due, true
}
