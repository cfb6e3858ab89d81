// Package window computes the local-time day windows leads are synced and
// counted in.
package window

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultLocation is the reporting time zone of the sales office.
var DefaultLocation = time.FixedZone("UTC+5", 5*60*60)

const dayLayout = "2006-01-02"

// Day is a calendar date in the reporting time zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar date of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, eris.Wrapf(err, "window: parse day %q", s)
	}
	return DayOf(t, time.UTC), nil
}

// Start returns local midnight of the day.
func (d Day) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the day n days later (or earlier for negative n).
func (d Day) AddDays(n int) Day {
	return DayOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func (d Day) ISOWeekday() int {
	wd := int(time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Window is the inclusive epoch-second range [From, To] covering one local
// calendar day.
type Window struct {
	Day  Day
	From int64
	To   int64
	Loc  *time.Location
}

// ForDay returns the window of a calendar day in loc.
func ForDay(d Day, loc *time.Location) Window {
	if loc == nil {
		loc = DefaultLocation
	}
	from := d.Start(loc).Unix()
	return Window{Day: d, From: from, To: from + 24*60*60 - 1, Loc: loc}
}

// Today returns the window of the local day containing now.
func Today(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = DefaultLocation
	}
	return ForDay(DayOf(now, loc), loc)
}

// LastDays returns the windows of the n local days ending with the day
// containing now, oldest first.
func LastDays(now time.Time, n int, loc *time.Location) []Window {
	if loc == nil {
		loc = DefaultLocation
	}
	today := DayOf(now, loc)
	out := make([]Window, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, ForDay(today.AddDays(-i), loc))
	}
	return out
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts int64) bool {
	return ts >= w.From && ts <= w.To
}

// StartTime returns the beginning of the window as a time in its location.
func (w Window) StartTime() time.Time {
	return time.Unix(w.From, 0).In(w.Loc)
}

func (w Window) String() string {
	return fmt.Sprintf("%s [%d, %d]", w.Day, w.From, w.To)
}
