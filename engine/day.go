package engine

import "time"

// =============================================================================
// DAY - Date-only value (settlement runs at day granularity)
// =============================================================================

// Day is a calendar date in UTC. The zero Day means "unset".
type Day struct {
	Time time.Time
}

const dayLayout = "2006-01-02"

func NewDay(year int, month time.Month, day int) Day {
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates a timestamp to its calendar date in UTC.
func DayOf(t time.Time) Day {
	t = t.UTC()
	return NewDay(t.Year(), t.Month(), t.Day())
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, err
	}
	return DayOf(t), nil
}

func (d Day) Before(other Day) bool        { return d.Time.Before(other.Time) }
func (d Day) After(other Day) bool         { return d.Time.After(other.Time) }
func (d Day) Equal(other Day) bool         { return d.Time.Equal(other.Time) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AddDays(n int) Day            { return Day{Time: d.Time.AddDate(0, 0, n)} }
func (d Day) IsZero() bool                 { return d.Time.IsZero() }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dayLayout)
}

// DaysBetween returns the whole days from -> to (negative when to is earlier).
func DaysBetween(from, to Day) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// Clock returns the current instant. Handlers and the sweep derive "today"
// from it; the calculator never reads it.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
