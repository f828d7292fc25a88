package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

// Day is a UTC calendar day. The zero value is not a valid day.
type Day struct {
	start time.Time
}

// DayOf returns the UTC day containing t.
func DayOf(t time.Time) Day {
	u := t.UTC()
	return Day{start: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Start is midnight UTC; entries with Start <= timestamp < End belong to the day.
func (d Day) Start() time.Time { return d.start }
func (d Day) End() time.Time   { return d.start.Add(24 * time.Hour) }
func (d Day) IsZero() bool     { return d.start.IsZero() }
func (d Day) Prev() Day        { return Day{start: d.start.AddDate(0, 0, -1)} }

func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start()) && t.Before(d.End())
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.start.Format(DayLayout)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
