package hashdb

import (
	"encoding/json"
	"time"

	"github.com/hashget/hashget/internal/errors"
)

// DateLayout is the JSON representation of expiry dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC.
type Date struct {
	time.Time
}

// NewDate returns the day of t.
func NewDate(t time.Time) *Date {
	y, m, d := t.Date()
	return &Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (*Date, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return nil, errors.Wrapf(err, "parse date %q", s)
	}
	return &Date{t}, nil
}

// Today returns the current day.
func Today() *Date {
	return NewDate(time.Now())
}

// AddDays returns the date n days after d.
func (d *Date) AddDays(n int) *Date {
	return &Date{d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is an earlier day than other.
func (d *Date) Before(other *Date) bool {
	return d.Time.Before(other.Time)
}

func (d *Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "date")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// MinDate returns the earlier of a and b, where nil means never.
func MinDate(a, b *Date) *Date {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(a):
		return b
	}
	return a
}
