// Package civildate handles calendar dates without a time of day.
package civildate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// ISOLayout is the wire format for date input and JSON output.
	ISOLayout = "2006-01-02"
	// DisplayLayout is the format printed on documents.
	DisplayLayout = "02/01/2006"
	// CompactLayout is used in generated file names.
	CompactLayout = "20060102"
)

// Date is a calendar day. The zero value is not a valid date.
type Date struct {
	t time.Time
}

// New builds a Date from its components.
func New(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Of returns the calendar day of t in t's location.
func Of(t time.Time) Date {
	return New(t.Year(), t.Month(), t.Day())
}

// Today returns the current UTC date.
func Today() Date {
	return Of(time.Now().UTC())
}

// MinYear is the earliest year Parse accepts.
const MinYear = 1900

// Parse reads a YYYY-MM-DD value. Surrounding whitespace is ignored.
func Parse(s string) (Date, error) {
	t, err := time.Parse(ISOLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	if t.Year() < MinYear {
		return Date{}, fmt.Errorf("parse date %q: year before %d", s, MinYear)
	}
	return Date{t: t}, nil
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) String() string { return d.t.Format(ISOLayout) }

// Display formats d as DD/MM/YYYY.
func (d Date) Display() string { return d.t.Format(DisplayLayout) }

// Compact formats d as YYYYMMDD.
func (d Date) Compact() string { return d.t.Format(CompactLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
