package dues

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - A calendar-month billing cycle ("YYYY-MM")
// =============================================================================

const periodLayout = "2006-01"

// Period identifies one charge cycle. The zero Period is "no period".
//
// The string form sorts lexicographically in chronological order, and
// Compare agrees with that ordering.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod returns the period for the given year and month.
func NewPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: month}
}

// ParsePeriod parses a strict "YYYY-MM" token.
func ParsePeriod(s string) (Period, error) {
	if len(s) != len(periodLayout) {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// MustParsePeriod is ParsePeriod for literals; it panics on bad input.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the period containing t (in t's location).
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Compare returns -1, 0 or +1 as p is before, equal to or after other.
func (p Period) Compare(other Period) int {
	switch {
	case p.Year < other.Year:
		return -1
	case p.Year > other.Year:
		return 1
	case p.Month < other.Month:
		return -1
	case p.Month > other.Month:
		return 1
	}
	return 0
}

func (p Period) Before(other Period) bool        { return p.Compare(other) < 0 }
func (p Period) After(other Period) bool         { return p.Compare(other) > 0 }
func (p Period) BeforeOrEqual(other Period) bool { return p.Compare(other) <= 0 }
func (p Period) AfterOrEqual(other Period) bool  { return p.Compare(other) >= 0 }

// Start is the first instant of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) Next() Period     { return PeriodOf(p.Start().AddDate(0, 1, 0)) }
func (p Period) Previous() Period { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

// MarshalText implements encoding.TextMarshaler.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
