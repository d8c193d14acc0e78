package core

import (
	"fmt"
	"time"
)

// YearMonth identifies a calendar cycle. The zero value means "no month".
type YearMonth struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar cycle t falls into, in t's own location.
func MonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth parses the "2006-01" form written by String.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

func (ym YearMonth) IsZero() bool {
	return ym == YearMonth{}
}

func (ym YearMonth) index() int {
	return ym.Year*12 + int(ym.Month) - 1
}

// Before reports whether ym is an earlier calendar month than o.
func (ym YearMonth) Before(o YearMonth) bool {
	return ym.index() < o.index()
}

// After reports whether ym is a later calendar month than o.
func (ym YearMonth) After(o YearMonth) bool {
	return ym.index() > o.index()
}
