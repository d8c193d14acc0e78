// Package core holds the moneybox domain types shared by the distribution
// engine and its collaborators.
//
// This file contains the Money value type and helpers for parsing monetary
// amounts from configuration strings.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Money is an exact amount in integer cents. Values at rest are never
// negative; Sub may produce a negative intermediate that callers must not
// persist.
type Money struct {
	Cents int64
}

// Cents builds a Money from an integer cent count.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

// Sub returns m - o. The result may be negative.
func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

// SubNonNegative returns m - o, failing with a *NegativeResultError when the
// result would drop below zero.
func (m Money) SubNonNegative(o Money) (Money, error) {
	if m.Cents < o.Cents {
		return Money{}, &NegativeResultError{Op: "subtract", Left: m, Right: o}
	}
	return Money{Cents: m.Cents - o.Cents}, nil
}

// IsZero reports whether m is exactly zero cents.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// IsNegative reports whether m is below zero.
func (m Money) IsNegative() bool {
	return m.Cents < 0
}

// Cmp returns -1, 0 or +1 depending on whether m is less than, equal to or
// greater than o.
func (m Money) Cmp(o Money) int {
	switch {
	case m.Cents < o.Cents:
		return -1
	case m.Cents > o.Cents:
		return 1
	default:
		return 0
	}
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cents <= b.Cents {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cents >= b.Cents {
		return a
	}
	return b
}

// Sum adds up all amounts.
func Sum(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// String formats m as a decimal with two fraction digits, e.g. "12.34".
func (m Money) String() string {
	c := m.Cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// Euros returns the euro value as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Euros() float64 {
	return float64(m.Cents) / 100.0
}

// ParseDecimalToCents converts a decimal string to cents with half-up
// rounding on the third decimal place.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Signs are
// rejected; zero is a valid amount because a cycle may distribute nothing.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (rounds up)
//	ParseDecimalToCents("0") -> 0, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv >= maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	return iv*100 + fracCents, nil
}

// ParseMoney is ParseDecimalToCents returning a Money.
func ParseMoney(s string) (Money, error) {
	c, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: c}, nil
}
