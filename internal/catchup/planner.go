// Package catchup enumerates the monthly cycles that are due but have not
// run yet. It only plans; executing the instructions one after another is
// the caller's job, since every cycle starts from the balances the previous
// one produced.
package catchup

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"moneyboxes/internal/core"
)

const (
	DefaultHour      = 12
	DefaultMaxCycles = 120
)

var (
	ErrClockSkew           = errors.New("now is before the last handled cycle month")
	ErrTooManyMissedCycles = errors.New("too many missed cycles")
)

// Options controls how missed boundaries are turned into instructions.
type Options struct {
	// DefaultAmount is distributed for every month without an override.
	DefaultAmount core.Money
	Overrides     map[core.YearMonth]core.Money
	Skips         map[core.YearMonth]struct{}

	// Location and Hour place the boundary: the first day of the month at
	// Hour:00 local time. A nil Location means UTC, an Hour outside 0-23
	// means DefaultHour.
	Location *time.Location
	Hour     int

	MaxCycles int
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func (o Options) hour() int {
	if o.Hour < 0 || o.Hour > 23 {
		return DefaultHour
	}
	return o.Hour
}

func (o Options) maxCycles() int {
	if o.MaxCycles <= 0 {
		return DefaultMaxCycles
	}
	return o.MaxCycles
}

// Instruction tells the runner to execute, or explicitly skip, the cycle of
// one boundary.
type Instruction struct {
	CycleDate time.Time
	Amount    core.Money
	Skip      bool
}

func (i Instruction) Month() core.YearMonth {
	return core.MonthOf(i.CycleDate)
}

// Boundary returns the cycle boundary of the month t falls into.
func Boundary(t time.Time, opts Options) time.Time {
	loc := opts.location()
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), 1, opts.hour(), 0, 0, 0, loc)
}

// Plan lists the first-of-month boundaries of the calendar months after
// lastMonth, up to the latest boundary at or before now, oldest first. Months
// are compared, not instants, so moving the boundary hour or the location
// never plans a month that already ran. A zero lastMonth means no cycle ever
// ran: only the most recent boundary is planned, history is not replayed.
func Plan(lastMonth core.YearMonth, now time.Time, opts Options) ([]Instruction, error) {
	nowMonth := core.MonthOf(now.In(opts.location()))
	if !lastMonth.IsZero() && nowMonth.Before(lastMonth) {
		return nil, fmt.Errorf("%w: now=%s last=%s", ErrClockSkew, now.Format(time.RFC3339), lastMonth)
	}
	if opts.DefaultAmount.IsNegative() {
		return nil, fmt.Errorf("default amount %s: %w", opts.DefaultAmount, core.ErrInvalidAmount)
	}
	for ym, amount := range opts.Overrides {
		if amount.IsNegative() {
			return nil, fmt.Errorf("override for %s: %w", ym, core.ErrInvalidAmount)
		}
	}

	latest := Boundary(now, opts)
	if latest.After(now) {
		latest = latest.AddDate(0, -1, 0)
	}

	var boundaries []time.Time
	if lastMonth.IsZero() {
		boundaries = []time.Time{latest}
	} else {
		limit := opts.maxCycles()
		for b := latest; core.MonthOf(b).After(lastMonth); b = b.AddDate(0, -1, 0) {
			if len(boundaries) == limit {
				return nil, fmt.Errorf("%w: more than %d since %s", ErrTooManyMissedCycles, limit, lastMonth)
			}
			boundaries = append(boundaries, b)
		}
		slices.Reverse(boundaries)
	}

	out := make([]Instruction, 0, len(boundaries))
	for _, b := range boundaries {
		ym := core.MonthOf(b)
		inst := Instruction{CycleDate: b, Amount: opts.DefaultAmount}
		if amount, ok := opts.Overrides[ym]; ok {
			inst.Amount = amount
		}
		if _, ok := opts.Skips[ym]; ok {
			inst.Skip = true
			inst.Amount = core.Money{}
		}
		out = append(out, inst)
	}
	return out, nil
}
