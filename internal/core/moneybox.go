package core

import (
	"errors"
	"fmt"
	"strings"
)

// MoneyboxID is the opaque identity of a moneybox.
type MoneyboxID int64

// MoneyboxSnapshot is the per-cycle view of a moneybox. Snapshots are values;
// the engine copies them and never writes back.
type MoneyboxSnapshot struct {
	ID            MoneyboxID
	Name          string
	Balance       Money
	SavingsAmount Money  // desired contribution per cycle
	SavingsTarget *Money // nil means unbounded
	Priority      int
	IsActive      bool
	IsOverflow    bool
}

// Target returns a pointer to a copy of t, for building snapshots inline.
func Target(t Money) *Money {
	return &t
}

// HasTarget reports whether the moneybox has a savings target.
func (s MoneyboxSnapshot) HasTarget() bool {
	return s.SavingsTarget != nil
}

// TargetReached reports whether the balance already meets the target.
// Moneyboxes without a target are never full.
func (s MoneyboxSnapshot) TargetReached() bool {
	return s.HasTarget() && s.Balance.Cmp(*s.SavingsTarget) >= 0
}

// RoomUntilTarget returns max(0, target - balance) and false when the
// moneybox has no target.
func (s MoneyboxSnapshot) RoomUntilTarget() (Money, bool) {
	if !s.HasTarget() {
		return Money{}, false
	}
	return Max(Money{}, s.SavingsTarget.Sub(s.Balance)), true
}

// WithBalance returns a copy of s carrying balance b.
func (s MoneyboxSnapshot) WithBalance(b Money) MoneyboxSnapshot {
	out := s
	if s.SavingsTarget != nil {
		out.SavingsTarget = Target(*s.SavingsTarget)
	}
	out.Balance = b
	return out
}

// Validate checks the per-snapshot invariants.
func (s MoneyboxSnapshot) Validate() error {
	var problems []string
	if s.Balance.IsNegative() {
		problems = append(problems, fmt.Sprintf("negative balance %s", s.Balance))
	}
	if s.SavingsAmount.IsNegative() {
		problems = append(problems, fmt.Sprintf("negative savings amount %s", s.SavingsAmount))
	}
	if s.SavingsTarget != nil && s.SavingsTarget.IsNegative() {
		problems = append(problems, fmt.Sprintf("negative savings target %s", *s.SavingsTarget))
	}
	if !s.IsOverflow && s.Priority < 0 {
		problems = append(problems, fmt.Sprintf("negative priority %d", s.Priority))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, ", "))
	}
	return nil
}
