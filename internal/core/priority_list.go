package core

import (
	"cmp"
	"slices"
)

// PriorityList is the distribution order for one cycle: ranked moneyboxes in
// ascending priority followed by exactly one overflow moneybox. The overflow
// is held apart from the ranked entries so a list without it cannot exist.
type PriorityList struct {
	ranked   []MoneyboxSnapshot
	overflow MoneyboxSnapshot
}

// NewPriorityList validates and orders ranked moneyboxes and pairs them with
// the overflow moneybox. Inputs are copied.
func NewPriorityList(ranked []MoneyboxSnapshot, overflow MoneyboxSnapshot) (PriorityList, error) {
	if err := overflow.Validate(); err != nil {
		return PriorityList{}, invalidList("overflow moneybox %d: %v", overflow.ID, err)
	}

	out := make([]MoneyboxSnapshot, 0, len(ranked))
	ids := map[MoneyboxID]struct{}{overflow.ID: {}}
	for _, mb := range ranked {
		if mb.IsOverflow {
			return PriorityList{}, invalidList("moneybox %d is marked as overflow but listed as ranked", mb.ID)
		}
		if !mb.IsActive {
			return PriorityList{}, invalidList("moneybox %d is inactive", mb.ID)
		}
		if err := mb.Validate(); err != nil {
			return PriorityList{}, invalidList("moneybox %d: %v", mb.ID, err)
		}
		if _, dup := ids[mb.ID]; dup {
			return PriorityList{}, invalidList("duplicate moneybox id %d", mb.ID)
		}
		ids[mb.ID] = struct{}{}
		out = append(out, mb.WithBalance(mb.Balance))
	}

	slices.SortStableFunc(out, func(a, b MoneyboxSnapshot) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	for i := 1; i < len(out); i++ {
		if out[i].Priority == out[i-1].Priority {
			return PriorityList{}, invalidList("duplicate priority %d (moneyboxes %d and %d)",
				out[i].Priority, out[i-1].ID, out[i].ID)
		}
	}

	ov := overflow.WithBalance(overflow.Balance)
	ov.IsOverflow = true
	return PriorityList{ranked: out, overflow: ov}, nil
}

// PriorityListFromSnapshots builds a list from the flat persisted view of all
// moneyboxes. Exactly one snapshot must be flagged as overflow; inactive
// ranked moneyboxes are left out.
func PriorityListFromSnapshots(all []MoneyboxSnapshot) (PriorityList, error) {
	var (
		overflows []MoneyboxSnapshot
		ranked    []MoneyboxSnapshot
	)
	for _, mb := range all {
		switch {
		case mb.IsOverflow:
			overflows = append(overflows, mb)
		case mb.IsActive:
			ranked = append(ranked, mb)
		}
	}
	if len(overflows) != 1 {
		return PriorityList{}, &InconsistentStateError{OverflowCount: len(overflows)}
	}
	return NewPriorityList(ranked, overflows[0])
}

// Ranked returns a copy of the ranked moneyboxes in priority order.
func (p PriorityList) Ranked() []MoneyboxSnapshot {
	out := make([]MoneyboxSnapshot, len(p.ranked))
	for i, mb := range p.ranked {
		out[i] = mb.WithBalance(mb.Balance)
	}
	return out
}

// Overflow returns the overflow moneybox.
func (p PriorityList) Overflow() MoneyboxSnapshot {
	return p.overflow.WithBalance(p.overflow.Balance)
}

// All returns ranked moneyboxes followed by the overflow moneybox.
func (p PriorityList) All() []MoneyboxSnapshot {
	return append(p.Ranked(), p.Overflow())
}

// Len counts all moneyboxes including the overflow.
func (p PriorityList) Len() int {
	return len(p.ranked) + 1
}

// IsZero reports whether p was never built by a constructor.
func (p PriorityList) IsZero() bool {
	return p.ranked == nil && p.overflow.ID == 0 && !p.overflow.IsOverflow
}

// WithBalances returns a new list with balances replaced for the given ids.
// Balances must not be negative.
func (p PriorityList) WithBalances(balances map[MoneyboxID]Money) (PriorityList, error) {
	next := PriorityList{
		ranked:   make([]MoneyboxSnapshot, len(p.ranked)),
		overflow: p.Overflow(),
	}
	for i, mb := range p.ranked {
		next.ranked[i] = mb.WithBalance(mb.Balance)
	}
	for id, b := range balances {
		if b.IsNegative() {
			return PriorityList{}, &NegativeResultError{Op: "set balance", Left: b}
		}
		if id == next.overflow.ID {
			next.overflow.Balance = b
			continue
		}
		for i := range next.ranked {
			if next.ranked[i].ID == id {
				next.ranked[i].Balance = b
			}
		}
	}
	return next, nil
}
