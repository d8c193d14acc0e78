// Package distribution implements the automated savings distribution engine.
//
// Distribute is a pure function: it takes a savings amount, a priority list
// snapshot and an overflow mode and returns the per-moneybox allocations.
// It performs no I/O and never mutates its inputs, so concurrent calls on
// different snapshots are safe. Serializing cycles for one account is the
// caller's job.
package distribution

import (
	"fmt"

	"moneyboxes/internal/core"
)

// Action tags why a moneybox received what it received in a cycle.
type Action string

const (
	// ActionSavingsAmountApplied: the full desired savings amount was paid.
	ActionSavingsAmountApplied Action = "savings_amount_applied"
	// ActionTargetFilled: payment was capped by the savings target.
	ActionTargetFilled Action = "target_filled"
	// ActionPartiallyFunded: money ran out while paying this moneybox.
	ActionPartiallyFunded Action = "partially_funded"
	// ActionTargetReached: the target was already met, nothing paid.
	ActionTargetReached Action = "target_reached"
	// ActionNotReached: money was exhausted by higher priorities.
	ActionNotReached Action = "not_reached"
	// ActionNoSavingsAmount: the moneybox asks for nothing per cycle.
	ActionNoSavingsAmount Action = "no_savings_amount"
	// ActionNothingDistributed: the cycle's savings amount was zero.
	ActionNothingDistributed Action = "nothing_distributed"
	// ActionReceivedLeftover: the overflow moneybox collected the leftover.
	ActionReceivedLeftover Action = "received_leftover"
	// ActionOverflowDrained: the overflow balance was folded into the
	// savings amount and the overflow only keeps this cycle's leftover.
	ActionOverflowDrained Action = "overflow_drained"
	// ActionOverflowPaidOut: the overflow paid part of its balance to
	// other moneyboxes.
	ActionOverflowPaidOut Action = "overflow_paid_out"
)

// AllocationResult is the outcome of one cycle for one moneybox.
type AllocationResult struct {
	MoneyboxID   core.MoneyboxID
	Name         string
	Priority     int
	IsOverflow   bool
	StartBalance core.Money

	// Applied is the primary pass deposit; for the overflow moneybox it is
	// the leftover of the pass.
	Applied core.Money
	// Redistributed is what a ranked moneybox received from the overflow
	// balance after the primary pass.
	Redistributed core.Money
	// Withdrawn is what left the overflow moneybox, either folded into the
	// savings amount or paid out to other moneyboxes.
	Withdrawn core.Money

	Action Action
}

// Delta is the net balance change of the moneybox.
func (a AllocationResult) Delta() core.Money {
	return a.Applied.Add(a.Redistributed).Sub(a.Withdrawn)
}

// EndBalance is the balance after the cycle is applied.
func (a AllocationResult) EndBalance() core.Money {
	return a.StartBalance.Add(a.Delta())
}

// Received is everything deposited into the moneybox this cycle.
func (a AllocationResult) Received() core.Money {
	return a.Applied.Add(a.Redistributed)
}

// Result is the full outcome of a distribution cycle. Allocations hold one
// entry per moneybox: ranked moneyboxes in priority order, then the overflow.
type Result struct {
	Mode          core.OverflowMode
	SavingsAmount core.Money
	// Folded is the overflow balance added to the savings amount in
	// add_to_savings_amount mode.
	Folded core.Money
	// Distributable is SavingsAmount plus Folded.
	Distributable core.Money
	// Leftover is what the primary pass could not place; it stays in the
	// overflow moneybox.
	Leftover core.Money
	// Redistributed is the part of the overflow's pre-cycle balance paid
	// out by a redistributing mode.
	Redistributed core.Money
	Allocations   []AllocationResult
}

// Overflow returns the overflow moneybox allocation.
func (r Result) Overflow() AllocationResult {
	return r.Allocations[len(r.Allocations)-1]
}

// Ranked returns the allocations of the ranked moneyboxes.
func (r Result) Ranked() []AllocationResult {
	if len(r.Allocations) == 0 {
		return nil
	}
	return r.Allocations[:len(r.Allocations)-1]
}

// TotalDistributed is the amount deposited into ranked moneyboxes, primary
// pass and redistribution together.
func (r Result) TotalDistributed() core.Money {
	var total core.Money
	for _, a := range r.Ranked() {
		total = total.Add(a.Received())
	}
	return total
}

// Balances maps every moneybox to its balance after the cycle.
func (r Result) Balances() map[core.MoneyboxID]core.Money {
	out := make(map[core.MoneyboxID]core.Money, len(r.Allocations))
	for _, a := range r.Allocations {
		out[a.MoneyboxID] = a.EndBalance()
	}
	return out
}

// Apply returns the priority list as it looks after this result is
// persisted. The list must be the snapshot the result was computed from.
func (r Result) Apply(list core.PriorityList) (core.PriorityList, error) {
	all := list.All()
	if len(all) != len(r.Allocations) {
		return core.PriorityList{}, &core.InvalidPriorityListError{
			Reason: fmt.Sprintf("result has %d allocations, snapshot has %d moneyboxes", len(r.Allocations), len(all)),
		}
	}
	balances := make(map[core.MoneyboxID]core.Money, len(all))
	for i, a := range r.Allocations {
		mb := all[i]
		if mb.ID != a.MoneyboxID || mb.Balance != a.StartBalance {
			return core.PriorityList{}, &core.InvalidPriorityListError{
				Reason: fmt.Sprintf("allocation for moneybox %d does not match snapshot", a.MoneyboxID),
			}
		}
		end, err := a.StartBalance.Add(a.Received()).SubNonNegative(a.Withdrawn)
		if err != nil {
			return core.PriorityList{}, fmt.Errorf("moneybox %d: %w", a.MoneyboxID, err)
		}
		balances[a.MoneyboxID] = end
	}
	return list.WithBalances(balances)
}

// Distribute allocates savingsAmount across the priority list.
//
// Ranked moneyboxes are paid in priority order, each up to its savings
// amount and never past its savings target. The leftover goes to the
// overflow moneybox. The mode decides what happens with money already in
// the overflow moneybox: collect keeps it, add_to_savings_amount folds it
// into this cycle's amount, and the redistributing modes pay the pre-cycle
// overflow balance out to moneyboxes with room left.
//
// A zero savings amount short-circuits every mode: all allocations are zero.
// Precondition violations fail before any allocation is computed.
func Distribute(savingsAmount core.Money, list core.PriorityList, mode core.OverflowMode) (Result, error) {
	if savingsAmount.IsNegative() {
		return Result{}, &core.InvalidPriorityListError{Reason: "negative savings amount " + savingsAmount.String()}
	}
	if err := mode.Validate(); err != nil {
		return Result{}, err
	}
	if list.IsZero() {
		return Result{}, &core.InvalidPriorityListError{Reason: "missing overflow moneybox"}
	}

	ranked := list.Ranked()
	overflow := list.Overflow()
	res := Result{
		Mode:          mode,
		SavingsAmount: savingsAmount,
		Allocations:   make([]AllocationResult, 0, len(ranked)+1),
	}

	if savingsAmount.IsZero() {
		for _, mb := range list.All() {
			res.Allocations = append(res.Allocations, newAllocation(mb, ActionNothingDistributed))
		}
		return res, nil
	}

	remaining := savingsAmount
	if mode == core.ModeAddToSavingsAmount {
		res.Folded = overflow.Balance
		remaining = remaining.Add(overflow.Balance)
	}
	res.Distributable = remaining

	for _, mb := range ranked {
		alloc := newAllocation(mb, "")
		alloc.Applied, alloc.Action = primaryShare(mb, remaining)
		remaining = remaining.Sub(alloc.Applied)
		res.Allocations = append(res.Allocations, alloc)
	}
	res.Leftover = remaining

	ov := newAllocation(overflow, ActionReceivedLeftover)
	ov.Applied = remaining
	if mode == core.ModeAddToSavingsAmount && !res.Folded.IsZero() {
		ov.Withdrawn = res.Folded
		ov.Action = ActionOverflowDrained
	}
	if mode.RedistributesOverflow() {
		strategy, err := redistributorFor(mode)
		if err != nil {
			return Result{}, err
		}
		paid := redistribute(strategy, ranked, res.Allocations, overflow.Balance)
		if !paid.IsZero() {
			ov.Withdrawn = paid
			ov.Action = ActionOverflowPaidOut
		}
		res.Redistributed = paid
	}
	res.Allocations = append(res.Allocations, ov)

	return res, nil
}

func newAllocation(mb core.MoneyboxSnapshot, action Action) AllocationResult {
	return AllocationResult{
		MoneyboxID:   mb.ID,
		Name:         mb.Name,
		Priority:     mb.Priority,
		IsOverflow:   mb.IsOverflow,
		StartBalance: mb.Balance,
		Action:       action,
	}
}

// primaryShare computes what a ranked moneybox takes from remaining in the
// primary pass. Capacity is checked before funds so that a full moneybox is
// reported as full even after the money ran out.
func primaryShare(mb core.MoneyboxSnapshot, remaining core.Money) (core.Money, Action) {
	if mb.TargetReached() {
		return core.Money{}, ActionTargetReached
	}
	if mb.SavingsAmount.IsZero() {
		return core.Money{}, ActionNoSavingsAmount
	}

	desired := mb.SavingsAmount
	cappedByTarget := false
	if room, ok := mb.RoomUntilTarget(); ok && room.Cmp(desired) < 0 {
		desired = room
		cappedByTarget = true
	}

	if remaining.IsZero() {
		return core.Money{}, ActionNotReached
	}

	applied := core.Min(desired, remaining)
	switch {
	case applied.Cmp(desired) < 0:
		return applied, ActionPartiallyFunded
	case cappedByTarget:
		return applied, ActionTargetFilled
	default:
		return applied, ActionSavingsAmountApplied
	}
}
