// Package cyclelog turns distribution results into append-only audit
// records. Building is pure: the same cycle date and result always yield the
// same entries, so a retried persistence attempt writes identical rows.
package cyclelog

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"moneyboxes/internal/core"
	"moneyboxes/internal/distribution"
)

// Kind classifies a log entry.
type Kind string

const (
	KindDeposit            Kind = "automated_deposit"
	KindRedistribution     Kind = "overflow_redistribution"
	KindOverflowLeftover   Kind = "overflow_leftover"
	KindOverflowWithdrawal Kind = "overflow_withdrawal"

	// Zero-amount kinds keep "no capacity" apart from "no money left".
	KindSkippedTargetReached   Kind = "skipped_target_reached"
	KindSkippedNoFundsLeft     Kind = "skipped_no_funds_left"
	KindSkippedNoSavingsAmount Kind = "skipped_no_savings_amount"

	KindSummary Kind = "cycle_summary"
)

// cycleNamespace scopes the deterministic cycle ids.
var cycleNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a10-2c4d6e8f0a1b")

// Entry is one audit record. MoneyboxID is zero for the cycle summary.
type Entry struct {
	CycleID          uuid.UUID
	MoneyboxID       core.MoneyboxID
	Kind             Kind
	Amount           core.Money
	ResultingBalance core.Money
	Timestamp        time.Time
	Note             string
}

// IsSummary reports whether e is the per-cycle summary record.
func (e Entry) IsSummary() bool {
	return e.Kind == KindSummary
}

// CycleID derives the stable id of a calendar cycle. Every run for the same
// month gets the same id, whatever hour or location placed its boundary.
func CycleID(month core.YearMonth) uuid.UUID {
	return uuid.NewSHA1(cycleNamespace, []byte(month.String()))
}

// Build produces the log entries of one cycle: an entry for every non-zero
// balance movement, a zero-amount entry for every ranked moneybox that was
// skipped, and a closing summary with the mode and the total distributed.
// The cycle belongs to the calendar month of cycleDate in its own location.
func Build(cycleDate time.Time, res distribution.Result) []Entry {
	id := CycleID(core.MonthOf(cycleDate))
	ts := cycleDate.UTC()
	desc := res.Mode.Description()

	entries := make([]Entry, 0, len(res.Allocations)+2)
	add := func(a distribution.AllocationResult, kind Kind, amount, balance core.Money, note string) {
		entries = append(entries, Entry{
			CycleID:          id,
			MoneyboxID:       a.MoneyboxID,
			Kind:             kind,
			Amount:           amount,
			ResultingBalance: balance,
			Timestamp:        ts,
			Note:             note,
		})
	}

	for _, a := range res.Allocations {
		if a.IsOverflow {
			// withdrawal first so balances read in the order money moved
			balance := a.StartBalance
			if !a.Withdrawn.IsZero() {
				balance = balance.Sub(a.Withdrawn)
				add(a, KindOverflowWithdrawal, a.Withdrawn, balance, withdrawalNote(res))
			}
			if !a.Applied.IsZero() {
				balance = balance.Add(a.Applied)
				add(a, KindOverflowLeftover, a.Applied, balance, desc+" Leftover.")
			}
			continue
		}

		balance := a.StartBalance
		if !a.Applied.IsZero() {
			balance = balance.Add(a.Applied)
			add(a, KindDeposit, a.Applied, balance, desc)
		}
		if !a.Redistributed.IsZero() {
			balance = balance.Add(a.Redistributed)
			add(a, KindRedistribution, a.Redistributed, balance, desc+" From overflow moneybox.")
		}
		if a.Received().IsZero() {
			if kind, ok := skipKind(a.Action); ok {
				add(a, kind, core.Money{}, balance, skipNote(a.Action))
			}
		}
	}

	entries = append(entries, Entry{
		CycleID:   id,
		Kind:      KindSummary,
		Amount:    res.TotalDistributed(),
		Timestamp: ts,
		Note:      summaryNote(res),
	})
	return entries
}

func skipKind(action distribution.Action) (Kind, bool) {
	switch action {
	case distribution.ActionTargetReached:
		return KindSkippedTargetReached, true
	case distribution.ActionNotReached:
		return KindSkippedNoFundsLeft, true
	case distribution.ActionNoSavingsAmount:
		return KindSkippedNoSavingsAmount, true
	default:
		return "", false
	}
}

func skipNote(action distribution.Action) string {
	switch action {
	case distribution.ActionTargetReached:
		return "Savings target already reached."
	case distribution.ActionNotReached:
		return "Savings amount exhausted by higher priorities."
	default:
		return "No savings amount configured."
	}
}

func withdrawalNote(res distribution.Result) string {
	if res.Mode == core.ModeAddToSavingsAmount {
		return res.Mode.Description() + " Added to savings amount."
	}
	return res.Mode.Description() + " Paid out to moneyboxes."
}

func summaryNote(res distribution.Result) string {
	if res.SavingsAmount.IsZero() {
		return fmt.Sprintf("mode=%s savings_amount=0.00 nothing distributed", res.Mode)
	}
	return fmt.Sprintf("mode=%s savings_amount=%s distributable=%s distributed=%s leftover=%s redistributed=%s",
		res.Mode, res.SavingsAmount, res.Distributable, res.TotalDistributed(), res.Leftover, res.Redistributed)
}
