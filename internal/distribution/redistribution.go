// This file implements the Strategy Pattern for paying the overflow
// moneybox balance back out after the primary pass. Each redistributing
// overflow mode has its own strategy that computes one round of shares.

package distribution

import (
	"fmt"
	"math/big"

	"moneyboxes/internal/core"
)

// Candidate is a ranked moneybox as seen by a redistribution round: its
// balance already includes everything it received earlier in the cycle.
type Candidate struct {
	ID            core.MoneyboxID
	Balance       core.Money
	SavingsAmount core.Money
	SavingsTarget *core.Money
}

// Room returns max(0, target - balance), and false for unbounded moneyboxes.
func (c Candidate) Room() (core.Money, bool) {
	if c.SavingsTarget == nil {
		return core.Money{}, false
	}
	return core.Max(core.Money{}, c.SavingsTarget.Sub(c.Balance)), true
}

// full reports whether the candidate sits at or above its target.
func (c Candidate) full() bool {
	room, ok := c.Room()
	return ok && room.IsZero()
}

// Redistributor computes one round of overflow payouts.
type Redistributor interface {
	// Shares returns one amount per candidate, in candidate order. The sum
	// must not exceed available and no share may push a candidate past its
	// target.
	Shares(candidates []Candidate, available core.Money) []core.Money
}

// FillRedistributor tops up moneyboxes with a target, in priority order,
// until the money runs out. Moneyboxes without a target get nothing.
type FillRedistributor struct{}

func (FillRedistributor) Shares(candidates []Candidate, available core.Money) []core.Money {
	shares := make([]core.Money, len(candidates))
	left := available
	for i, c := range candidates {
		if left.IsZero() {
			break
		}
		room, ok := c.Room()
		if !ok {
			continue
		}
		shares[i] = core.Min(room, left)
		left = left.Sub(shares[i])
	}
	return shares
}

// RatioRedistributor pays each eligible moneybox a share proportional to its
// savings amount, truncated to whole cents and capped at its target.
type RatioRedistributor struct{}

func (RatioRedistributor) Shares(candidates []Candidate, available core.Money) []core.Money {
	shares := make([]core.Money, len(candidates))
	var total core.Money
	for _, c := range candidates {
		if eligible(c) {
			total = total.Add(c.SavingsAmount)
		}
	}
	if total.IsZero() {
		return shares
	}

	avail := big.NewInt(available.Cents)
	denom := big.NewInt(total.Cents)
	for i, c := range candidates {
		if !eligible(c) {
			continue
		}
		n := new(big.Int).Mul(avail, big.NewInt(c.SavingsAmount.Cents))
		share := core.Cents(n.Quo(n, denom).Int64())
		if room, ok := c.Room(); ok {
			share = core.Min(share, room)
		}
		shares[i] = share
	}
	return shares
}

// EqualRedistributor pays every eligible moneybox the same whole-cent share,
// capped at its target.
type EqualRedistributor struct{}

func (EqualRedistributor) Shares(candidates []Candidate, available core.Money) []core.Money {
	shares := make([]core.Money, len(candidates))
	n := 0
	for _, c := range candidates {
		if eligible(c) {
			n++
		}
	}
	if n == 0 {
		return shares
	}

	each := core.Cents(available.Cents / int64(n))
	for i, c := range candidates {
		if !eligible(c) {
			continue
		}
		share := each
		if room, ok := c.Room(); ok {
			share = core.Min(share, room)
		}
		shares[i] = share
	}
	return shares
}

// eligible: moneyboxes that save something and are not full yet.
func eligible(c Candidate) bool {
	return c.SavingsAmount.Cmp(core.Money{}) > 0 && !c.full()
}

var redistributors = map[core.OverflowMode]Redistributor{
	core.ModeFillLimitedMoneyboxes: FillRedistributor{},
	core.ModeRatio:                 RatioRedistributor{},
	core.ModeEqual:                 EqualRedistributor{},
}

func redistributorFor(mode core.OverflowMode) (Redistributor, error) {
	r, ok := redistributors[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q does not redistribute", core.ErrInvalidOverflowMode, string(mode))
	}
	return r, nil
}

// redistribute runs rounds of the strategy over the ranked allocations until
// available is spent or a round moves nothing. It records the payouts in
// allocs and returns the total paid.
func redistribute(r Redistributor, ranked []core.MoneyboxSnapshot, allocs []AllocationResult, available core.Money) core.Money {
	var paid core.Money
	for !available.IsZero() {
		candidates := make([]Candidate, len(ranked))
		for i, mb := range ranked {
			candidates[i] = Candidate{
				ID:            mb.ID,
				Balance:       allocs[i].StartBalance.Add(allocs[i].Received()),
				SavingsAmount: mb.SavingsAmount,
				SavingsTarget: mb.SavingsTarget,
			}
		}

		var round core.Money
		for i, share := range r.Shares(candidates, available) {
			share = core.Min(share, available.Sub(round))
			if share.Cmp(core.Money{}) <= 0 {
				continue
			}
			allocs[i].Redistributed = allocs[i].Redistributed.Add(share)
			round = round.Add(share)
		}
		if round.IsZero() {
			break
		}
		available = available.Sub(round)
		paid = paid.Add(round)
	}
	return paid
}
