package distribution

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyboxes/internal/core"
)

var allModes = []core.OverflowMode{
	core.ModeCollect,
	core.ModeAddToSavingsAmount,
	core.ModeFillLimitedMoneyboxes,
	core.ModeRatio,
	core.ModeEqual,
}

type boxOpt func(*core.MoneyboxSnapshot)

func withBalance(c int64) boxOpt {
	return func(mb *core.MoneyboxSnapshot) { mb.Balance = core.Cents(c) }
}

func withTarget(c int64) boxOpt {
	return func(mb *core.MoneyboxSnapshot) { mb.SavingsTarget = core.Target(core.Cents(c)) }
}

func ranked(id core.MoneyboxID, prio int, savings int64, opts ...boxOpt) core.MoneyboxSnapshot {
	mb := core.MoneyboxSnapshot{
		ID:            id,
		Name:          "box",
		Priority:      prio,
		IsActive:      true,
		SavingsAmount: core.Cents(savings),
	}
	for _, o := range opts {
		o(&mb)
	}
	return mb
}

func overflow(balance int64) core.MoneyboxSnapshot {
	return core.MoneyboxSnapshot{
		ID:         100,
		Name:       "Overflow Moneybox",
		IsActive:   true,
		IsOverflow: true,
		Balance:    core.Cents(balance),
	}
}

func mustList(t *testing.T, ov core.MoneyboxSnapshot, boxes ...core.MoneyboxSnapshot) core.PriorityList {
	t.Helper()
	list, err := core.NewPriorityList(boxes, ov)
	require.NoError(t, err)
	return list
}

func allocation(t *testing.T, res Result, id core.MoneyboxID) AllocationResult {
	t.Helper()
	for _, a := range res.Allocations {
		if a.MoneyboxID == id {
			return a
		}
	}
	t.Fatalf("no allocation for moneybox %d", id)
	return AllocationResult{}
}

func TestDistribute_ScenarioA_UncappedFirstBoxTakesAll(t *testing.T) {
	list := mustList(t, overflow(0), ranked(1, 1, 150), ranked(2, 2, 50))

	res, err := Distribute(core.Cents(100), list, core.ModeCollect)
	require.NoError(t, err)

	require.Len(t, res.Allocations, 3)
	assert.Equal(t, core.Cents(100), allocation(t, res, 1).Applied)
	assert.Equal(t, ActionPartiallyFunded, allocation(t, res, 1).Action)
	assert.True(t, allocation(t, res, 2).Applied.IsZero())
	assert.Equal(t, ActionNotReached, allocation(t, res, 2).Action)
	assert.True(t, res.Overflow().Delta().IsZero())
	assert.True(t, res.Leftover.IsZero())
}

func TestDistribute_ScenarioB_TargetAlreadyReached(t *testing.T) {
	list := mustList(t, overflow(0),
		ranked(1, 1, 30, withTarget(30), withBalance(30)),
		ranked(2, 2, 20),
	)

	res, err := Distribute(core.Cents(50), list, core.ModeCollect)
	require.NoError(t, err)

	first := allocation(t, res, 1)
	assert.True(t, first.Applied.IsZero())
	assert.Equal(t, ActionTargetReached, first.Action)
	assert.Equal(t, core.Cents(20), allocation(t, res, 2).Applied)
	assert.Equal(t, core.Cents(30), res.Leftover)
	assert.Equal(t, core.Cents(30), res.Overflow().EndBalance())
}

func TestDistribute_ScenarioC_CollectAddsLeftoverToOverflow(t *testing.T) {
	list := mustList(t, overflow(15), ranked(1, 1, 50), ranked(2, 2, 30))

	res, err := Distribute(core.Cents(100), list, core.ModeCollect)
	require.NoError(t, err)

	ov := res.Overflow()
	assert.Equal(t, core.Cents(20), res.Leftover)
	assert.Equal(t, core.Cents(20), ov.Delta())
	assert.Equal(t, core.Cents(35), ov.EndBalance())
	assert.Equal(t, ActionReceivedLeftover, ov.Action)
}

func TestDistribute_ScenarioD_AddModeFoldsOverflowBalance(t *testing.T) {
	list := mustList(t, overflow(40), ranked(1, 1, 70))

	res, err := Distribute(core.Cents(60), list, core.ModeAddToSavingsAmount)
	require.NoError(t, err)

	assert.Equal(t, core.Cents(40), res.Folded)
	assert.Equal(t, core.Cents(100), res.Distributable)
	assert.Equal(t, core.Cents(70), allocation(t, res, 1).Applied)

	ov := res.Overflow()
	assert.Equal(t, core.Cents(40), ov.Withdrawn)
	assert.Equal(t, core.Cents(30), ov.Applied)
	assert.Equal(t, core.Cents(30), ov.EndBalance(), "only the post-cycle leftover remains")
	assert.Equal(t, ActionOverflowDrained, ov.Action)
}

func TestDistribute_ScenarioE_FillTopsUpLimitedMoneyboxes(t *testing.T) {
	list := mustList(t, overflow(50),
		ranked(1, 1, 0, withTarget(10), withBalance(8)),
		ranked(2, 2, 0, withTarget(20), withBalance(20)),
	)

	res, err := Distribute(core.Cents(5), list, core.ModeFillLimitedMoneyboxes)
	require.NoError(t, err)

	first := allocation(t, res, 1)
	assert.Equal(t, core.Cents(2), first.Redistributed)
	assert.Equal(t, core.Cents(10), first.EndBalance())
	assert.True(t, allocation(t, res, 2).Received().IsZero())

	ov := res.Overflow()
	assert.Equal(t, core.Cents(5), res.Leftover)
	assert.Equal(t, core.Cents(2), ov.Withdrawn)
	assert.Equal(t, core.Cents(48+5), ov.EndBalance())
	assert.Equal(t, core.Cents(2), res.Redistributed)
}

func TestDistribute_FillUsesPrimaryPassBalances(t *testing.T) {
	list := mustList(t, overflow(100),
		ranked(1, 1, 30, withTarget(50), withBalance(10)),
		ranked(2, 2, 10),
		ranked(3, 3, 5, withTarget(25)),
	)

	res, err := Distribute(core.Cents(40), list, core.ModeFillLimitedMoneyboxes)
	require.NoError(t, err)

	// primary: box1 30, box2 10, box3 0 (money gone)
	assert.Equal(t, core.Cents(30), allocation(t, res, 1).Applied)
	assert.Equal(t, ActionNotReached, allocation(t, res, 3).Action)
	// fill: box1 room 50-40=10, box3 room 25, unbounded box2 skipped
	assert.Equal(t, core.Cents(10), allocation(t, res, 1).Redistributed)
	assert.True(t, allocation(t, res, 2).Redistributed.IsZero())
	assert.Equal(t, core.Cents(25), allocation(t, res, 3).Redistributed)
	assert.Equal(t, core.Cents(100-35), res.Overflow().EndBalance())
}

func TestDistribute_ActionTags(t *testing.T) {
	list := mustList(t, overflow(0),
		ranked(1, 1, 50, withTarget(100), withBalance(80)), // capped by target
		ranked(2, 2, 0),                                    // asks nothing
		ranked(3, 3, 40),                                   // full amount
		ranked(4, 4, 40),                                   // partial
		ranked(5, 5, 40, withTarget(10), withBalance(10)),  // full, after money ran out
		ranked(6, 6, 40),                                   // money ran out
	)

	res, err := Distribute(core.Cents(80), list, core.ModeCollect)
	require.NoError(t, err)

	want := map[core.MoneyboxID]struct {
		applied int64
		action  Action
	}{
		1: {20, ActionTargetFilled},
		2: {0, ActionNoSavingsAmount},
		3: {40, ActionSavingsAmountApplied},
		4: {20, ActionPartiallyFunded},
		5: {0, ActionTargetReached},
		6: {0, ActionNotReached},
	}
	for id, w := range want {
		a := allocation(t, res, id)
		assert.Equal(t, core.Cents(w.applied), a.Applied, "moneybox %d", id)
		assert.Equal(t, w.action, a.Action, "moneybox %d", id)
	}
}

func TestDistribute_ZeroSavingsAmountIsNoOpInEveryMode(t *testing.T) {
	list := mustList(t, overflow(40),
		ranked(1, 1, 10, withTarget(50)),
		ranked(2, 2, 10),
	)

	for _, mode := range allModes {
		t.Run(string(mode), func(t *testing.T) {
			res, err := Distribute(core.Money{}, list, mode)
			require.NoError(t, err)
			require.Len(t, res.Allocations, 3)
			assert.True(t, res.Leftover.IsZero())
			for _, a := range res.Allocations {
				assert.True(t, a.Delta().IsZero(), "moneybox %d", a.MoneyboxID)
				assert.Equal(t, ActionNothingDistributed, a.Action)
			}
		})
	}
}

func TestDistribute_Preconditions(t *testing.T) {
	list := mustList(t, overflow(0), ranked(1, 1, 10))

	_, err := Distribute(core.Cents(-1), list, core.ModeCollect)
	var listErr *core.InvalidPriorityListError
	require.ErrorAs(t, err, &listErr)

	_, err = Distribute(core.Cents(10), core.PriorityList{}, core.ModeCollect)
	require.ErrorAs(t, err, &listErr)

	_, err = Distribute(core.Cents(10), list, core.OverflowMode("spread"))
	require.ErrorIs(t, err, core.ErrInvalidOverflowMode)
}

func TestDistribute_DoesNotMutateInput(t *testing.T) {
	list := mustList(t, overflow(30), ranked(1, 1, 10, withTarget(20)), ranked(2, 2, 5))
	before := list.All()

	for _, mode := range allModes {
		_, err := Distribute(core.Cents(100), list, mode)
		require.NoError(t, err)
	}
	assert.Equal(t, before, list.All())
}

func TestDistribute_RatioMode(t *testing.T) {
	list := mustList(t, overflow(100),
		ranked(1, 1, 10),
		ranked(2, 2, 30),
		ranked(3, 3, 20, withTarget(20), withBalance(20)), // full, not eligible
	)

	res, err := Distribute(core.Cents(40), list, core.ModeRatio)
	require.NoError(t, err)

	// 100 split 1:3 -> 25 / 75
	assert.Equal(t, core.Cents(25), allocation(t, res, 1).Redistributed)
	assert.Equal(t, core.Cents(75), allocation(t, res, 2).Redistributed)
	assert.True(t, allocation(t, res, 3).Received().IsZero())
	assert.True(t, res.Overflow().EndBalance().IsZero())
}

func TestDistribute_RatioModeKeepsRoundingRemainder(t *testing.T) {
	list := mustList(t, overflow(10),
		ranked(1, 1, 1),
		ranked(2, 2, 2),
	)

	res, err := Distribute(core.Cents(3), list, core.ModeRatio)
	require.NoError(t, err)

	// round 1: 3 and 6; round 2 on the remaining 1 cent pays nothing
	assert.Equal(t, core.Cents(3), allocation(t, res, 1).Redistributed)
	assert.Equal(t, core.Cents(6), allocation(t, res, 2).Redistributed)
	assert.Equal(t, core.Cents(1), res.Overflow().EndBalance())
}

func TestDistribute_EqualModeRespectsTargets(t *testing.T) {
	list := mustList(t, overflow(90),
		ranked(1, 1, 10, withTarget(15)),
		ranked(2, 2, 10),
		ranked(3, 3, 10),
	)

	res, err := Distribute(core.Cents(30), list, core.ModeEqual)
	require.NoError(t, err)

	// round 1: 30 each, box1 capped at 5; round 2: 25 over two boxes -> 12 each
	assert.Equal(t, core.Cents(5), allocation(t, res, 1).Redistributed)
	assert.Equal(t, core.Cents(42), allocation(t, res, 2).Redistributed)
	assert.Equal(t, core.Cents(42), allocation(t, res, 3).Redistributed)
	assert.Equal(t, core.Cents(1), res.Overflow().EndBalance())
}

func TestResultApply(t *testing.T) {
	list := mustList(t, overflow(40), ranked(1, 1, 70))
	res, err := Distribute(core.Cents(60), list, core.ModeAddToSavingsAmount)
	require.NoError(t, err)

	next, err := res.Apply(list)
	require.NoError(t, err)
	assert.Equal(t, core.Cents(70), next.Ranked()[0].Balance)
	assert.Equal(t, core.Cents(30), next.Overflow().Balance)

	// a result applied to a different snapshot is rejected
	_, err = res.Apply(next)
	var listErr *core.InvalidPriorityListError
	require.ErrorAs(t, err, &listErr)
}

func TestResultApplyRejectsNegativeBalance(t *testing.T) {
	list := mustList(t, overflow(10), ranked(1, 1, 5))
	res, err := Distribute(core.Cents(5), list, core.ModeCollect)
	require.NoError(t, err)

	res.Allocations[1].Withdrawn = core.Cents(50)
	_, err = res.Apply(list)
	var negErr *core.NegativeResultError
	require.ErrorAs(t, err, &negErr)
}

// randomList builds a valid list from a seeded source so failures reproduce.
func randomList(t *testing.T, rng *rand.Rand) core.PriorityList {
	t.Helper()
	n := rng.Intn(6)
	boxes := make([]core.MoneyboxSnapshot, 0, n)
	for i := 0; i < n; i++ {
		opts := []boxOpt{withBalance(rng.Int63n(500))}
		if rng.Intn(2) == 0 {
			opts = append(opts, withTarget(rng.Int63n(800)))
		}
		boxes = append(boxes, ranked(core.MoneyboxID(i+1), i+1, rng.Int63n(300), opts...))
	}
	return mustList(t, overflow(rng.Int63n(400)), boxes...)
}

func TestDistribute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		list := randomList(t, rng)
		amount := core.Cents(rng.Int63n(1000))
		mode := allModes[rng.Intn(len(allModes))]

		res, err := Distribute(amount, list, mode)
		require.NoError(t, err)
		require.Len(t, res.Allocations, list.Len())

		// conservation: deltas add up to the savings amount, and everything
		// distributable lands somewhere
		var deltas, applied core.Money
		for _, a := range res.Allocations {
			deltas = deltas.Add(a.Delta())
			applied = applied.Add(a.Applied)
		}
		require.Equal(t, amount, deltas, "iteration %d mode %s", iter, mode)
		require.Equal(t, res.Distributable, applied, "iteration %d mode %s", iter, mode)

		snapshot := list.All()
		for i, a := range res.Allocations {
			require.False(t, a.EndBalance().IsNegative(), "non-negativity, iteration %d", iter)
			require.False(t, a.Applied.IsNegative())
			require.False(t, a.Redistributed.IsNegative())

			mb := snapshot[i]
			if mb.HasTarget() && !a.Received().IsZero() {
				require.LessOrEqual(t, a.EndBalance().Cents, mb.SavingsTarget.Cents,
					"target cap, iteration %d moneybox %d", iter, mb.ID)
			}
		}

		again, err := Distribute(amount, list, mode)
		require.NoError(t, err)
		require.Equal(t, res, again, "determinism, iteration %d", iter)
	}
}
