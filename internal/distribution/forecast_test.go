package distribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyboxes/internal/core"
)

func TestForecast_MonthsUntilTarget(t *testing.T) {
	list := mustList(t, overflow(0),
		ranked(1, 1, 100, withTarget(250)),
		ranked(2, 2, 50, withTarget(50), withBalance(50)),
		ranked(3, 3, 100),
	)

	forecasts, err := Forecast(list, core.Cents(150), core.ModeCollect, 0)
	require.NoError(t, err)
	require.Len(t, forecasts, 3)

	first := forecasts[0]
	assert.Equal(t, core.MoneyboxID(1), first.MoneyboxID)
	assert.Equal(t, 3, first.ReachedInMonth)
	assert.Equal(t, []MonthAmount{
		{Month: 1, Amount: core.Cents(100)},
		{Month: 2, Amount: core.Cents(100)},
		{Month: 3, Amount: core.Cents(50)},
	}, first.Monthly)

	assert.Equal(t, ReachedAlready, forecasts[1].ReachedInMonth)
	assert.Empty(t, forecasts[1].Monthly)

	// unbounded moneyboxes never reach anything
	assert.Equal(t, NeverReached, forecasts[2].ReachedInMonth)
	assert.NotEmpty(t, forecasts[2].Monthly)
}

func TestForecast_StarvedMoneyboxNeverReachesTarget(t *testing.T) {
	list := mustList(t, overflow(0),
		ranked(1, 1, 100),
		ranked(2, 2, 10, withTarget(100)),
	)

	forecasts, err := Forecast(list, core.Cents(100), core.ModeCollect, 24)
	require.NoError(t, err)

	assert.Equal(t, NeverReached, forecasts[1].ReachedInMonth)
	assert.Empty(t, forecasts[1].Monthly)
}

func TestForecast_RespectsMaxMonths(t *testing.T) {
	list := mustList(t, overflow(0), ranked(1, 1, 1, withTarget(1000)))

	forecasts, err := Forecast(list, core.Cents(1), core.ModeCollect, 12)
	require.NoError(t, err)

	assert.Len(t, forecasts[0].Monthly, 12)
	assert.Equal(t, NeverReached, forecasts[0].ReachedInMonth)
}

func TestForecast_PropagatesEngineErrors(t *testing.T) {
	list := mustList(t, overflow(0), ranked(1, 1, 1))
	_, err := Forecast(list, core.Cents(-5), core.ModeCollect, 1)
	var listErr *core.InvalidPriorityListError
	require.ErrorAs(t, err, &listErr)
}

func TestRedistributors_NeverOverpay(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Balance: core.Cents(5), SavingsAmount: core.Cents(10), SavingsTarget: core.Target(core.Cents(8))},
		{ID: 2, SavingsAmount: core.Cents(0), SavingsTarget: core.Target(core.Cents(50))},
		{ID: 3, SavingsAmount: core.Cents(20)},
	}

	tests := []struct {
		name string
		r    Redistributor
		want []core.Money
	}{
		{"fill", FillRedistributor{}, []core.Money{core.Cents(3), core.Cents(17), core.Cents(0)}},
		{"ratio", RatioRedistributor{}, []core.Money{core.Cents(3), core.Cents(0), core.Cents(13)}},
		{"equal", EqualRedistributor{}, []core.Money{core.Cents(3), core.Cents(0), core.Cents(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Shares(candidates, core.Cents(20)))
		})
	}
}
