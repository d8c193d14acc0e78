package distribution

import (
	"moneyboxes/internal/core"
)

const (
	// ReachedAlready marks a moneybox whose target is met before any cycle.
	ReachedAlready = 0
	// NeverReached marks a moneybox that has no target or stops receiving
	// money before reaching it.
	NeverReached = -1

	DefaultForecastMonths = 600
)

// MonthAmount is what a moneybox receives in a simulated month (1-based).
type MonthAmount struct {
	Month  int
	Amount core.Money
}

// MoneyboxForecast is the simulated savings history of one ranked moneybox.
type MoneyboxForecast struct {
	MoneyboxID     core.MoneyboxID
	Name           string
	SavingsTarget  *core.Money
	ReachedInMonth int
	Monthly        []MonthAmount
}

// Forecast simulates monthly cycles with the given settings and reports for
// every ranked moneybox how much it receives per month and in which month
// its target is reached. The simulation stops once balances of targeted
// moneyboxes stop changing, or after maxMonths (DefaultForecastMonths when
// maxMonths <= 0).
func Forecast(list core.PriorityList, savingsAmount core.Money, mode core.OverflowMode, maxMonths int) ([]MoneyboxForecast, error) {
	if maxMonths <= 0 {
		maxMonths = DefaultForecastMonths
	}

	ranked := list.Ranked()
	forecasts := make([]MoneyboxForecast, len(ranked))
	index := make(map[core.MoneyboxID]int, len(ranked))
	reached := make(map[core.MoneyboxID]bool, len(ranked))
	for i, mb := range ranked {
		forecasts[i] = MoneyboxForecast{
			MoneyboxID:     mb.ID,
			Name:           mb.Name,
			SavingsTarget:  mb.SavingsTarget,
			ReachedInMonth: NeverReached,
		}
		index[mb.ID] = i
		if mb.TargetReached() {
			forecasts[i].ReachedInMonth = ReachedAlready
			reached[mb.ID] = true
		}
	}

	current := list
	last := core.Cents(-1)
	for month := 1; month <= maxMonths; month++ {
		res, err := Distribute(savingsAmount, current, mode)
		if err != nil {
			return nil, err
		}
		next, err := res.Apply(current)
		if err != nil {
			return nil, err
		}

		for _, a := range res.Ranked() {
			i := index[a.MoneyboxID]
			if got := a.Received(); !got.IsZero() {
				forecasts[i].Monthly = append(forecasts[i].Monthly, MonthAmount{Month: month, Amount: got})
			}
		}
		for _, mb := range next.Ranked() {
			if !reached[mb.ID] && mb.TargetReached() {
				reached[mb.ID] = true
				forecasts[index[mb.ID]].ReachedInMonth = month
			}
		}

		total := targetedBalance(next)
		current = next
		if total == last {
			break
		}
		last = total
	}

	return forecasts, nil
}

func targetedBalance(list core.PriorityList) core.Money {
	var total core.Money
	for _, mb := range list.Ranked() {
		if mb.HasTarget() {
			total = total.Add(mb.Balance)
		}
	}
	return total
}
