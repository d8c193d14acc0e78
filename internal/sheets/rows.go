package sheets

import (
	"time"

	"moneyboxes/internal/cyclelog"
)

// Header is the column layout of an exported cycle log.
var Header = []any{"Timestamp", "Cycle", "Moneybox", "Kind", "Amount", "Resulting Balance", "Note"}

// Rows converts entries to spreadsheet rows in Header order. Amounts are
// euros so the sheet can sum them; the summary row has no moneybox.
func Rows(entries []cyclelog.Entry) [][]any {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		var moneybox any = int64(e.MoneyboxID)
		if e.IsSummary() {
			moneybox = ""
		}
		rows = append(rows, []any{
			e.Timestamp.UTC().Format(time.DateTime),
			e.CycleID.String(),
			moneybox,
			string(e.Kind),
			e.Amount.Euros(),
			e.ResultingBalance.Euros(),
			e.Note,
		})
	}
	return rows
}
