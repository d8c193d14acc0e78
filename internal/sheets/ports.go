package sheets

import (
	"context"

	"moneyboxes/internal/cyclelog"
)

// Ports for outbound adapters.
type (
	// CycleLogExporter appends cycle log entries to an external ledger and
	// returns a reference to the written range.
	CycleLogExporter interface {
		AppendEntries(ctx context.Context, entries []cyclelog.Entry) (ref string, err error)
	}
)
