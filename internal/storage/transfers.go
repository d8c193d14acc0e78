package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"moneyboxes/internal/core"
)

var (
	ErrTransferToSelf = errors.New("cannot transfer within the same moneybox")
	// ErrOverflowProtected is returned for edits the overflow moneybox does
	// not allow: renaming, ranking and deleting.
	ErrOverflowProtected = errors.New("overflow moneybox cannot be changed this way")
)

type TransactionType string

const (
	TransactionDirect       TransactionType = "direct"
	TransactionDistribution TransactionType = "distribution"
)

type TransactionTrigger string

const (
	TriggerManual    TransactionTrigger = "manually"
	TriggerAutomatic TransactionTrigger = "automatically"
)

// Transaction is one balance movement of a moneybox. Withdrawals carry a
// negative amount. CycleID is uuid.Nil for manual movements and
// CounterpartyID is zero when no other moneybox was involved.
type Transaction struct {
	ID             int64
	MoneyboxID     core.MoneyboxID
	CounterpartyID core.MoneyboxID
	CycleID        uuid.UUID
	Amount         core.Money
	Balance        core.Money
	Description    string
	Type           TransactionType
	Trigger        TransactionTrigger
	CreatedAt      time.Time
}

// MoneyboxChanges lists the fields to update; nil fields are kept.
// ClearTarget removes the savings target and wins over SavingsTarget.
type MoneyboxChanges struct {
	Name          *string
	SavingsAmount *core.Money
	SavingsTarget *core.Money
	ClearTarget   bool
}

// Deposit adds a positive amount to a moneybox.
func (r *SQLiteRepository) Deposit(ctx context.Context, id core.MoneyboxID, amount core.Money, description string) (core.MoneyboxSnapshot, error) {
	if err := requirePositive(amount); err != nil {
		return core.MoneyboxSnapshot{}, err
	}
	return r.moveManually(ctx, id, amount, description)
}

// Withdraw takes a positive amount out of a moneybox. Taking more than the
// balance fails with a *core.NegativeResultError.
func (r *SQLiteRepository) Withdraw(ctx context.Context, id core.MoneyboxID, amount core.Money, description string) (core.MoneyboxSnapshot, error) {
	if err := requirePositive(amount); err != nil {
		return core.MoneyboxSnapshot{}, err
	}
	return r.moveManually(ctx, id, core.Money{}.Sub(amount), description)
}

func requirePositive(amount core.Money) error {
	if amount.IsZero() || amount.IsNegative() {
		return fmt.Errorf("%w: amount must be positive, got %s", core.ErrInvalidAmount, amount)
	}
	return nil
}

func (r *SQLiteRepository) moveManually(ctx context.Context, id core.MoneyboxID, delta core.Money, description string) (core.MoneyboxSnapshot, error) {
	var out core.MoneyboxSnapshot
	err := r.inTx(ctx, func(q *Queries) error {
		mb, err := getMoneybox(ctx, q, id)
		if err != nil {
			return err
		}
		at := formatTime(r.now())
		balance, err := changeBalance(ctx, q, mb, delta, at)
		if err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, manualTransaction(mb.ID, 0, delta, balance, description, at)); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		mb.BalanceCents = balance.Cents
		out = moneyboxFromRow(mb)
		return nil
	})
	if err != nil {
		return core.MoneyboxSnapshot{}, err
	}

	slog.InfoContext(ctx, "Manual balance change",
		"moneybox_id", id,
		"amount_cents", delta.Cents,
		"balance_cents", out.Balance.Cents)
	return out, nil
}

// Transfer moves a positive amount between two moneyboxes and logs both
// sides with the other moneybox as counterparty.
func (r *SQLiteRepository) Transfer(ctx context.Context, from, to core.MoneyboxID, amount core.Money, description string) error {
	if from == to {
		return fmt.Errorf("%w: %d", ErrTransferToSelf, from)
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	err := r.inTx(ctx, func(q *Queries) error {
		return transfer(ctx, q, from, to, amount, description, formatTime(r.now()))
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Manual transfer", "from", from, "to", to, "amount_cents", amount.Cents)
	return nil
}

func transfer(ctx context.Context, q *Queries, from, to core.MoneyboxID, amount core.Money, description, at string) error {
	src, err := getMoneybox(ctx, q, from)
	if err != nil {
		return err
	}
	dst, err := getMoneybox(ctx, q, to)
	if err != nil {
		return err
	}

	srcBalance, err := changeBalance(ctx, q, src, core.Money{}.Sub(amount), at)
	if err != nil {
		return err
	}
	dstBalance, err := changeBalance(ctx, q, dst, amount, at)
	if err != nil {
		return err
	}

	if err := q.InsertTransaction(ctx, manualTransaction(src.ID, dst.ID, core.Money{}.Sub(amount), srcBalance, description, at)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if err := q.InsertTransaction(ctx, manualTransaction(dst.ID, src.ID, amount, dstBalance, description, at)); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateMoneybox changes name, savings amount or savings target of a ranked
// moneybox.
func (r *SQLiteRepository) UpdateMoneybox(ctx context.Context, id core.MoneyboxID, ch MoneyboxChanges) (core.MoneyboxSnapshot, error) {
	var out core.MoneyboxSnapshot
	err := r.inTx(ctx, func(q *Queries) error {
		row, err := getMoneybox(ctx, q, id)
		if err != nil {
			return err
		}
		if row.IsOverflow {
			return fmt.Errorf("%w: update %d", ErrOverflowProtected, id)
		}

		mb := moneyboxFromRow(row)
		if ch.Name != nil {
			mb.Name = strings.TrimSpace(*ch.Name)
			if mb.Name == "" {
				return errors.New("moneybox name is required")
			}
		}
		if ch.SavingsAmount != nil {
			mb.SavingsAmount = *ch.SavingsAmount
		}
		switch {
		case ch.ClearTarget:
			mb.SavingsTarget = nil
		case ch.SavingsTarget != nil:
			mb.SavingsTarget = core.Target(*ch.SavingsTarget)
		}
		if err := mb.Validate(); err != nil {
			return err
		}

		params := UpdateMoneyboxDetailsParams{
			ID:                 int64(id),
			Name:               mb.Name,
			SavingsAmountCents: mb.SavingsAmount.Cents,
		}
		if mb.SavingsTarget != nil {
			params.SavingsTargetCents = sql.NullInt64{Int64: mb.SavingsTarget.Cents, Valid: true}
		}
		if _, err := q.UpdateMoneyboxDetails(ctx, params); err != nil {
			return fmt.Errorf("update moneybox: %w", err)
		}
		out = mb
		return nil
	})
	if err != nil {
		return core.MoneyboxSnapshot{}, err
	}

	slog.InfoContext(ctx, "Moneybox updated", "id", id, "name", out.Name)
	return out, nil
}

// DeleteMoneybox removes a ranked moneybox. Its balance is transferred to
// the overflow moneybox first; the returned amount is what was moved.
// Deleted moneyboxes keep their history but are gone from every listing.
func (r *SQLiteRepository) DeleteMoneybox(ctx context.Context, id core.MoneyboxID) (core.Money, error) {
	var moved core.Money
	err := r.inTx(ctx, func(q *Queries) error {
		mb, err := getMoneybox(ctx, q, id)
		if err != nil {
			return err
		}
		if mb.IsOverflow {
			return fmt.Errorf("%w: delete %d", ErrOverflowProtected, id)
		}
		overflow, err := q.GetOverflowMoneybox(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return &core.InconsistentStateError{}
		}
		if err != nil {
			return fmt.Errorf("get overflow moneybox: %w", err)
		}

		at := formatTime(r.now())
		if mb.BalanceCents > 0 {
			moved = core.Cents(mb.BalanceCents)
			note := fmt.Sprintf("Balance of deleted moneybox %q.", mb.Name)
			if err := transfer(ctx, q, id, core.MoneyboxID(overflow.ID), moved, note, at); err != nil {
				return err
			}
		}

		n, err := q.MarkMoneyboxDeleted(ctx, int64(id), at)
		if err != nil {
			return fmt.Errorf("delete moneybox: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %d", ErrMoneyboxNotFound, id)
		}
		return nil
	})
	if err != nil {
		return core.Money{}, err
	}

	slog.InfoContext(ctx, "Moneybox deleted", "id", id, "moved_to_overflow_cents", moved.Cents)
	return moved, nil
}

// ReorderPriorities assigns new priorities to ranked moneyboxes in one
// transaction. Moneyboxes not listed keep theirs; the result must leave no
// two active moneyboxes on the same priority.
func (r *SQLiteRepository) ReorderPriorities(ctx context.Context, priorities map[core.MoneyboxID]int) error {
	if len(priorities) == 0 {
		return nil
	}
	for id, p := range priorities {
		if p < 0 {
			return fmt.Errorf("moneybox %d: negative priority %d", id, p)
		}
	}
	ids := slices.Sorted(maps.Keys(priorities))

	err := r.inTx(ctx, func(q *Queries) error {
		for _, id := range ids {
			mb, err := getMoneybox(ctx, q, id)
			if err != nil {
				return err
			}
			if mb.IsOverflow {
				return fmt.Errorf("%w: rank %d", ErrOverflowProtected, id)
			}
		}

		// park every listed moneybox above the current maximum, so swaps
		// never collide on the unique priority index halfway through
		top, err := q.GetMaxPriority(ctx)
		if err != nil {
			return fmt.Errorf("get max priority: %w", err)
		}
		for i, id := range ids {
			if _, err := q.SetMoneyboxPriority(ctx, int64(id), top+int64(i)+1); err != nil {
				return fmt.Errorf("park priority of moneybox %d: %w", id, err)
			}
		}
		for _, id := range ids {
			_, err := q.SetMoneyboxPriority(ctx, int64(id), int64(priorities[id]))
			if isConstraintError(err) {
				return fmt.Errorf("%w: %d", ErrDuplicatePriority, priorities[id])
			}
			if err != nil {
				return fmt.Errorf("set priority of moneybox %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Priority list reordered", "moneyboxes", len(priorities))
	return nil
}

// ListTransactions returns the latest movements of a moneybox, newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, id core.MoneyboxID, limit int) ([]Transaction, error) {
	if _, err := getMoneybox(ctx, r.queries, id); err != nil {
		return nil, err
	}
	rows, err := r.queries.ListTransactions(ctx, int64(id), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := transactionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func getMoneybox(ctx context.Context, q *Queries, id core.MoneyboxID) (Moneybox, error) {
	mb, err := q.GetMoneybox(ctx, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return Moneybox{}, fmt.Errorf("%w: %d", ErrMoneyboxNotFound, id)
	}
	if err != nil {
		return Moneybox{}, fmt.Errorf("get moneybox: %w", err)
	}
	return mb, nil
}

// changeBalance applies delta with the same optimistic check the cycles use.
func changeBalance(ctx context.Context, q *Queries, mb Moneybox, delta core.Money, at string) (core.Money, error) {
	current := core.Cents(mb.BalanceCents)
	next := current.Add(delta)
	if delta.IsNegative() {
		var err error
		next, err = current.SubNonNegative(core.Money{}.Sub(delta))
		if err != nil {
			return core.Money{}, fmt.Errorf("moneybox %d: %w", mb.ID, err)
		}
	}

	n, err := q.UpdateMoneyboxBalance(ctx, UpdateMoneyboxBalanceParams{
		ID:              mb.ID,
		ExpectedCents:   mb.BalanceCents,
		NewBalanceCents: next.Cents,
		UpdatedAt:       at,
	})
	if err != nil {
		return core.Money{}, fmt.Errorf("update balance of moneybox %d: %w", mb.ID, err)
	}
	if n == 0 {
		return core.Money{}, fmt.Errorf("%w: moneybox %d", ErrStaleSnapshot, mb.ID)
	}
	return next, nil
}

func manualTransaction(id, counterparty int64, amount, balance core.Money, description, at string) TransactionParams {
	t := TransactionParams{
		MoneyboxID:   id,
		AmountCents:  amount.Cents,
		BalanceCents: balance.Cents,
		Description:  strings.TrimSpace(description),
		Type:         string(TransactionDirect),
		Trigger:      string(TriggerManual),
		CreatedAt:    at,
	}
	if counterparty != 0 {
		t.CounterpartyID = sql.NullInt64{Int64: counterparty, Valid: true}
	}
	return t
}

func transactionFromRow(row TransactionRow) (Transaction, error) {
	created, err := parseTime(row.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	t := Transaction{
		ID:             row.ID,
		MoneyboxID:     core.MoneyboxID(row.MoneyboxID),
		CounterpartyID: core.MoneyboxID(row.CounterpartyID.Int64),
		Amount:         core.Cents(row.AmountCents),
		Balance:        core.Cents(row.BalanceCents),
		Description:    row.Description,
		Type:           TransactionType(row.Type),
		Trigger:        TransactionTrigger(row.Trigger),
		CreatedAt:      created,
	}
	if row.CycleID.Valid {
		if t.CycleID, err = uuid.Parse(row.CycleID.String); err != nil {
			return Transaction{}, fmt.Errorf("parse cycle id %q: %w", row.CycleID.String, err)
		}
	}
	return t, nil
}
