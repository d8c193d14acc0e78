package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL statements of the repository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Moneybox is a row of the moneyboxes table.
type Moneybox struct {
	ID                 int64
	Name               string
	BalanceCents       int64
	SavingsAmountCents int64
	SavingsTargetCents sql.NullInt64
	Priority           sql.NullInt64
	IsActive           bool
	IsOverflow         bool
}

// AppSetting is the single row of the app_settings table.
type AppSetting struct {
	IsAutomatedSavingActive bool
	SavingsAmountCents      int64
	OverflowMode            string
	SendReportsViaEmail     bool
	UserEmailAddress        string
}

// Cycle is a row of the cycles table.
type Cycle struct {
	ID                 string
	CycleMonth         string
	CycleDate          string
	Status             string
	OverflowMode       string
	SavingsAmountCents int64
	DistributableCents int64
	DistributedCents   int64
	LeftoverCents      int64
	RedistributedCents int64
	Note               string
	ReportSent         bool
}

// CycleLog is a row of the cycle_logs table.
type CycleLog struct {
	CycleID               string
	Seq                   int64
	MoneyboxID            sql.NullInt64
	Kind                  string
	AmountCents           int64
	ResultingBalanceCents int64
	Note                  string
	LoggedAt              string
}

// TransactionParams is a row of the transactions table.
type TransactionParams struct {
	CycleID        sql.NullString
	MoneyboxID     int64
	CounterpartyID sql.NullInt64
	AmountCents    int64
	BalanceCents   int64
	Description    string
	Type           string
	Trigger        string
	CreatedAt      string
}

// TransactionRow is a stored row of the transactions table.
type TransactionRow struct {
	ID int64
	TransactionParams
}

const moneyboxColumns = `id, name, balance_cents, savings_amount_cents, savings_target_cents, priority, is_active, is_overflow`

func scanMoneybox(row interface{ Scan(...any) error }) (Moneybox, error) {
	var m Moneybox
	err := row.Scan(&m.ID, &m.Name, &m.BalanceCents, &m.SavingsAmountCents,
		&m.SavingsTargetCents, &m.Priority, &m.IsActive, &m.IsOverflow)
	return m, err
}

const listMoneyboxes = `SELECT ` + moneyboxColumns + ` FROM moneyboxes
WHERE is_deleted = 0
ORDER BY is_overflow, priority, id`

func (q *Queries) ListMoneyboxes(ctx context.Context) ([]Moneybox, error) {
	rows, err := q.db.QueryContext(ctx, listMoneyboxes)
	if err != nil {
		return nil, err
	}
	return collectMoneyboxes(rows)
}

// Balances come from the cycle, the rest from the moneybox as it is now.
// Every participant of a cycle was active when it ran.
const listCycleMoneyboxes = `SELECT m.id, m.name, b.balance_cents, m.savings_amount_cents,
       m.savings_target_cents, m.priority, 1, m.is_overflow
FROM cycle_balances b JOIN moneyboxes m ON m.id = b.moneybox_id
WHERE b.cycle_id = ?
ORDER BY m.is_overflow, m.priority, m.id`

func (q *Queries) ListCycleMoneyboxes(ctx context.Context, cycleID string) ([]Moneybox, error) {
	rows, err := q.db.QueryContext(ctx, listCycleMoneyboxes, cycleID)
	if err != nil {
		return nil, err
	}
	return collectMoneyboxes(rows)
}

func collectMoneyboxes(rows *sql.Rows) ([]Moneybox, error) {
	defer rows.Close()

	var items []Moneybox
	for rows.Next() {
		m, err := scanMoneybox(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const getMoneyboxQuery = `SELECT ` + moneyboxColumns + ` FROM moneyboxes WHERE id = ? AND is_deleted = 0`

func (q *Queries) GetMoneybox(ctx context.Context, id int64) (Moneybox, error) {
	return scanMoneybox(q.db.QueryRowContext(ctx, getMoneyboxQuery, id))
}

const getOverflowMoneybox = `SELECT ` + moneyboxColumns + ` FROM moneyboxes WHERE is_overflow = 1`

func (q *Queries) GetOverflowMoneybox(ctx context.Context) (Moneybox, error) {
	return scanMoneybox(q.db.QueryRowContext(ctx, getOverflowMoneybox))
}

type CreateMoneyboxParams struct {
	Name               string
	SavingsAmountCents int64
	SavingsTargetCents sql.NullInt64
	Priority           int64
}

const createMoneybox = `INSERT INTO moneyboxes (name, savings_amount_cents, savings_target_cents, priority)
VALUES (?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreateMoneybox(ctx context.Context, arg CreateMoneyboxParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createMoneybox,
		arg.Name, arg.SavingsAmountCents, arg.SavingsTargetCents, arg.Priority).Scan(&id)
	return id, err
}

const setMoneyboxActive = `UPDATE moneyboxes
SET is_active = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ? AND is_overflow = 0 AND is_deleted = 0`

func (q *Queries) SetMoneyboxActive(ctx context.Context, id int64, active bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setMoneyboxActive, active, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type UpdateMoneyboxDetailsParams struct {
	ID                 int64
	Name               string
	SavingsAmountCents int64
	SavingsTargetCents sql.NullInt64
}

const updateMoneyboxDetails = `UPDATE moneyboxes
SET name = ?, savings_amount_cents = ?, savings_target_cents = ?,
    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ? AND is_overflow = 0 AND is_deleted = 0`

func (q *Queries) UpdateMoneyboxDetails(ctx context.Context, arg UpdateMoneyboxDetailsParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateMoneyboxDetails,
		arg.Name, arg.SavingsAmountCents, arg.SavingsTargetCents, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setMoneyboxPriority = `UPDATE moneyboxes
SET priority = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
WHERE id = ? AND is_overflow = 0 AND is_deleted = 0`

func (q *Queries) SetMoneyboxPriority(ctx context.Context, id, priority int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, setMoneyboxPriority, priority, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getMaxPriority = `SELECT COALESCE(MAX(priority), 0) FROM moneyboxes`

func (q *Queries) GetMaxPriority(ctx context.Context) (int64, error) {
	var p int64
	err := q.db.QueryRowContext(ctx, getMaxPriority).Scan(&p)
	return p, err
}

const markMoneyboxDeleted = `UPDATE moneyboxes
SET is_active = 0, is_deleted = 1, updated_at = ?
WHERE id = ? AND is_overflow = 0 AND is_deleted = 0`

func (q *Queries) MarkMoneyboxDeleted(ctx context.Context, id int64, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markMoneyboxDeleted, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// The expected balance guards against a writer that changed the moneybox
// after the snapshot was taken.
const updateMoneyboxBalance = `UPDATE moneyboxes
SET balance_cents = ?, updated_at = ?
WHERE id = ? AND balance_cents = ?`

type UpdateMoneyboxBalanceParams struct {
	ID              int64
	ExpectedCents   int64
	NewBalanceCents int64
	UpdatedAt       string
}

func (q *Queries) UpdateMoneyboxBalance(ctx context.Context, arg UpdateMoneyboxBalanceParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateMoneyboxBalance,
		arg.NewBalanceCents, arg.UpdatedAt, arg.ID, arg.ExpectedCents)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getSettings = `SELECT is_automated_saving_active, savings_amount_cents, overflow_mode,
       send_reports_via_email, user_email_address
FROM app_settings WHERE id = 1`

func (q *Queries) GetSettings(ctx context.Context) (AppSetting, error) {
	var s AppSetting
	err := q.db.QueryRowContext(ctx, getSettings).Scan(&s.IsAutomatedSavingActive,
		&s.SavingsAmountCents, &s.OverflowMode, &s.SendReportsViaEmail, &s.UserEmailAddress)
	return s, err
}

const upsertSettings = `INSERT INTO app_settings (id, is_automated_saving_active, savings_amount_cents,
       overflow_mode, send_reports_via_email, user_email_address)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    is_automated_saving_active = excluded.is_automated_saving_active,
    savings_amount_cents = excluded.savings_amount_cents,
    overflow_mode = excluded.overflow_mode,
    send_reports_via_email = excluded.send_reports_via_email,
    user_email_address = excluded.user_email_address,
    updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`

func (q *Queries) UpsertSettings(ctx context.Context, s AppSetting) error {
	_, err := q.db.ExecContext(ctx, upsertSettings, s.IsAutomatedSavingActive,
		s.SavingsAmountCents, s.OverflowMode, s.SendReportsViaEmail, s.UserEmailAddress)
	return err
}

const insertSettingsIfMissing = `INSERT OR IGNORE INTO app_settings (id, is_automated_saving_active,
       savings_amount_cents, overflow_mode, send_reports_via_email, user_email_address)
VALUES (1, ?, ?, ?, ?, ?)`

func (q *Queries) InsertSettingsIfMissing(ctx context.Context, s AppSetting) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertSettingsIfMissing, s.IsAutomatedSavingActive,
		s.SavingsAmountCents, s.OverflowMode, s.SendReportsViaEmail, s.UserEmailAddress)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const cycleColumns = `id, cycle_month, cycle_date, status, overflow_mode, savings_amount_cents, distributable_cents,
       distributed_cents, leftover_cents, redistributed_cents, note, report_sent`

func scanCycle(row interface{ Scan(...any) error }) (Cycle, error) {
	var c Cycle
	err := row.Scan(&c.ID, &c.CycleMonth, &c.CycleDate, &c.Status, &c.OverflowMode, &c.SavingsAmountCents,
		&c.DistributableCents, &c.DistributedCents, &c.LeftoverCents, &c.RedistributedCents,
		&c.Note, &c.ReportSent)
	return c, err
}

const insertCycle = `INSERT INTO cycles (` + cycleColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertCycle(ctx context.Context, c Cycle) error {
	_, err := q.db.ExecContext(ctx, insertCycle, c.ID, c.CycleMonth, c.CycleDate, c.Status, c.OverflowMode,
		c.SavingsAmountCents, c.DistributableCents, c.DistributedCents, c.LeftoverCents,
		c.RedistributedCents, c.Note, c.ReportSent)
	return err
}

const getCycle = `SELECT ` + cycleColumns + ` FROM cycles WHERE id = ?`

func (q *Queries) GetCycle(ctx context.Context, id string) (Cycle, error) {
	return scanCycle(q.db.QueryRowContext(ctx, getCycle, id))
}

const listCycles = `SELECT ` + cycleColumns + ` FROM cycles ORDER BY cycle_month DESC LIMIT ?`

func (q *Queries) ListCycles(ctx context.Context, limit int64) ([]Cycle, error) {
	rows, err := q.db.QueryContext(ctx, listCycles, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const getLatestCycleMonth = `SELECT cycle_month FROM cycles ORDER BY cycle_month DESC LIMIT 1`

func (q *Queries) GetLatestCycleMonth(ctx context.Context) (string, error) {
	var m string
	err := q.db.QueryRowContext(ctx, getLatestCycleMonth).Scan(&m)
	return m, err
}

const listPendingReports = `SELECT id FROM cycles
WHERE report_sent = 0 AND status = 'applied'
ORDER BY cycle_month
LIMIT ?`

func (q *Queries) ListPendingReports(ctx context.Context, limit int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listPendingReports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const markReportSent = `UPDATE cycles SET report_sent = 1 WHERE id = ?`

func (q *Queries) MarkReportSent(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markReportSent, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const insertTransaction = `INSERT INTO transactions (cycle_id, moneybox_id, counterparty_moneybox_id,
       amount_cents, balance_cents, description, transaction_type, transaction_trigger, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertTransaction(ctx context.Context, arg TransactionParams) error {
	_, err := q.db.ExecContext(ctx, insertTransaction, arg.CycleID, arg.MoneyboxID, arg.CounterpartyID,
		arg.AmountCents, arg.BalanceCents, arg.Description, arg.Type, arg.Trigger, arg.CreatedAt)
	return err
}

const listTransactions = `SELECT id, cycle_id, moneybox_id, counterparty_moneybox_id, amount_cents, balance_cents,
       description, transaction_type, transaction_trigger, created_at
FROM transactions WHERE moneybox_id = ?
ORDER BY id DESC
LIMIT ?`

func (q *Queries) ListTransactions(ctx context.Context, moneyboxID, limit int64) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, moneyboxID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransactionRow
	for rows.Next() {
		var t TransactionRow
		if err := rows.Scan(&t.ID, &t.CycleID, &t.MoneyboxID, &t.CounterpartyID, &t.AmountCents,
			&t.BalanceCents, &t.Description, &t.Type, &t.Trigger, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const insertCycleBalance = `INSERT INTO cycle_balances (cycle_id, moneybox_id, balance_cents) VALUES (?, ?, ?)`

func (q *Queries) InsertCycleBalance(ctx context.Context, cycleID string, moneyboxID, balanceCents int64) error {
	_, err := q.db.ExecContext(ctx, insertCycleBalance, cycleID, moneyboxID, balanceCents)
	return err
}

const countTransactions = `SELECT COUNT(*) FROM transactions WHERE cycle_id = ?`

func (q *Queries) CountTransactions(ctx context.Context, cycleID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countTransactions, cycleID).Scan(&n)
	return n, err
}

const insertCycleLog = `INSERT INTO cycle_logs (cycle_id, seq, moneybox_id, kind, amount_cents,
       resulting_balance_cents, note, logged_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertCycleLog(ctx context.Context, l CycleLog) error {
	_, err := q.db.ExecContext(ctx, insertCycleLog, l.CycleID, l.Seq, l.MoneyboxID, l.Kind,
		l.AmountCents, l.ResultingBalanceCents, l.Note, l.LoggedAt)
	return err
}

const listCycleLogs = `SELECT cycle_id, seq, moneybox_id, kind, amount_cents, resulting_balance_cents, note, logged_at
FROM cycle_logs WHERE cycle_id = ? ORDER BY seq`

func (q *Queries) ListCycleLogs(ctx context.Context, cycleID string) ([]CycleLog, error) {
	rows, err := q.db.QueryContext(ctx, listCycleLogs, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CycleLog
	for rows.Next() {
		var l CycleLog
		if err := rows.Scan(&l.CycleID, &l.Seq, &l.MoneyboxID, &l.Kind, &l.AmountCents,
			&l.ResultingBalanceCents, &l.Note, &l.LoggedAt); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}
