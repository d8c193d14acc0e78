package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"moneyboxes/internal/core"
	"moneyboxes/internal/cyclelog"
	"moneyboxes/internal/distribution"
)

var (
	ErrSettingsNotFound    = errors.New("app settings not found")
	ErrMoneyboxNotFound    = errors.New("moneybox not found")
	ErrCycleNotFound       = errors.New("cycle not found")
	ErrCycleAlreadyApplied = errors.New("cycle already applied")
	ErrDuplicatePriority   = errors.New("priority already used by an active moneybox")
	// ErrStaleSnapshot means a balance changed between reading the
	// snapshot and applying the cycle.
	ErrStaleSnapshot = errors.New("moneybox balance changed since snapshot")
)

type CycleStatus string

const (
	CycleApplied CycleStatus = "applied"
	CycleSkipped CycleStatus = "skipped"
)

// CycleRecord is everything persisted for one executed cycle. A zero Month
// is taken from CycleDate in its own location.
type CycleRecord struct {
	ID        uuid.UUID
	Month     core.YearMonth
	CycleDate time.Time
	Result    distribution.Result
	Entries   []cyclelog.Entry
}

// CycleSummary is the stored outcome of a cycle.
type CycleSummary struct {
	ID            uuid.UUID
	Month         core.YearMonth
	CycleDate     time.Time
	Status        CycleStatus
	Mode          core.OverflowMode
	SavingsAmount core.Money
	Distributable core.Money
	Distributed   core.Money
	Leftover      core.Money
	Redistributed core.Money
	Note          string
	ReportSent    bool
}

// CycleReport bundles a cycle with the data needed to report on it.
// Moneyboxes carry the balances the cycle left behind.
type CycleReport struct {
	Cycle      CycleSummary
	Entries    []cyclelog.Entry
	Moneyboxes []core.MoneyboxSnapshot
	Settings   core.Settings
}

// NewMoneybox describes a ranked moneybox to create.
type NewMoneybox struct {
	Name          string
	SavingsAmount core.Money
	SavingsTarget *core.Money
	Priority      int
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSettings stores defaults when no settings exist yet. It reports
// whether the defaults were written.
func (r *SQLiteRepository) EnsureSettings(ctx context.Context, defaults core.Settings) (bool, error) {
	if err := defaults.Validate(); err != nil {
		return false, err
	}
	n, err := r.queries.InsertSettingsIfMissing(ctx, settingsToRow(defaults))
	if err != nil {
		return false, fmt.Errorf("insert default settings: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Default app settings stored",
			"savings_amount_cents", defaults.SavingsAmount.Cents,
			"mode", defaults.OverflowMode)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) LoadSettings(ctx context.Context) (core.Settings, error) {
	row, err := r.queries.GetSettings(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Settings{}, ErrSettingsNotFound
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	mode, err := core.ParseOverflowMode(row.OverflowMode)
	if err != nil {
		return core.Settings{}, fmt.Errorf("stored settings: %w", err)
	}
	return core.Settings{
		IsAutomatedSavingActive: row.IsAutomatedSavingActive,
		SavingsAmount:           core.Cents(row.SavingsAmountCents),
		OverflowMode:            mode,
		SendReportsViaEmail:     row.SendReportsViaEmail,
		UserEmailAddress:        row.UserEmailAddress,
	}, nil
}

func (r *SQLiteRepository) UpdateSettings(ctx context.Context, s core.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.queries.UpsertSettings(ctx, settingsToRow(s)); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	slog.InfoContext(ctx, "App settings updated",
		"active", s.IsAutomatedSavingActive,
		"savings_amount_cents", s.SavingsAmount.Cents,
		"mode", s.OverflowMode)
	return nil
}

func settingsToRow(s core.Settings) AppSetting {
	return AppSetting{
		IsAutomatedSavingActive: s.IsAutomatedSavingActive,
		SavingsAmountCents:      s.SavingsAmount.Cents,
		OverflowMode:            string(s.OverflowMode),
		SendReportsViaEmail:     s.SendReportsViaEmail,
		UserEmailAddress:        s.UserEmailAddress,
	}
}

// CreateMoneybox adds a ranked moneybox and returns its id.
func (r *SQLiteRepository) CreateMoneybox(ctx context.Context, mb NewMoneybox) (core.MoneyboxID, error) {
	name := strings.TrimSpace(mb.Name)
	if name == "" {
		return 0, errors.New("moneybox name is required")
	}
	snapshot := core.MoneyboxSnapshot{
		Name:          name,
		SavingsAmount: mb.SavingsAmount,
		SavingsTarget: mb.SavingsTarget,
		Priority:      mb.Priority,
	}
	if err := snapshot.Validate(); err != nil {
		return 0, err
	}

	params := CreateMoneyboxParams{
		Name:               name,
		SavingsAmountCents: mb.SavingsAmount.Cents,
		Priority:           int64(mb.Priority),
	}
	if mb.SavingsTarget != nil {
		params.SavingsTargetCents = sql.NullInt64{Int64: mb.SavingsTarget.Cents, Valid: true}
	}

	id, err := r.queries.CreateMoneybox(ctx, params)
	if isConstraintError(err) {
		return 0, fmt.Errorf("%w: %d", ErrDuplicatePriority, mb.Priority)
	}
	if err != nil {
		return 0, fmt.Errorf("create moneybox: %w", err)
	}

	slog.InfoContext(ctx, "Moneybox created", "id", id, "name", name, "priority", mb.Priority)
	return core.MoneyboxID(id), nil
}

// SetMoneyboxActive activates or deactivates a ranked moneybox.
func (r *SQLiteRepository) SetMoneyboxActive(ctx context.Context, id core.MoneyboxID, active bool) error {
	n, err := r.queries.SetMoneyboxActive(ctx, int64(id), active)
	if isConstraintError(err) {
		return ErrDuplicatePriority
	}
	if err != nil {
		return fmt.Errorf("set moneybox active: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrMoneyboxNotFound, id)
	}
	return nil
}

// LoadMoneyboxes returns every moneybox, active or not, ranked ones by
// priority and the overflow moneybox last.
func (r *SQLiteRepository) LoadMoneyboxes(ctx context.Context) ([]core.MoneyboxSnapshot, error) {
	rows, err := r.queries.ListMoneyboxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list moneyboxes: %w", err)
	}
	out := make([]core.MoneyboxSnapshot, len(rows))
	for i, row := range rows {
		out[i] = moneyboxFromRow(row)
	}
	return out, nil
}

func moneyboxFromRow(row Moneybox) core.MoneyboxSnapshot {
	mb := core.MoneyboxSnapshot{
		ID:            core.MoneyboxID(row.ID),
		Name:          row.Name,
		Balance:       core.Cents(row.BalanceCents),
		SavingsAmount: core.Cents(row.SavingsAmountCents),
		IsActive:      row.IsActive,
		IsOverflow:    row.IsOverflow,
	}
	if row.SavingsTargetCents.Valid {
		mb.SavingsTarget = core.Target(core.Cents(row.SavingsTargetCents.Int64))
	}
	if row.Priority.Valid {
		mb.Priority = int(row.Priority.Int64)
	}
	return mb
}

// LastCycleMonth returns the calendar month of the latest applied or
// skipped cycle, or the zero month when no cycle has run yet.
func (r *SQLiteRepository) LastCycleMonth(ctx context.Context) (core.YearMonth, error) {
	m, err := r.queries.GetLatestCycleMonth(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.YearMonth{}, nil
	}
	if err != nil {
		return core.YearMonth{}, fmt.Errorf("get latest cycle: %w", err)
	}
	return core.ParseYearMonth(m)
}

// ApplyCycle persists balances, transactions, log entries and the cycle row
// in a single transaction. A second cycle for the same calendar month fails
// with ErrCycleAlreadyApplied and leaves the database untouched.
func (r *SQLiteRepository) ApplyCycle(ctx context.Context, rec CycleRecord) error {
	res := rec.Result
	if len(res.Allocations) == 0 {
		return errors.New("cycle result has no allocations")
	}
	month := rec.Month
	if month.IsZero() {
		month = core.MonthOf(rec.CycleDate)
	}
	cycleID := rec.ID.String()
	now := formatTime(rec.CycleDate)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	qtx := r.queries.WithTx(tx)

	err = qtx.InsertCycle(ctx, Cycle{
		ID:                 cycleID,
		CycleMonth:         month.String(),
		CycleDate:          formatTime(rec.CycleDate),
		Status:             string(CycleApplied),
		OverflowMode:       string(res.Mode),
		SavingsAmountCents: res.SavingsAmount.Cents,
		DistributableCents: res.Distributable.Cents,
		DistributedCents:   res.TotalDistributed().Cents,
		LeftoverCents:      res.Leftover.Cents,
		RedistributedCents: res.Redistributed.Cents,
	})
	if isConstraintError(err) {
		return fmt.Errorf("%w: %s", ErrCycleAlreadyApplied, month)
	}
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, a := range res.Allocations {
		end := a.EndBalance()
		if end.IsNegative() {
			return fmt.Errorf("moneybox %d: %w", a.MoneyboxID,
				&core.NegativeResultError{Op: "apply cycle", Left: a.StartBalance, Right: a.Withdrawn})
		}
		if err := qtx.InsertCycleBalance(ctx, cycleID, int64(a.MoneyboxID), end.Cents); err != nil {
			return fmt.Errorf("insert cycle balance: %w", err)
		}
		if a.Delta().IsZero() {
			continue
		}
		n, err := qtx.UpdateMoneyboxBalance(ctx, UpdateMoneyboxBalanceParams{
			ID:              int64(a.MoneyboxID),
			ExpectedCents:   a.StartBalance.Cents,
			NewBalanceCents: end.Cents,
			UpdatedAt:       now,
		})
		if err != nil {
			return fmt.Errorf("update balance of moneybox %d: %w", a.MoneyboxID, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: moneybox %d", ErrStaleSnapshot, a.MoneyboxID)
		}
	}

	for i, e := range rec.Entries {
		if isTransaction(e) {
			amount := e.Amount.Cents
			if e.Kind == cyclelog.KindOverflowWithdrawal {
				amount = -amount
			}
			if err := qtx.InsertTransaction(ctx, TransactionParams{
				CycleID:      sql.NullString{String: cycleID, Valid: true},
				MoneyboxID:   int64(e.MoneyboxID),
				AmountCents:  amount,
				BalanceCents: e.ResultingBalance.Cents,
				Description:  e.Note,
				Type:         string(TransactionDistribution),
				Trigger:      string(TriggerAutomatic),
				CreatedAt:    formatTime(e.Timestamp),
			}); err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
		}

		if err := qtx.InsertCycleLog(ctx, logToRow(cycleID, i, e)); err != nil {
			return fmt.Errorf("insert cycle log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}

	slog.InfoContext(ctx, "Cycle applied",
		"cycle_id", cycleID,
		"cycle_month", month.String(),
		"cycle_date", formatTime(rec.CycleDate),
		"mode", res.Mode,
		"distributed_cents", res.TotalDistributed().Cents,
		"leftover_cents", res.Leftover.Cents,
		"log_entries", len(rec.Entries))
	return nil
}

func isTransaction(e cyclelog.Entry) bool {
	if e.IsSummary() || e.Amount.IsZero() {
		return false
	}
	switch e.Kind {
	case cyclelog.KindDeposit, cyclelog.KindRedistribution,
		cyclelog.KindOverflowLeftover, cyclelog.KindOverflowWithdrawal:
		return true
	default:
		return false
	}
}

func logToRow(cycleID string, seq int, e cyclelog.Entry) CycleLog {
	row := CycleLog{
		CycleID:               cycleID,
		Seq:                   int64(seq),
		Kind:                  string(e.Kind),
		AmountCents:           e.Amount.Cents,
		ResultingBalanceCents: e.ResultingBalance.Cents,
		Note:                  e.Note,
		LoggedAt:              formatTime(e.Timestamp),
	}
	if e.MoneyboxID != 0 {
		row.MoneyboxID = sql.NullInt64{Int64: int64(e.MoneyboxID), Valid: true}
	}
	return row
}

// SkipCycle records a calendar month as handled without moving money, so it
// is never planned again.
func (r *SQLiteRepository) SkipCycle(ctx context.Context, month core.YearMonth, cycleDate time.Time, mode core.OverflowMode, reason string) error {
	id := cyclelog.CycleID(month)
	err := r.queries.InsertCycle(ctx, Cycle{
		ID:           id.String(),
		CycleMonth:   month.String(),
		CycleDate:    formatTime(cycleDate),
		Status:       string(CycleSkipped),
		OverflowMode: string(mode),
		Note:         reason,
		ReportSent:   true,
	})
	if isConstraintError(err) {
		return fmt.Errorf("%w: %s", ErrCycleAlreadyApplied, month)
	}
	if err != nil {
		return fmt.Errorf("insert skipped cycle: %w", err)
	}

	slog.InfoContext(ctx, "Cycle skipped", "cycle_id", id, "cycle_month", month.String(), "reason", reason)
	return nil
}

// GetCycle returns the stored summary of a cycle.
func (r *SQLiteRepository) GetCycle(ctx context.Context, id uuid.UUID) (CycleSummary, error) {
	row, err := r.queries.GetCycle(ctx, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return CycleSummary{}, fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	if err != nil {
		return CycleSummary{}, fmt.Errorf("get cycle: %w", err)
	}
	return cycleFromRow(row)
}

// ListCycles returns the latest cycles, newest first.
func (r *SQLiteRepository) ListCycles(ctx context.Context, limit int) ([]CycleSummary, error) {
	rows, err := r.queries.ListCycles(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	out := make([]CycleSummary, 0, len(rows))
	for _, row := range rows {
		c, err := cycleFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetCycleReport loads a cycle with its log entries, the balances it left
// behind and the current settings.
func (r *SQLiteRepository) GetCycleReport(ctx context.Context, id uuid.UUID) (CycleReport, error) {
	cycle, err := r.GetCycle(ctx, id)
	if err != nil {
		return CycleReport{}, err
	}

	rows, err := r.queries.ListCycleLogs(ctx, id.String())
	if err != nil {
		return CycleReport{}, fmt.Errorf("list cycle logs: %w", err)
	}
	entries := make([]cyclelog.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := logFromRow(row)
		if err != nil {
			return CycleReport{}, err
		}
		entries = append(entries, e)
	}

	mbRows, err := r.queries.ListCycleMoneyboxes(ctx, id.String())
	if err != nil {
		return CycleReport{}, fmt.Errorf("list cycle balances: %w", err)
	}
	moneyboxes := make([]core.MoneyboxSnapshot, len(mbRows))
	for i, row := range mbRows {
		moneyboxes[i] = moneyboxFromRow(row)
	}
	settings, err := r.LoadSettings(ctx)
	if err != nil {
		return CycleReport{}, err
	}

	return CycleReport{
		Cycle:      cycle,
		Entries:    entries,
		Moneyboxes: moneyboxes,
		Settings:   settings,
	}, nil
}

// ListPendingReports returns applied cycles whose report was not sent yet,
// oldest first.
func (r *SQLiteRepository) ListPendingReports(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.queries.ListPendingReports(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending reports: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, s := range rows {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse cycle id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *SQLiteRepository) MarkReportSent(ctx context.Context, id uuid.UUID) error {
	n, err := r.queries.MarkReportSent(ctx, id.String())
	if err != nil {
		return fmt.Errorf("mark report sent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	slog.InfoContext(ctx, "Cycle report marked as sent", "cycle_id", id)
	return nil
}

func cycleFromRow(row Cycle) (CycleSummary, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("parse cycle id %q: %w", row.ID, err)
	}
	month, err := core.ParseYearMonth(row.CycleMonth)
	if err != nil {
		return CycleSummary{}, err
	}
	date, err := parseTime(row.CycleDate)
	if err != nil {
		return CycleSummary{}, err
	}
	return CycleSummary{
		ID:            id,
		Month:         month,
		CycleDate:     date,
		Status:        CycleStatus(row.Status),
		Mode:          core.OverflowMode(row.OverflowMode),
		SavingsAmount: core.Cents(row.SavingsAmountCents),
		Distributable: core.Cents(row.DistributableCents),
		Distributed:   core.Cents(row.DistributedCents),
		Leftover:      core.Cents(row.LeftoverCents),
		Redistributed: core.Cents(row.RedistributedCents),
		Note:          row.Note,
		ReportSent:    row.ReportSent,
	}, nil
}

func logFromRow(row CycleLog) (cyclelog.Entry, error) {
	id, err := uuid.Parse(row.CycleID)
	if err != nil {
		return cyclelog.Entry{}, fmt.Errorf("parse cycle id %q: %w", row.CycleID, err)
	}
	ts, err := parseTime(row.LoggedAt)
	if err != nil {
		return cyclelog.Entry{}, err
	}
	return cyclelog.Entry{
		CycleID:          id,
		MoneyboxID:       core.MoneyboxID(row.MoneyboxID.Int64),
		Kind:             cyclelog.Kind(row.Kind),
		Amount:           core.Cents(row.AmountCents),
		ResultingBalance: core.Cents(row.ResultingBalanceCents),
		Timestamp:        ts,
		Note:             row.Note,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
