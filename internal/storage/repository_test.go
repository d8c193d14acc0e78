package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyboxes/internal/core"
	"moneyboxes/internal/cyclelog"
	"moneyboxes/internal/distribution"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedMoneyboxes(t *testing.T, repo *SQLiteRepository) (core.MoneyboxID, core.MoneyboxID) {
	t.Helper()
	ctx := context.Background()
	holiday, err := repo.CreateMoneybox(ctx, NewMoneybox{
		Name: "Holiday", SavingsAmount: core.Cents(10000), SavingsTarget: core.Target(core.Cents(15000)), Priority: 1,
	})
	require.NoError(t, err)
	car, err := repo.CreateMoneybox(ctx, NewMoneybox{
		Name: "Car", SavingsAmount: core.Cents(5000), Priority: 2,
	})
	require.NoError(t, err)
	return holiday, car
}

func runCycle(t *testing.T, repo *SQLiteRepository, date time.Time, amount int64, mode core.OverflowMode) CycleRecord {
	t.Helper()
	ctx := context.Background()
	snapshots, err := repo.LoadMoneyboxes(ctx)
	require.NoError(t, err)
	list, err := core.PriorityListFromSnapshots(snapshots)
	require.NoError(t, err)
	res, err := distribution.Distribute(core.Cents(amount), list, mode)
	require.NoError(t, err)
	return CycleRecord{
		ID:        cyclelog.CycleID(core.MonthOf(date)),
		Month:     core.MonthOf(date),
		CycleDate: date,
		Result:    res,
		Entries:   cyclelog.Build(date, res),
	}
}

func balances(t *testing.T, repo *SQLiteRepository) map[string]core.Money {
	t.Helper()
	snapshots, err := repo.LoadMoneyboxes(context.Background())
	require.NoError(t, err)
	out := map[string]core.Money{}
	for _, mb := range snapshots {
		out[mb.Name] = mb.Balance
	}
	return out
}

func TestRepository_MigrationSeedsOverflow(t *testing.T) {
	repo := newTestRepo(t)

	snapshots, err := repo.LoadMoneyboxes(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].IsOverflow)
	assert.True(t, snapshots[0].Balance.IsZero())

	// migrations are idempotent on reopen
	require.NoError(t, RunMigrations(filepath.Join(t.TempDir(), "other.db")))
}

func TestRepository_Settings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.LoadSettings(ctx)
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	defaults := core.Settings{IsAutomatedSavingActive: true, SavingsAmount: core.Cents(15000), OverflowMode: core.ModeCollect}
	written, err := repo.EnsureSettings(ctx, defaults)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = repo.EnsureSettings(ctx, core.Settings{OverflowMode: core.ModeEqual})
	require.NoError(t, err)
	assert.False(t, written, "existing settings must not be overwritten")

	got, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	updated := core.Settings{
		SavingsAmount:       core.Cents(2000),
		OverflowMode:        core.ModeFillLimitedMoneyboxes,
		SendReportsViaEmail: true,
		UserEmailAddress:    "saver@example.com",
	}
	require.NoError(t, repo.UpdateSettings(ctx, updated))
	got, err = repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	err = repo.UpdateSettings(ctx, core.Settings{OverflowMode: core.ModeCollect, SendReportsViaEmail: true})
	assert.ErrorIs(t, err, core.ErrMissingEmailAddress)
}

func TestRepository_CreateMoneybox(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	holiday, _ := seedMoneyboxes(t, repo)

	_, err := repo.CreateMoneybox(ctx, NewMoneybox{Name: "Clash", Priority: 1})
	assert.ErrorIs(t, err, ErrDuplicatePriority)

	_, err = repo.CreateMoneybox(ctx, NewMoneybox{Name: "  ", Priority: 5})
	assert.Error(t, err)

	// a deactivated moneybox frees its priority
	require.NoError(t, repo.SetMoneyboxActive(ctx, holiday, false))
	_, err = repo.CreateMoneybox(ctx, NewMoneybox{Name: "Replacement", Priority: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.SetMoneyboxActive(ctx, holiday, true), ErrDuplicatePriority)
	assert.ErrorIs(t, repo.SetMoneyboxActive(ctx, 999, true), ErrMoneyboxNotFound)

	snapshots, err := repo.LoadMoneyboxes(ctx)
	require.NoError(t, err)
	list, err := core.PriorityListFromSnapshots(snapshots)
	require.NoError(t, err)
	assert.Equal(t, 2, len(list.Ranked()))
	assert.Equal(t, "Replacement", list.Ranked()[0].Name)
}

func TestRepository_ApplyCycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedMoneyboxes(t, repo)

	march := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := runCycle(t, repo, march, 17000, core.ModeCollect)
	require.NoError(t, repo.ApplyCycle(ctx, rec))

	assert.Equal(t, map[string]core.Money{
		"Holiday":           core.Cents(10000),
		"Car":               core.Cents(5000),
		"Overflow Moneybox": core.Cents(2000),
	}, balances(t, repo))

	last, err := repo.LastCycleMonth(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.MonthOf(march), last)

	n, err := repo.queries.CountTransactions(ctx, rec.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	report, err := repo.GetCycleReport(ctx, rec.ID)
	require.ErrorIs(t, err, ErrSettingsNotFound)

	_, err = repo.EnsureSettings(ctx, core.Settings{OverflowMode: core.ModeCollect})
	require.NoError(t, err)
	report, err = repo.GetCycleReport(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Entries, report.Entries)
	assert.Equal(t, CycleApplied, report.Cycle.Status)
	assert.Equal(t, core.Cents(15000), report.Cycle.Distributed)
	assert.Equal(t, core.Cents(2000), report.Cycle.Leftover)
	assert.Len(t, report.Moneyboxes, 3)
}

func TestRepository_ApplyCycleTwiceFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedMoneyboxes(t, repo)

	march := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyCycle(ctx, runCycle(t, repo, march, 1000, core.ModeCollect)))
	before := balances(t, repo)

	err := repo.ApplyCycle(ctx, runCycle(t, repo, march, 1000, core.ModeCollect))
	assert.ErrorIs(t, err, ErrCycleAlreadyApplied)
	assert.Equal(t, before, balances(t, repo), "rejected cycle must not move money")
}

func TestRepository_SameMonthAtAnotherHourFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedMoneyboxes(t, repo)

	noon := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyCycle(ctx, runCycle(t, repo, noon, 1000, core.ModeCollect)))
	before := balances(t, repo)

	evening := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	err := repo.ApplyCycle(ctx, runCycle(t, repo, evening, 1000, core.ModeCollect))
	assert.ErrorIs(t, err, ErrCycleAlreadyApplied)
	assert.ErrorIs(t, repo.SkipCycle(ctx, core.MonthOf(evening), evening, core.ModeCollect, "late"), ErrCycleAlreadyApplied)
	assert.Equal(t, before, balances(t, repo))
}

func TestRepository_ReportKeepsCycleBalances(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	holiday, _ := seedMoneyboxes(t, repo)
	_, err := repo.EnsureSettings(ctx, core.Settings{OverflowMode: core.ModeCollect})
	require.NoError(t, err)

	march := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	marchRec := runCycle(t, repo, march, 17000, core.ModeCollect)
	require.NoError(t, repo.ApplyCycle(ctx, marchRec))
	april := march.AddDate(0, 1, 0)
	require.NoError(t, repo.ApplyCycle(ctx, runCycle(t, repo, april, 1000, core.ModeCollect)))
	_, err = repo.Deposit(ctx, holiday, core.Cents(99), "gift")
	require.NoError(t, err)

	report, err := repo.GetCycleReport(ctx, marchRec.ID)
	require.NoError(t, err)
	got := map[string]core.Money{}
	for _, mb := range report.Moneyboxes {
		got[mb.Name] = mb.Balance
	}
	assert.Equal(t, map[string]core.Money{
		"Holiday":           core.Cents(10000),
		"Car":               core.Cents(5000),
		"Overflow Moneybox": core.Cents(2000),
	}, got)
	assert.True(t, report.Moneyboxes[len(report.Moneyboxes)-1].IsOverflow)
}

func TestRepository_ApplyCycleStaleSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedMoneyboxes(t, repo)

	march := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	april := march.AddDate(0, 1, 0)
	stale := runCycle(t, repo, april, 1000, core.ModeCollect)
	require.NoError(t, repo.ApplyCycle(ctx, runCycle(t, repo, march, 1000, core.ModeCollect)))

	err := repo.ApplyCycle(ctx, stale)
	assert.ErrorIs(t, err, ErrStaleSnapshot)

	last, err := repo.LastCycleMonth(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.MonthOf(march), last, "failed cycle row must be rolled back")
}

func TestRepository_OverflowWithdrawalIsPersisted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedMoneyboxes(t, repo)

	march := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ApplyCycle(ctx, runCycle(t, repo, march, 20000, core.ModeCollect)))
	// Holiday 10000, Car 5000, overflow 5000

	april := march.AddDate(0, 1, 0)
	require.NoError(t, repo.ApplyCycle(ctx, runCycle(t, repo, april, 1000, core.ModeFillLimitedMoneyboxes)))
	// primary: Holiday +1000; fill: Holiday room 4000 from overflow

	assert.Equal(t, map[string]core.Money{
		"Holiday":           core.Cents(15000),
		"Car":               core.Cents(5000),
		"Overflow Moneybox": core.Cents(1000),
	}, balances(t, repo))
}

func TestRepository_SkipAndPendingReports(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedMoneyboxes(t, repo)

	feb := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	march := feb.AddDate(0, 1, 0)
	april := march.AddDate(0, 1, 0)

	require.NoError(t, repo.SkipCycle(ctx, core.MonthOf(feb), feb, core.ModeCollect, "automated saving inactive"))
	assert.ErrorIs(t, repo.SkipCycle(ctx, core.MonthOf(feb), feb, core.ModeCollect, "again"), ErrCycleAlreadyApplied)

	marchRec := runCycle(t, repo, march, 500, core.ModeCollect)
	require.NoError(t, repo.ApplyCycle(ctx, marchRec))
	aprilRec := runCycle(t, repo, april, 500, core.ModeCollect)
	require.NoError(t, repo.ApplyCycle(ctx, aprilRec))

	pending, err := repo.ListPendingReports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{marchRec.ID, aprilRec.ID}, pending)

	require.NoError(t, repo.MarkReportSent(ctx, marchRec.ID))
	pending, err = repo.ListPendingReports(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{aprilRec.ID}, pending)

	assert.ErrorIs(t, repo.MarkReportSent(ctx, cyclelog.CycleID(core.MonthOf(april.AddDate(1, 0, 0)))), ErrCycleNotFound)

	cycles, err := repo.ListCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	assert.True(t, cycles[0].CycleDate.Equal(april))
	assert.Equal(t, CycleSkipped, cycles[2].Status)
	assert.Equal(t, core.MonthOf(feb), cycles[2].Month)
	assert.Equal(t, "automated saving inactive", cycles[2].Note)

	_, err = repo.GetCycle(ctx, cyclelog.CycleID(core.YearMonth{}))
	assert.ErrorIs(t, err, ErrCycleNotFound)
}
