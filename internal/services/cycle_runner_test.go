package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneyboxes/internal/amqp"
	"moneyboxes/internal/core"
	"moneyboxes/internal/cyclelog"
	"moneyboxes/internal/log"
	"moneyboxes/internal/storage"
)

type skippedCycle struct {
	month  core.YearMonth
	date   time.Time
	reason string
}

type fakeStore struct {
	settings   core.Settings
	moneyboxes []core.MoneyboxSnapshot
	last       core.YearMonth
	applied    []storage.CycleRecord
	skipped    []skippedCycle
	applyErr   error
}

func (s *fakeStore) LoadSettings(context.Context) (core.Settings, error) {
	return s.settings, nil
}

func (s *fakeStore) LoadMoneyboxes(context.Context) ([]core.MoneyboxSnapshot, error) {
	return append([]core.MoneyboxSnapshot(nil), s.moneyboxes...), nil
}

func (s *fakeStore) LastCycleMonth(context.Context) (core.YearMonth, error) {
	return s.last, nil
}

func (s *fakeStore) handled(month core.YearMonth) bool {
	for _, rec := range s.applied {
		if rec.Month == month {
			return true
		}
	}
	for _, sk := range s.skipped {
		if sk.month == month {
			return true
		}
	}
	return false
}

func (s *fakeStore) ApplyCycle(_ context.Context, rec storage.CycleRecord) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	if s.handled(rec.Month) {
		return storage.ErrCycleAlreadyApplied
	}
	balances := rec.Result.Balances()
	for i, mb := range s.moneyboxes {
		if b, ok := balances[mb.ID]; ok {
			s.moneyboxes[i].Balance = b
		}
	}
	s.applied = append(s.applied, rec)
	s.last = rec.Month
	return nil
}

func (s *fakeStore) SkipCycle(_ context.Context, month core.YearMonth, date time.Time, _ core.OverflowMode, reason string) error {
	if s.handled(month) {
		return storage.ErrCycleAlreadyApplied
	}
	s.skipped = append(s.skipped, skippedCycle{month: month, date: date, reason: reason})
	s.last = month
	return nil
}

type fakePublisher struct {
	messages []*amqp.CycleCompletedMessage
	err      error
}

func (p *fakePublisher) PublishCycleCompleted(_ context.Context, msg *amqp.CycleCompletedMessage) error {
	p.messages = append(p.messages, msg)
	return p.err
}

func newFakeStore(amount int64) *fakeStore {
	return &fakeStore{
		settings: core.Settings{
			IsAutomatedSavingActive: true,
			SavingsAmount:           core.Cents(amount),
			OverflowMode:            core.ModeCollect,
		},
		moneyboxes: []core.MoneyboxSnapshot{
			{ID: 1, Name: "Overflow Moneybox", IsActive: true, IsOverflow: true},
			{ID: 2, Name: "Holiday", SavingsAmount: core.Cents(100), Priority: 1, IsActive: true},
		},
		last: core.YearMonth{Year: 2025, Month: time.January},
	}
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func TestCycleRunner_CatchesUpInOrder(t *testing.T) {
	store := newFakeStore(150)
	pub := &fakePublisher{}
	runner := NewCycleRunner(store, pub, RunnerOptions{Hour: 12}, quietLogger())

	n, err := runner.RunDue(context.Background(), time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, store.applied, 3)
	for i, rec := range store.applied {
		want := time.Date(2025, time.Month(2+i), 1, 12, 0, 0, 0, time.UTC)
		assert.True(t, rec.CycleDate.Equal(want))
		assert.Equal(t, cyclelog.CycleID(core.MonthOf(want)), rec.ID)
		assert.Equal(t, core.MonthOf(want), rec.Month)
		assert.NotEmpty(t, rec.Entries)
	}

	// each cycle ran on the balances of the previous one
	assert.Equal(t, core.Cents(150), store.moneyboxes[0].Balance)
	assert.Equal(t, core.Cents(300), store.moneyboxes[1].Balance)

	require.Len(t, pub.messages, 3)
	assert.Equal(t, store.applied[2].ID, pub.messages[2].CycleID)
	assert.Equal(t, int64(100), pub.messages[2].DistributedCents)
	assert.Equal(t, int64(50), pub.messages[2].LeftoverCents)

	n, err = runner.RunDue(context.Background(), time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due twice")
}

func TestCycleRunner_InactiveRecordsSkips(t *testing.T) {
	store := newFakeStore(150)
	store.settings.IsAutomatedSavingActive = false
	pub := &fakePublisher{}
	runner := NewCycleRunner(store, pub, RunnerOptions{Hour: 12}, quietLogger())

	n, err := runner.RunDue(context.Background(), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.applied)
	assert.Empty(t, pub.messages)
	require.Len(t, store.skipped, 2)
	assert.Equal(t, "automated saving inactive", store.skipped[0].reason)

	// reactivating does not backfill the inactive months
	store.settings.IsAutomatedSavingActive = true
	n, err = runner.RunDue(context.Background(), time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCycleRunner_PlannedSkip(t *testing.T) {
	store := newFakeStore(150)
	runner := NewCycleRunner(store, nil, RunnerOptions{
		Hour:  12,
		Skips: map[core.YearMonth]struct{}{{Year: 2025, Month: time.February}: {}},
	}, quietLogger())

	n, err := runner.RunDue(context.Background(), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.skipped, 1)
	assert.Equal(t, time.February, store.skipped[0].date.Month())
	require.Len(t, store.applied, 1)
	assert.Equal(t, time.March, store.applied[0].CycleDate.Month())
}

func TestCycleRunner_ChangedHourDoesNotRepeatMonth(t *testing.T) {
	store := newFakeStore(150)
	pub := &fakePublisher{}

	noon := NewCycleRunner(store, pub, RunnerOptions{Hour: 12}, quietLogger())
	n, err := noon.RunDue(context.Background(), time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	evening := NewCycleRunner(store, pub, RunnerOptions{Hour: 18}, quietLogger())
	n, err = evening.RunDue(context.Background(), time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n, "March already ran at noon")
	assert.Len(t, store.applied, 2)
	assert.Equal(t, core.Cents(200), store.moneyboxes[1].Balance)

	n, err = evening.RunDue(context.Background(), time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.applied[2].CycleDate.Equal(time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC)))
}

func TestCycleRunner_AlreadyAppliedIsNotFatal(t *testing.T) {
	store := newFakeStore(150)
	store.applyErr = storage.ErrCycleAlreadyApplied
	pub := &fakePublisher{}
	runner := NewCycleRunner(store, pub, RunnerOptions{Hour: 12}, quietLogger())

	n, err := runner.RunDue(context.Background(), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.messages)
}

func TestCycleRunner_EngineErrorsAreReturned(t *testing.T) {
	store := newFakeStore(150)
	store.moneyboxes = store.moneyboxes[1:]
	runner := NewCycleRunner(store, nil, RunnerOptions{Hour: 12}, quietLogger())

	n, err := runner.RunDue(context.Background(), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.Zero(t, n)
	var inconsistent *core.InconsistentStateError
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, 0, inconsistent.OverflowCount)
	assert.Empty(t, store.applied)
}

func TestCycleRunner_PublishFailureKeepsCycle(t *testing.T) {
	store := newFakeStore(150)
	pub := &fakePublisher{err: errors.New("broker down")}
	runner := NewCycleRunner(store, pub, RunnerOptions{Hour: 12}, quietLogger())

	n, err := runner.RunDue(context.Background(), time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.applied, 1)
	assert.Len(t, pub.messages, 1)
}

func TestCycleRunner_CancelledContext(t *testing.T) {
	store := newFakeStore(150)
	runner := NewCycleRunner(store, nil, RunnerOptions{Hour: 12}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.RunDue(ctx, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.applied)
}

func TestCycleRunner_NotInitialized(t *testing.T) {
	runner := &CycleRunner{}
	_, err := runner.RunDue(context.Background(), time.Now())
	assert.Error(t, err)
}
