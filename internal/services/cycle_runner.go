package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneyboxes/internal/amqp"
	"moneyboxes/internal/catchup"
	"moneyboxes/internal/core"
	"moneyboxes/internal/cyclelog"
	"moneyboxes/internal/distribution"
	"moneyboxes/internal/log"
	"moneyboxes/internal/storage"
)

const (
	skipReasonInactive = "automated saving inactive"
	skipReasonPlanned  = "skipped by schedule"
)

// CycleStore is the persistence the runner needs.
type CycleStore interface {
	LoadSettings(ctx context.Context) (core.Settings, error)
	LoadMoneyboxes(ctx context.Context) ([]core.MoneyboxSnapshot, error)
	LastCycleMonth(ctx context.Context) (core.YearMonth, error)
	ApplyCycle(ctx context.Context, rec storage.CycleRecord) error
	SkipCycle(ctx context.Context, month core.YearMonth, cycleDate time.Time, mode core.OverflowMode, reason string) error
}

// CyclePublisher announces persisted cycles.
type CyclePublisher interface {
	PublishCycleCompleted(ctx context.Context, msg *amqp.CycleCompletedMessage) error
}

// RunnerOptions place cycle boundaries and adjust single months.
type RunnerOptions struct {
	Location  *time.Location
	Hour      int
	MaxCycles int
	Overrides map[core.YearMonth]core.Money
	Skips     map[core.YearMonth]struct{}
}

// CycleRunner executes due savings cycles. One runner owns one account's
// moneyboxes: RunDue calls are serialized and catch-up cycles run one
// after another, each on the balances the previous one left behind.
type CycleRunner struct {
	mu        sync.Mutex
	store     CycleStore
	publisher CyclePublisher
	opts      RunnerOptions
	logger    *log.Logger
}

// NewCycleRunner creates a runner. publisher may be nil.
func NewCycleRunner(store CycleStore, publisher CyclePublisher, opts RunnerOptions, logger *log.Logger) *CycleRunner {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &CycleRunner{
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger.WithComponent(log.ComponentDistribution),
	}
}

// RunDue executes every cycle due at now and returns how many were
// applied. Skipped cycles are recorded but not counted. Engine errors
// abort the remaining catch-up and are returned as they are.
func (r *CycleRunner) RunDue(ctx context.Context, now time.Time) (int, error) {
	if r.store == nil {
		return 0, errors.New("runner not properly initialized")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	settings, err := r.store.LoadSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	last, err := r.store.LastCycleMonth(ctx)
	if err != nil {
		return 0, fmt.Errorf("load last cycle: %w", err)
	}

	plan, err := catchup.Plan(last, now, catchup.Options{
		DefaultAmount: settings.SavingsAmount,
		Overrides:     r.opts.Overrides,
		Skips:         r.opts.Skips,
		Location:      r.opts.Location,
		Hour:          r.opts.Hour,
		MaxCycles:     r.opts.MaxCycles,
	})
	if err != nil {
		return 0, fmt.Errorf("plan cycles: %w", err)
	}
	if len(plan) == 0 {
		r.logger.DebugContext(ctx, "No cycle due", "now", now.Format(time.RFC3339))
		return 0, nil
	}
	if len(plan) > 1 {
		r.logger.InfoContext(ctx, "Catching up missed cycles",
			log.FieldOperation, log.OpCatchUp,
			log.FieldCount, len(plan),
			"first", plan[0].CycleDate.Format(time.RFC3339))
	}

	applied := 0
	for _, inst := range plan {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		id := cyclelog.CycleID(inst.Month())
		reason := ""
		switch {
		case !settings.IsAutomatedSavingActive:
			reason = skipReasonInactive
		case inst.Skip:
			reason = skipReasonPlanned
		}
		if reason != "" {
			err := r.store.SkipCycle(ctx, inst.Month(), inst.CycleDate, settings.OverflowMode, reason)
			if err != nil && !errors.Is(err, storage.ErrCycleAlreadyApplied) {
				return applied, fmt.Errorf("skip cycle %s: %w", inst.Month(), err)
			}
			continue
		}

		res, err := r.runCycle(ctx, id, inst, settings.OverflowMode)
		if errors.Is(err, storage.ErrCycleAlreadyApplied) {
			r.logger.WarnContext(ctx, "Cycle already applied, skipping",
				log.NewFields().WithCycle(id.String(), inst.CycleDate, settings.OverflowMode).ToSlice()...)
			continue
		}
		if err != nil {
			return applied, err
		}
		applied++

		r.publish(ctx, amqp.NewCycleCompletedMessage(id, inst.CycleDate, res.Mode, res.TotalDistributed(), res.Leftover))
	}

	return applied, nil
}

// runCycle distributes one cycle on a fresh snapshot and persists it.
func (r *CycleRunner) runCycle(ctx context.Context, id uuid.UUID, inst catchup.Instruction, mode core.OverflowMode) (distribution.Result, error) {
	start := time.Now()

	snapshots, err := r.store.LoadMoneyboxes(ctx)
	if err != nil {
		return distribution.Result{}, fmt.Errorf("load moneyboxes: %w", err)
	}
	list, err := core.PriorityListFromSnapshots(snapshots)
	if err != nil {
		return distribution.Result{}, err
	}
	res, err := distribution.Distribute(inst.Amount, list, mode)
	if err != nil {
		return distribution.Result{}, err
	}

	rec := storage.CycleRecord{
		ID:        id,
		Month:     inst.Month(),
		CycleDate: inst.CycleDate,
		Result:    res,
		Entries:   cyclelog.Build(inst.CycleDate, res),
	}
	if err := r.store.ApplyCycle(ctx, rec); err != nil {
		return distribution.Result{}, fmt.Errorf("apply cycle %s: %w", inst.Month(), err)
	}

	fields := log.NewFields().
		WithCycle(id.String(), inst.CycleDate, mode).
		WithOperation(log.OpRunCycle).
		WithDuration(start)
	fields[log.FieldAmountCents] = res.TotalDistributed().Cents
	fields[log.FieldLeftover] = res.Leftover.Cents
	r.logger.InfoContext(ctx, "Automated savings cycle done", fields.ToSlice()...)

	for _, a := range res.Ranked() {
		r.logger.DebugContext(ctx, "Moneybox allocation",
			append(log.NewFields().WithMoneybox(a.MoneyboxID, a.Received()).ToSlice(), "action", string(a.Action))...)
	}

	return res, nil
}

func (r *CycleRunner) publish(ctx context.Context, msg *amqp.CycleCompletedMessage) {
	if r.publisher == nil {
		r.logger.DebugContext(ctx, "AMQP publisher not available, report left for the pending sweep",
			log.FieldCycleID, msg.CycleID.String())
		return
	}
	// the cycle is persisted; a lost event is picked up by the pending sweep
	if err := r.publisher.PublishCycleCompleted(ctx, msg); err != nil {
		r.logger.LogError(ctx, "Failed to publish cycle completed message", err, log.OpPublish,
			log.NewFields().WithCycle(msg.CycleID.String(), msg.CycleDate, msg.Mode))
	}
}
