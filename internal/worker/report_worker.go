package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"moneyboxes/internal/amqp"
	"moneyboxes/internal/core"
	"moneyboxes/internal/distribution"
	"moneyboxes/internal/log"
	"moneyboxes/internal/notify"
	"moneyboxes/internal/sheets"
	"moneyboxes/internal/storage"
)

// ReportStore is the persistence the report worker reads and updates.
type ReportStore interface {
	GetCycleReport(ctx context.Context, id uuid.UUID) (storage.CycleReport, error)
	ListPendingReports(ctx context.Context, limit int) ([]uuid.UUID, error)
	MarkReportSent(ctx context.Context, id uuid.UUID) error
}

// Mailer delivers rendered cycle reports.
type Mailer interface {
	Enabled() bool
	SendCycleReport(ctx context.Context, to string, r notify.Report) error
}

// ReportWorker turns persisted cycles into outbound reports: a mail to the
// saver and rows in the exported cycle log. A report is marked sent only
// after every configured output succeeded.
type ReportWorker struct {
	store     ReportStore
	mailer    Mailer
	exporter  sheets.CycleLogExporter
	batchSize int
	appName   string
	logger    *log.Logger
}

// NewReportWorker creates a worker. mailer and exporter may be nil.
func NewReportWorker(store ReportStore, mailer Mailer, exporter sheets.CycleLogExporter, batchSize int, logger *log.Logger) *ReportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ReportWorker{
		store:     store,
		mailer:    mailer,
		exporter:  exporter,
		batchSize: batchSize,
		appName:   "moneyboxes",
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleCycleCompleted processes a single cycle completed message from AMQP
func (w *ReportWorker) HandleCycleCompleted(ctx context.Context, msg *amqp.CycleCompletedMessage) error {
	w.logger.InfoContext(ctx, "Processing cycle completed message",
		log.NewFields().WithCycle(msg.CycleID.String(), msg.CycleDate, msg.Mode).ToSlice()...)

	err := w.sendReport(ctx, msg.CycleID)
	if errors.Is(err, storage.ErrCycleNotFound) {
		// nothing will ever make this message processable
		w.logger.WarnContext(ctx, "Cycle of message not found, dropping", log.FieldCycleID, msg.CycleID.String())
		return nil
	}
	return err
}

// ProcessPending sends the reports of applied cycles that have none yet,
// oldest first. It stops at the first failure so reports keep their order.
func (w *ReportWorker) ProcessPending(ctx context.Context) (int, error) {
	ids, err := w.store.ListPendingReports(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	w.logger.DebugContext(ctx, "Processing pending reports", log.FieldCount, len(ids))

	sent := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := w.sendReport(ctx, id); err != nil {
			return sent, fmt.Errorf("report for cycle %s: %w", id, err)
		}
		sent++
	}
	return sent, nil
}

func (w *ReportWorker) sendReport(ctx context.Context, id uuid.UUID) error {
	start := time.Now()

	report, err := w.store.GetCycleReport(ctx, id)
	if err != nil {
		return fmt.Errorf("load cycle report: %w", err)
	}
	fields := log.NewFields().WithCycle(id.String(), report.Cycle.CycleDate, report.Cycle.Mode)

	if report.Cycle.ReportSent {
		w.logger.DebugContext(ctx, "Report already sent", fields.ToSlice()...)
		return nil
	}
	if report.Cycle.Status != storage.CycleApplied {
		return w.store.MarkReportSent(ctx, id)
	}

	if w.exporter != nil {
		ref, err := w.exporter.AppendEntries(ctx, report.Entries)
		if err != nil {
			w.logger.LogError(ctx, "Failed to export cycle log", err, log.OpAppend, fields)
			return fmt.Errorf("export cycle log: %w", err)
		}
		w.logger.InfoContext(ctx, "Exported cycle log",
			log.FieldCycleID, id.String(),
			log.FieldSheetsRef, ref,
			log.FieldCount, len(report.Entries))
	}

	if w.shouldMail(report.Settings) {
		r := notify.Report{
			AppName:    w.appName,
			CycleDate:  report.Cycle.CycleDate,
			Moneyboxes: report.Moneyboxes,
			Forecasts:  w.forecast(ctx, report),
		}
		if err := w.mailer.SendCycleReport(ctx, report.Settings.UserEmailAddress, r); err != nil {
			return fmt.Errorf("send report mail: %w", err)
		}
	}

	if err := w.store.MarkReportSent(ctx, id); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Cycle report done", fields.WithDuration(start).ToSlice()...)
	return nil
}

func (w *ReportWorker) shouldMail(s core.Settings) bool {
	return w.mailer != nil && w.mailer.Enabled() && s.SendReportsViaEmail && s.UserEmailAddress != ""
}

// forecast computes target hints for the mail. Failures only cost the hints.
func (w *ReportWorker) forecast(ctx context.Context, report storage.CycleReport) []distribution.MoneyboxForecast {
	list, err := core.PriorityListFromSnapshots(report.Moneyboxes)
	if err != nil {
		w.logger.WarnContext(ctx, "Cannot build priority list for forecast", log.FieldError, err.Error())
		return nil
	}
	fc, err := distribution.Forecast(list, report.Settings.SavingsAmount, report.Settings.OverflowMode, 0)
	if err != nil {
		w.logger.WarnContext(ctx, "Forecast failed", log.FieldError, err.Error())
		return nil
	}
	return fc
}
