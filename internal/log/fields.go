package log

import (
	"time"

	"moneyboxes/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldCycleID     = "cycle_id"
	FieldCycleDate   = "cycle_date"
	FieldMode        = "mode"
	FieldMoneyboxID  = "moneybox_id"
	FieldAmountCents = "amount_cents"
	FieldLeftover    = "leftover_cents"
	FieldCount       = "count"
	FieldSheetsRef   = "sheets_ref"
	FieldRecipient   = "recipient"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentDistribution = "distribution"
	ComponentScheduler    = "scheduler"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentNotify       = "notify"
	ComponentSheets       = "sheets"
	ComponentWorker       = "worker"
)

// Operations defines standard operation names
const (
	OpRunCycle  = "run_cycle"
	OpSkipCycle = "skip_cycle"
	OpCatchUp   = "catch_up"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpSendMail  = "send_mail"
	OpAppend    = "append"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithCycle adds the cycle identity and its mode
func (f LogFields) WithCycle(cycleID string, cycleDate time.Time, mode core.OverflowMode) LogFields {
	f[FieldCycleID] = cycleID
	f[FieldCycleDate] = cycleDate.Format(time.RFC3339)
	f[FieldMode] = string(mode)
	return f
}

// WithMoneybox adds a moneybox id and an amount
func (f LogFields) WithMoneybox(id core.MoneyboxID, amount core.Money) LogFields {
	f[FieldMoneyboxID] = int64(id)
	f[FieldAmountCents] = amount.Cents
	return f
}

// WithDuration adds the elapsed time since start
func (f LogFields) WithDuration(start time.Time) LogFields {
	f[FieldDuration] = time.Since(start).Milliseconds()
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
