package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"moneyboxes/internal/core"
)

// CycleCompletedMessage announces a persisted cycle. It carries the cycle id
// and a few totals; consumers read the full report from the database.
type CycleCompletedMessage struct {
	CycleID          uuid.UUID         `json:"cycle_id"`
	CycleDate        time.Time         `json:"cycle_date"`
	Mode             core.OverflowMode `json:"mode"`
	DistributedCents int64             `json:"distributed_cents"`
	LeftoverCents    int64             `json:"leftover_cents"`
	Timestamp        time.Time         `json:"timestamp"`
}

// NewCycleCompletedMessage creates a message stamped with the current time
func NewCycleCompletedMessage(id uuid.UUID, cycleDate time.Time, mode core.OverflowMode, distributed, leftover core.Money) *CycleCompletedMessage {
	return &CycleCompletedMessage{
		CycleID:          id,
		CycleDate:        cycleDate.UTC(),
		Mode:             mode,
		DistributedCents: distributed.Cents,
		LeftoverCents:    leftover.Cents,
		Timestamp:        time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CycleCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CycleCompletedMessageFromJSON creates a message from JSON bytes
func CycleCompletedMessageFromJSON(data []byte) (*CycleCompletedMessage, error) {
	var msg CycleCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.CycleID == uuid.Nil {
		return nil, errors.New("missing cycle_id")
	}
	return &msg, nil
}
