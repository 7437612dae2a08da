package amqp

import (
	"encoding/json"
	"time"

	"frais/internal/core"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	EventSheetOpened     = "sheet.opened"
	EventSheetClosed     = "sheet.closed"
	EventSheetValidated  = "sheet.validated"
	EventSheetReimbursed = "sheet.reimbursed"
	EventLineRefused     = "line.refused"
	EventLineDeferred    = "line.deferred"
)

// SheetEvent is published after a lifecycle transition has been committed.
// Consumers reload the sheet from the database; the payload only identifies it.
type SheetEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	VisitorID string          `json:"visitor_id"`
	Month     core.MonthKey   `json:"month"`
	State     core.SheetState `json:"state"`
	Amount    *core.Money     `json:"amount,omitempty"`
	LineID    int64           `json:"line_id,omitempty"`
	// TargetMonth is set on line.deferred.
	TargetMonth core.MonthKey `json:"target_month,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func NewSheetEvent(eventType, visitorID string, month core.MonthKey, state core.SheetState, at time.Time) *SheetEvent {
	return &SheetEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		VisitorID: visitorID,
		Month:     month,
		State:     state,
		Timestamp: at.UTC(),
	}
}

func (m *SheetEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SheetEventFromJSON(data []byte) (*SheetEvent, error) {
	var msg SheetEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RoutingKey is the event type, so consumers may bind to a subset.
func (m *SheetEvent) RoutingKey() string {
	return m.Type
}
