package audit

import (
	"context"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// EventLogSink appends events to the capped operational log in the counter
// store.
type EventLogSink struct {
	log service.EventLog
}

// NewEventLogSink creates an EventLogSink.
func NewEventLogSink(log service.EventLog) *EventLogSink {
	return &EventLogSink{log: log}
}

func (s *EventLogSink) Record(ctx context.Context, event *models.AbuseEvent) error {
	return s.log.AppendEvent(ctx, service.EventLogEntry{
		Action:        event.Action,
		Decision:      event.Decision,
		Reason:        event.Reason,
		TriggeredRule: event.TriggeredRule,
		CurrentCount:  event.CurrentCount,
		Limit:         event.Limit,
		Mode:          event.Mode,
		UserID:        event.UserID,
		At:            event.CreatedAt,
	})
}
