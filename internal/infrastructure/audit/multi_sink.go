package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// MultiSink records each event to every sink. A failing sink does not stop
// the others; their errors are joined.
type MultiSink struct {
	sinks []namedSink
}

type namedSink struct {
	name string
	sink service.AbuseEventSink
}

// NewMultiSink creates an empty MultiSink.
func NewMultiSink() *MultiSink {
	return &MultiSink{}
}

// Add registers sink under name. Nil sinks are ignored.
func (m *MultiSink) Add(name string, sink service.AbuseEventSink) *MultiSink {
	if sink != nil {
		m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	}
	return m
}

// Len returns the number of registered sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

func (m *MultiSink) Record(ctx context.Context, event *models.AbuseEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Record(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
