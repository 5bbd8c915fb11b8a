package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// MockAbuseEventSink is a mock implementation of service.AbuseEventSink
type MockAbuseEventSink struct {
	mock.Mock
}

func (m *MockAbuseEventSink) Record(ctx context.Context, event *models.AbuseEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

var _ service.AbuseEventSink = (*MockAbuseEventSink)(nil)
