package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// MockMetrics is a mock implementation of service.Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordDecision(action, outcome, reason, mode string) {
	m.Called(action, outcome, reason, mode)
}

func (m *MockMetrics) RecordStoreUnavailable(operation string) {
	m.Called(operation)
}

func (m *MockMetrics) RecordDispatch(result string) {
	m.Called(result)
}

func (m *MockMetrics) ObserveEvaluation(action string, duration time.Duration) {
	m.Called(action, duration)
}

var _ service.Metrics = (*MockMetrics)(nil)
