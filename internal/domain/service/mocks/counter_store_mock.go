package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// MockCounterStore is a mock implementation of service.CounterStore
type MockCounterStore struct {
	mock.Mock
}

func (m *MockCounterStore) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterStore) CheckDedup(ctx context.Context, key string, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, window)
	return args.Bool(0), args.Error(1)
}

var _ service.CounterStore = (*MockCounterStore)(nil)
