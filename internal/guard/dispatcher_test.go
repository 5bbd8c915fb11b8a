package guard_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/guard"
	"github.com/turtacn/abuseguard/pkg/logger"
)

type countingMetrics struct {
	ok, failed, dropped atomic.Int32
}

func (m *countingMetrics) RecordDecision(action, outcome, reason, mode string) {}
func (m *countingMetrics) RecordStoreUnavailable(operation string)             {}
func (m *countingMetrics) ObserveEvaluation(action string, d time.Duration)    {}
func (m *countingMetrics) RecordDispatch(result string) {
	switch result {
	case guard.DispatchOK:
		m.ok.Add(1)
	case guard.DispatchFailed:
		m.failed.Add(1)
	case guard.DispatchDropped:
		m.dropped.Add(1)
	}
}

type blockingSink struct {
	release chan struct{}
	seen    chan context.Context
}

func (s *blockingSink) Record(ctx context.Context, _ *models.AbuseEvent) error {
	s.seen <- ctx
	<-s.release
	return nil
}

func event() *models.AbuseEvent {
	return models.NewAbuseEvent(models.ActionVote, models.Deny(models.ReasonHardLimit), "deny")
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), seen: make(chan context.Context, 4)}
	metrics := &countingMetrics{}
	d := guard.NewDispatcher(sink, 1, time.Second, metrics, logger.NewNoopLogger())

	require.True(t, d.Dispatch(context.Background(), event()))
	<-sink.seen
	assert.False(t, d.Dispatch(context.Background(), event()))
	assert.Equal(t, int32(1), metrics.dropped.Load())

	close(sink.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(1), metrics.ok.Load())
}

func TestDispatcher_WriteOutlivesRequestContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), seen: make(chan context.Context, 1)}
	d := guard.NewDispatcher(sink, 2, time.Second, nil, logger.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, d.Dispatch(ctx, event()))
	cancel()

	writeCtx := <-sink.seen
	assert.NoError(t, writeCtx.Err())
	_, hasDeadline := writeCtx.Deadline()
	assert.True(t, hasDeadline)

	close(sink.release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_CloseRejectsAndTimesOut(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), seen: make(chan context.Context, 1)}
	metrics := &countingMetrics{}
	d := guard.NewDispatcher(sink, 2, time.Second, metrics, logger.NewNoopLogger())

	require.True(t, d.Dispatch(context.Background(), event()))
	<-sink.seen

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	assert.False(t, d.Dispatch(context.Background(), event()))

	close(sink.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(1), metrics.dropped.Load())
}

func TestDispatcher_NilSink(t *testing.T) {
	d := guard.NewDispatcher(nil, 1, time.Second, nil, logger.NewNoopLogger())
	assert.False(t, d.Dispatch(context.Background(), event()))
	assert.NoError(t, d.Close(context.Background()))
}
