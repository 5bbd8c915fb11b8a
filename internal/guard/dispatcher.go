package guard

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// Dispatch results reported to service.Metrics.
const (
	DispatchOK      = "ok"
	DispatchFailed  = "failed"
	DispatchDropped = "dropped"
)

// Dispatcher writes abuse events in the background. At most `concurrency`
// writes are in flight; further events are dropped and counted rather than
// queued, so a slow sink can never hold up a request.
type Dispatcher struct {
	sink    service.AbuseEventSink
	sem     *semaphore.Weighted
	timeout time.Duration
	metrics service.Metrics
	logger  logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. A nil sink turns Dispatch into a no-op.
func NewDispatcher(sink service.AbuseEventSink, concurrency int, timeout time.Duration, metrics service.Metrics, log logger.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = constants.DefaultDispatchConcurrency
	}
	if timeout <= 0 {
		timeout = constants.DefaultDispatchTimeout
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &Dispatcher{
		sink:    sink,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		metrics: metrics,
		logger:  log.WithComponent("dispatcher"),
	}
}

// Dispatch schedules event for persistence and returns immediately. The write
// keeps the values of ctx but not its cancellation. It reports whether the
// event was accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.AbuseEvent) bool {
	if d.sink == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || !d.sem.TryAcquire(1) {
		d.metrics.RecordDispatch(DispatchDropped)
		d.logger.Warn(ctx, "Abuse event dropped",
			logger.String("action", event.Action),
			logger.String("decision", event.Decision),
			logger.Bool("closed", d.closed),
		)
		return false
	}

	d.wg.Add(1)
	go d.write(context.WithoutCancel(ctx), event)
	return true
}

func (d *Dispatcher) write(ctx context.Context, event *models.AbuseEvent) {
	defer d.wg.Done()
	defer d.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordDispatch(DispatchFailed)
			d.logger.Error(ctx, "Abuse event sink panicked", nil, logger.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sink.Record(ctx, event); err != nil {
		d.metrics.RecordDispatch(DispatchFailed)
		d.logger.Error(ctx, "Failed to persist abuse event", err,
			logger.String("action", event.Action),
			logger.String("event_id", event.ID.String()),
		)
		return
	}
	d.metrics.RecordDispatch(DispatchOK)
}

// Close stops accepting events and waits for in-flight writes or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
