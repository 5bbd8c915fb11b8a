package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/turtacn/abuseguard/pkg/logger"
)

// Pruner deletes events older than a cutoff.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneRecorder receives the number of rows removed by each run.
type PruneRecorder interface {
	RecordPruned(n int64)
}

// RetentionJob periodically deletes abuse events past their retention period.
type RetentionJob struct {
	Cron *cron.Cron

	pruner    Pruner
	retention time.Duration
	recorder  PruneRecorder
	logger    logger.Logger
	now       func() time.Time
}

// NewRetentionJob schedules pruning on schedule (standard cron spec or a
// descriptor such as "@daily"). retentionDays <= 0 disables the job.
func NewRetentionJob(pruner Pruner, retentionDays int, schedule string, recorder PruneRecorder, log logger.Logger) (*RetentionJob, error) {
	j := &RetentionJob{
		Cron:      cron.New(),
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		recorder:  recorder,
		logger:    log.WithComponent("retention"),
		now:       time.Now,
	}
	if retentionDays <= 0 {
		return j, nil
	}
	if _, err := j.Cron.AddFunc(schedule, func() {
		_, _ = j.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce prunes immediately.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-j.retention)
	n, err := j.pruner.PruneOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error(ctx, "Failed to prune abuse events", err)
		return 0, err
	}
	if j.recorder != nil {
		j.recorder.RecordPruned(n)
	}
	j.logger.Info(ctx, "Pruned abuse events", logger.Int64("deleted", n), logger.String("cutoff", cutoff.Format(time.RFC3339)))
	return n, nil
}

// Start runs the scheduler in the background.
func (j *RetentionJob) Start() { j.Cron.Start() }

// Stop stops the scheduler and waits for a running prune or ctx.
func (j *RetentionJob) Stop(ctx context.Context) {
	select {
	case <-j.Cron.Stop().Done():
	case <-ctx.Done():
	}
}
