// Package audit persists abuse events. Sinks implement service.AbuseEventSink
// and are combined with MultiSink; the guard's dispatcher calls them off the
// request path.
package audit

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
)

// GormEventRepository stores abuse events in the abuse_events table.
type GormEventRepository struct {
	db *gorm.DB
}

var _ service.AbuseEventSink = (*GormEventRepository)(nil)

// NewGormEventRepository creates a new GormEventRepository.
func NewGormEventRepository(db *gorm.DB) *GormEventRepository {
	return &GormEventRepository{db: db}
}

// Record inserts event.
func (r *GormEventRepository) Record(ctx context.Context, event *models.AbuseEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListRecent returns up to limit events, newest first. An empty action
// matches every action.
func (r *GormEventRepository) ListRecent(ctx context.Context, limit int, action string) ([]models.AbuseEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var events []models.AbuseEvent
	err := q.Find(&events).Error
	return events, err
}

// PruneOlderThan deletes events created before cutoff and returns how many
// rows were removed.
func (r *GormEventRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&models.AbuseEvent{})
	return res.RowsAffected, res.Error
}
