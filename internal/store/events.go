package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// CreateEvent appends an immutable feed event.
func (r *Repository) CreateEvent(ctx context.Context, event *models.FeedEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create feed event: %w", err)
	}
	return nil
}

// EventsByCells returns non-expired events in the cell set at the given
// resolution, newest first. Events without an expiry are always
// included. An empty eventType matches all types.
func (r *Repository) EventsByCells(
	ctx context.Context,
	resolution int,
	cells []string,
	eventType string,
	since time.Time,
	limit int,
) ([]*models.FeedEvent, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Model(&models.FeedEvent{}).
		Where(cellColumn(resolution)+" IN ?", cells).
		Where("created_at >= ?", since).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())

	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}

	var events []*models.FeedEvent
	if err := q.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to query feed events: %w", err)
	}
	return events, nil
}

// DeleteEventsBefore removes events created before the cutoff or whose
// expiry has passed. Retention cleanup calls this hourly.
func (r *Repository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Where("created_at < ? OR (expires_at IS NOT NULL AND expires_at < ?)", cutoff, now).
		Delete(&models.FeedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
