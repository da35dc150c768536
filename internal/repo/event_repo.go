// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the append-only
// TrackEvent model.
//
// Events are never updated or deleted by this layer. Duplicates are expected
// (the pipeline is at-least-once) and no uniqueness is enforced.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/domain"
)

// InsertEvents batch-inserts tracking events and returns how many rows were
// written. IDs and the server-side ReceivedAt are assigned here for any event
// that lacks them.
func InsertEvents(ctx context.Context, db *gorm.DB, events []domain.TrackEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].ReceivedAt.IsZero() {
			events[i].ReceivedAt = now
		}
	}
	if err := db.WithContext(ctx).CreateInBatches(events, 100).Error; err != nil {
		return 0, err
	}
	return len(events), nil
}

// ListEventsBySession returns events tagged with sessionID ordered by
// producer timestamp ascending, capped at limit rows. An empty sessionID
// matches nothing by construction (events are only stored with non-empty
// session tags from cookies or producer defaults).
func ListEventsBySession(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.TrackEvent, error) {
	if sessionID == "" {
		return []domain.TrackEvent{}, nil
	}
	var out []domain.TrackEvent
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
