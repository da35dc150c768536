// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Feedback
// model.
//
// There is deliberately no uniqueness constraint on (trace_id): the store
// accepts repeated feedback for one trace. Hiding the control after first
// use is a UI convention, and aggregate consumers must already tolerate
// duplicate rows elsewhere in the pipeline.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/domain"
)

// CreateFeedback inserts a feedback row referencing the given session. The
// primary key and creation timestamp are assigned here; everything else is
// taken from fb as supplied by the service layer.
func CreateFeedback(ctx context.Context, db *gorm.DB, fb *domain.Feedback) error {
	fb.ID = uuid.NewString()
	fb.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(fb).Error
}

// ListFeedbackByTrace returns all feedback rows recorded for a trace,
// oldest first. An unknown trace yields an empty slice, not an error.
func ListFeedbackByTrace(ctx context.Context, db *gorm.DB, traceID string) ([]domain.Feedback, error) {
	var out []domain.Feedback
	err := db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
