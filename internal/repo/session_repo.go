// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// InsightSession model.
//
// The repository follows a "thin" approach: it performs persistence and
// simple query composition, leaving business rules to the services package.
//
// State-machine enforcement happens here: the terminal transitions use
// UPDATE ... WHERE status = 'processing', so a session already completed or
// failed is never overwritten. The boolean return tells the service whether
// the transition was applied, letting it log duplicate invocations as
// anomalies instead of corrupting terminal rows.
//
// Error semantics:
//   - When a session is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On other DB errors, the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// SessionCompletion carries the result fields written when a session reaches
// the completed state.
type SessionCompletion struct {
	Persona        string
	PainPoint      string
	Obsession      string
	GiftItem       string
	GiftReason     string
	GiftPriceRange string
	GiftBuyLink    string
	ResponseTimeMs int64
}

// CreateSession inserts a new processing-state session row. The primary key
// is a fresh UUID; TraceID must be supplied by the caller (it is minted at
// admission time so the client can tag events before the row lands).
//
// On success the persisted row is returned.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.InsightSession) (*domain.InsightSession, error) {
	s.ID = uuid.NewString()
	s.Status = domain.StatusProcessing
	s.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSessionByTrace fetches a single session by its trace id, or ErrNotFound.
func GetSessionByTrace(ctx context.Context, db *gorm.DB, traceID string) (*domain.InsightSession, error) {
	var s domain.InsightSession
	err := db.WithContext(ctx).
		Where("trace_id = ?", traceID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CompleteSession transitions the session for traceID from processing to
// completed, recording the result fields and elapsed time.
//
// Returns (true, nil) when the transition was applied, (false, nil) when the
// session exists but is already terminal (duplicate invocation), and
// (false, ErrNotFound) when no session carries the trace id.
func CompleteSession(ctx context.Context, db *gorm.DB, traceID string, res SessionCompletion) (bool, error) {
	upd := db.WithContext(ctx).
		Model(&domain.InsightSession{}).
		Where("trace_id = ? AND status = ?", traceID, domain.StatusProcessing).
		Updates(map[string]any{
			"status":           domain.StatusCompleted,
			"persona":          res.Persona,
			"pain_point":       res.PainPoint,
			"obsession":        res.Obsession,
			"gift_item":        res.GiftItem,
			"gift_reason":      res.GiftReason,
			"gift_price_range": res.GiftPriceRange,
			"gift_buy_link":    res.GiftBuyLink,
			"response_time_ms": res.ResponseTimeMs,
			"updated_at":       time.Now().UTC(),
		})
	return transitionOutcome(ctx, db, traceID, upd)
}

// FailSession transitions the session for traceID from processing to failed,
// recording the error message and elapsed time. Same return contract as
// CompleteSession.
func FailSession(ctx context.Context, db *gorm.DB, traceID, errorMessage string, elapsedMs int64) (bool, error) {
	upd := db.WithContext(ctx).
		Model(&domain.InsightSession{}).
		Where("trace_id = ? AND status = ?", traceID, domain.StatusProcessing).
		Updates(map[string]any{
			"status":           domain.StatusFailed,
			"error_message":    errorMessage,
			"response_time_ms": elapsedMs,
			"updated_at":       time.Now().UTC(),
		})
	return transitionOutcome(ctx, db, traceID, upd)
}

// transitionOutcome interprets a guarded terminal UPDATE: zero affected rows
// means either a duplicate transition (row exists, already terminal) or a
// missing session, and the two must be distinguishable for the caller.
func transitionOutcome(ctx context.Context, db *gorm.DB, traceID string, upd *gorm.DB) (bool, error) {
	if upd.Error != nil {
		return false, upd.Error
	}
	if upd.RowsAffected > 0 {
		return true, nil
	}
	var n int64
	if err := db.WithContext(ctx).
		Model(&domain.InsightSession{}).
		Where("trace_id = ?", traceID).
		Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// CountSessions returns the total number of session rows.
func CountSessions(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.InsightSession{}).
		Count(&total).Error
	return total, err
}

// ListSessionsPage returns a page of sessions ordered by creation time
// descending. Use CountSessions to obtain the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListSessionsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.InsightSession, error) {
	var out []domain.InsightSession
	err := db.WithContext(ctx).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
