// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the durable per-(key, day) counter
// operations behind the daily rate limiter.
//
// The increment path is the one place in the system where correctness under
// concurrency actually matters: two requests racing on the last quota slot
// must not both win. IncrementCounter therefore runs an upsert followed by a
// conditional UPDATE inside one transaction; the UPDATE's row count decides
// who got the slot, so a lost-update race cannot overshoot the limit.
//
// Error semantics:
//   - CounterCount returns (0, false, nil) when no row exists for the pair.
//   - On DB errors (connectivity, constraints, etc.), the raw gorm error is
//     propagated; the limiter treats any error as a fail-closed denial.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/giftghost/go-insight-backend/internal/domain"
)

// CounterCount returns the stored request count for (key, day).
// The second return value reports whether a row exists.
func CounterCount(ctx context.Context, db *gorm.DB, key, day string) (int, bool, error) {
	var row domain.RateLimitCounter
	err := db.WithContext(ctx).
		Where("key = ? AND date = ?", key, day).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.RequestCount, true, nil
}

// IncrementCounter atomically adds one to the (key, day) counter if and only
// if the current count is below limit, creating the row when absent.
//
// It returns the count after the attempt and whether the increment was
// applied. A rejected attempt leaves the stored count untouched, so
// rejections never consume quota.
func IncrementCounter(ctx context.Context, db *gorm.DB, key, day string, limit int) (count int, applied bool, err error) {
	now := time.Now().UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Seed the row if this is the first request of the day for the key.
		// DoNothing keeps concurrent creators harmless: exactly one insert
		// wins, the rest fall through to the UPDATE below.
		seed := &domain.RateLimitCounter{
			ID:           uuid.NewString(),
			Key:          key,
			Date:         day,
			RequestCount: 0,
			LastRequest:  now,
			CreatedAt:    now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}, {Name: "date"}},
			DoNothing: true,
		}).Create(seed).Error; err != nil {
			return err
		}

		res := tx.Model(&domain.RateLimitCounter{}).
			Where("key = ? AND date = ? AND request_count < ?", key, day, limit).
			Updates(map[string]any{
				"request_count": gorm.Expr("request_count + 1"),
				"last_request":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1

		var row domain.RateLimitCounter
		if err := tx.Where("key = ? AND date = ?", key, day).First(&row).Error; err != nil {
			return err
		}
		count = row.RequestCount
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, applied, nil
}
