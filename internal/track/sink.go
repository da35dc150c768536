// Package track — storage-backed sink.
package track

import (
	"context"

	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/domain"
	"github.com/giftghost/go-insight-backend/internal/repo"
)

// StoreSink delivers batches straight into the tracking_events table. This is
// the server-side delivery path; browser clients go through the ingestion
// endpoint instead.
type StoreSink struct {
	DB *gorm.DB
}

// Deliver writes the batch in one insert. Any error re-queues the whole batch
// upstream, so a duplicate insert after a partially failed attempt is
// possible and acceptable (at-least-once).
func (s StoreSink) Deliver(ctx context.Context, events []Event) error {
	rows := make([]domain.TrackEvent, 0, len(events))
	for _, ev := range events {
		rows = append(rows, domain.TrackEvent{
			Name:        ev.Name,
			Properties:  SerializeProperties(ev.Properties),
			Timestamp:   ev.Timestamp,
			SessionID:   ev.SessionID,
			AnonymousID: ev.AnonymousID,
			DeviceType:  "server",
		})
	}
	_, err := repo.InsertEvents(ctx, s.DB, rows)
	return err
}
