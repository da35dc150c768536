// Package services – TrackService
//
// This file implements the ingestion side of the analytics pipeline: batches
// of client-reported events arrive over HTTP, get sanitized and enriched with
// server-derived metadata, and are persisted append-only. Server-emitted
// lifecycle events take the other path (internal/track.Tracker); both end up
// in the same table.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/giftghost/go-insight-backend/internal/domain"
	"github.com/giftghost/go-insight-backend/internal/repo"
	"github.com/giftghost/go-insight-backend/internal/track"
)

// IngestEvent is one client-reported event plus the enrichment derived from
// the carrying HTTP request. Correlation ids may be empty; the handler fills
// them from the cookies when the payload omits them.
type IngestEvent struct {
	Name        string
	Properties  map[string]any
	Timestamp   time.Time
	SessionID   string
	AnonymousID string

	UserAgent  string
	DeviceType string
	Browser    string
	OS         string
	IPHash     string
}

// TrackService persists ingested analytics batches.
type TrackService struct {
	DB  *gorm.DB
	Log zerolog.Logger

	now func() time.Time
}

// Ingest sanitizes and stores a batch of client events in one insert,
// returning the number of rows written. Events with an empty name are
// skipped, not rejected: a partially malformed batch still lands the good
// events. A zero timestamp is replaced with the ingestion time.
func (s *TrackService) Ingest(ctx context.Context, events []IngestEvent) (int, error) {
	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	received := clock()

	rows := make([]domain.TrackEvent, 0, len(events))
	for _, ev := range events {
		if ev.Name == "" {
			s.Log.Debug().Msg("unnamed tracking event skipped")
			continue
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = received
		}
		rows = append(rows, domain.TrackEvent{
			Name:        ev.Name,
			Properties:  track.SerializeProperties(track.SanitizeProperties(ev.Properties)),
			Timestamp:   ts,
			SessionID:   ev.SessionID,
			AnonymousID: ev.AnonymousID,
			UserAgent:   ev.UserAgent,
			DeviceType:  ev.DeviceType,
			Browser:     ev.Browser,
			OS:          ev.OS,
			IPHash:      ev.IPHash,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return repo.InsertEvents(ctx, s.DB, rows)
}
