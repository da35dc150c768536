// Package domain defines the persistence models for insight sessions,
// feedback, tracking events, and rate-limit counters. These types are mapped
// with GORM and form the core data layer of the request-governance backend.
package domain

import (
	"time"
)

// Session status values. A session only ever moves forward:
// processing → completed or processing → failed. Terminal rows are never
// re-opened; a retried generation mints a new trace id.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Feedback type values.
const (
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
)

// InsightSession represents one "describe recipient → get recommendation"
// attempt, correlated across client and server by its trace id.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - TraceID: correlation id minted at admission; unique, one row per attempt.
//   - SessionID / AnonymousID: browser-session and device identifiers copied
//     from the correlation cookies at creation time.
//   - InputMode / InputPreview / InputLength / Locale: what the caller asked
//     for. Only a truncated preview of the input is stored to bound storage.
//   - Status: processing | completed | failed (enforced by DB constraint).
//   - Persona / PainPoint / Obsession / Gift*: result fields, populated on
//     completion only.
//   - ResponseTimeMs / ErrorMessage: outcome metadata for the terminal state.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type InsightSession struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	TraceID     string `json:"trace_id"     gorm:"type:char(36);not null;uniqueIndex:ux_sessions_trace"`
	SessionID   string `json:"session_id"   gorm:"type:varchar(64);index"`
	AnonymousID string `json:"anonymous_id" gorm:"type:varchar(64);index"`

	InputMode    string `json:"input_mode"    gorm:"type:varchar(32);not null"`
	InputPreview string `json:"input_preview" gorm:"type:varchar(255)"`
	InputLength  int    `json:"input_length"  gorm:"not null;default:0"`
	Locale       string `json:"locale"        gorm:"type:varchar(16)"`

	Status string `json:"status" gorm:"type:varchar(16);not null;default:'processing';check:status IN ('processing','completed','failed')"`

	Persona        string `json:"persona,omitempty"          gorm:"type:varchar(255)"`
	PainPoint      string `json:"pain_point,omitempty"       gorm:"type:text"`
	Obsession      string `json:"obsession,omitempty"        gorm:"type:text"`
	GiftItem       string `json:"gift_item,omitempty"        gorm:"type:varchar(255)"`
	GiftReason     string `json:"gift_reason,omitempty"      gorm:"type:text"`
	GiftPriceRange string `json:"gift_price_range,omitempty" gorm:"type:varchar(64)"`
	GiftBuyLink    string `json:"gift_buy_link,omitempty"    gorm:"type:text"`

	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for InsightSession.
func (InsightSession) TableName() string { return "insight_sessions" }

// Terminal reports whether the session has reached a final state.
func (s InsightSession) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Feedback represents a like/dislike judgment attached to a completed trace.
// The store deliberately accepts more than one row per trace: dedupe is a UI
// convention, and downstream consumers already tolerate duplicates.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - TraceID: the rated trace (indexed, not unique).
//   - SessionRowID: foreign key to the insight_sessions row.
//   - FeedbackType: "like" or "dislike" (enforced by DB constraint).
//   - FeedbackScore / FeedbackReason: optional refinement of the judgment.
//   - ResultSnapshot: opaque JSON copy of what the user saw when rating.
//   - DeviceType / SessionID / AnonymousID: correlation metadata.
type Feedback struct {
	ID           string `json:"id"             gorm:"type:char(36);primaryKey"`
	TraceID      string `json:"trace_id"       gorm:"type:char(36);not null;index"`
	SessionRowID string `json:"ai_session_id"  gorm:"column:ai_session_id;type:char(36);not null;index"`

	FeedbackType   string `json:"feedback_type"             gorm:"type:varchar(16);not null;check:feedback_type IN ('like','dislike')"`
	FeedbackScore  *int   `json:"feedback_score,omitempty"`
	FeedbackReason string `json:"feedback_reason,omitempty" gorm:"type:text"`
	ResultSnapshot string `json:"result_snapshot,omitempty" gorm:"type:text"`

	DeviceType  string    `json:"device_type"  gorm:"type:varchar(16)"`
	SessionID   string    `json:"session_id"   gorm:"type:varchar(64)"`
	AnonymousID string    `json:"anonymous_id" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"`

	// Session is the rated attempt. Feedback is cascade-deleted if the
	// underlying session row is removed.
	Session InsightSession `json:"-" gorm:"foreignKey:SessionRowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "user_feedback" }

// TrackEvent is one append-only analytics event. Rows have no uniqueness
// constraint: the pipeline is at-least-once, so duplicates from retried
// delivery are expected and tolerated.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Name: event name (e.g. "page_view", "generation_completed").
//   - Properties: sanitized JSON payload as supplied by the producer.
//   - Timestamp: producer-side occurrence time.
//   - SessionID / AnonymousID: correlation identifiers from the producer.
//   - UserAgent / DeviceType / Browser / OS / IPHash: server-side enrichment;
//     the IP is anonymized before storage (first two octets only).
//   - ReceivedAt: server-side ingestion time.
type TrackEvent struct {
	ID         string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name       string    `json:"name"       gorm:"type:varchar(128);not null;index"`
	Properties string    `json:"properties" gorm:"type:text"`
	Timestamp  time.Time `json:"timestamp"  gorm:"index"`

	SessionID   string `json:"session_id"   gorm:"type:varchar(64);index"`
	AnonymousID string `json:"anonymous_id" gorm:"type:varchar(64);index"`

	UserAgent  string `json:"user_agent,omitempty" gorm:"type:varchar(500)"`
	DeviceType string `json:"device_type"          gorm:"type:varchar(16)"`
	Browser    string `json:"browser"              gorm:"type:varchar(32)"`
	OS         string `json:"os"                   gorm:"type:varchar(32)"`
	IPHash     string `json:"ip_hash,omitempty"    gorm:"type:varchar(64)"`

	ReceivedAt time.Time `json:"received_at"`
}

// TableName returns the database table name for TrackEvent.
func (TrackEvent) TableName() string { return "tracking_events" }

// RateLimitCounter is the durable per-(key, day) request counter backing the
// daily quota. The count is monotonically non-decreasing within a day; a new
// calendar day simply gets a new row, so "reset at midnight" needs no writes.
//
// The (key, date) pair is unique; all increments go through an atomic
// conditional update (see repo.IncrementCounter) so concurrent requests for
// the same key cannot overshoot the limit.
type RateLimitCounter struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Key          string    `json:"key"           gorm:"type:varchar(255);not null;uniqueIndex:ux_rate_limits_key_date,priority:1"`
	Date         string    `json:"date"          gorm:"type:char(10);not null;uniqueIndex:ux_rate_limits_key_date,priority:2"`
	RequestCount int       `json:"request_count" gorm:"not null;default:0"`
	LastRequest  time.Time `json:"last_request"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for RateLimitCounter.
func (RateLimitCounter) TableName() string { return "rate_limits" }
