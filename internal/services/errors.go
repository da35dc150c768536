// Package services defines the business logic for insight generation,
// trace/session lifecycle, and feedback. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrEmptyInput is returned when a generation request contains no content.
	ErrEmptyInput = errors.New("input content is empty")

	// ErrInputTooLong is returned when a generation request exceeds the
	// maximum configured input length.
	ErrInputTooLong = errors.New("input content too long")

	// ErrSessionNotFound indicates that no session exists for the given
	// trace id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidFeedback is returned when a feedback type is outside the
	// allowed set (currently "like" or "dislike").
	ErrInvalidFeedback = errors.New("feedback type must be like or dislike")

	// ErrQuotaUnavailable is returned when the admission decision could not
	// be made because the counter store was unreachable. Per the fail-closed
	// policy the request is denied, but callers should surface this as an
	// infrastructure failure rather than a quota rejection.
	ErrQuotaUnavailable = errors.New("quota check unavailable")
)
