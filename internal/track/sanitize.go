// Package track implements the best-effort, batched, at-least-once analytics
// pipeline. This file contains property sanitization: arbitrary caller data
// is scrubbed before it is queued so that secrets, unserializable values, and
// oversized payloads can never break the wire format or leak into storage.
package track

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// maxPropertyChars caps the serialized size of a single property value.
// Oversized values are replaced with truncationMarker rather than rejecting
// the whole event.
const maxPropertyChars = 50000

// truncationMarker replaces property values whose serialized form exceeds
// maxPropertyChars.
const truncationMarker = "[TRUNCATED]"

// SanitizeProperties returns a scrubbed copy of props safe for serialization:
//
//   - nil values and non-serializable kinds (functions, channels) are dropped
//   - keys suggesting a secret (substring "password" or "token", case
//     insensitive) are dropped entirely
//   - composite values are deep-serialized via JSON, falling back to string
//     coercion when marshaling fails
//   - values whose serialized form exceeds maxPropertyChars are replaced with
//     the truncation marker
//
// A nil input yields an empty, non-nil map.
func SanitizeProperties(props map[string]any) map[string]any {
	sanitized := make(map[string]any, len(props))
	for key, value := range props {
		if value == nil {
			continue
		}
		lower := strings.ToLower(key)
		if strings.Contains(lower, "password") || strings.Contains(lower, "token") {
			continue
		}
		switch reflect.TypeOf(value).Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			continue
		}

		raw, err := json.Marshal(value)
		if err != nil {
			sanitized[key] = fmt.Sprint(value)
			continue
		}
		if len(raw) > maxPropertyChars {
			sanitized[key] = truncationMarker
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

// SerializeProperties renders a (sanitized) property map as a JSON document
// for storage. Marshal failures collapse to "{}" so one bad event cannot
// poison a batch insert.
func SerializeProperties(props map[string]any) string {
	if len(props) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
