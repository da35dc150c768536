package utils

import "strings"

// ParseUserAgent extracts coarse device, browser, and OS classes from a
// User-Agent header. The output feeds low-cardinality analytics columns, so
// it deliberately buckets everything unrecognized into "unknown" rather than
// attempting full UA parsing.
func ParseUserAgent(ua string) (device, browser, os string) {
	device, browser, os = "unknown", "unknown", "unknown"
	if ua == "" {
		return
	}
	l := strings.ToLower(ua)

	switch {
	case strings.Contains(l, "ipad") || strings.Contains(l, "tablet"):
		device = "tablet"
	case strings.Contains(l, "mobi") || strings.Contains(l, "android") || strings.Contains(l, "iphone"):
		device = "mobile"
	case strings.Contains(l, "bot") || strings.Contains(l, "spider") || strings.Contains(l, "crawl"):
		device = "bot"
	default:
		device = "desktop"
	}

	// Order matters: Edge and Opera UAs also contain "chrome"; Chrome and
	// Edge UAs also contain "safari".
	switch {
	case strings.Contains(l, "edg/") || strings.Contains(l, "edge"):
		browser = "edge"
	case strings.Contains(l, "opr/") || strings.Contains(l, "opera"):
		browser = "opera"
	case strings.Contains(l, "chrome") || strings.Contains(l, "crios"):
		browser = "chrome"
	case strings.Contains(l, "firefox") || strings.Contains(l, "fxios"):
		browser = "firefox"
	case strings.Contains(l, "safari"):
		browser = "safari"
	}

	switch {
	case strings.Contains(l, "windows"):
		os = "windows"
	case strings.Contains(l, "android"):
		os = "android"
	case strings.Contains(l, "iphone") || strings.Contains(l, "ipad") || strings.Contains(l, "ios"):
		os = "ios"
	case strings.Contains(l, "mac os") || strings.Contains(l, "macintosh"):
		os = "macos"
	case strings.Contains(l, "linux"):
		os = "linux"
	}
	return
}
