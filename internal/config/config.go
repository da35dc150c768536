// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, daily rate-limit tiers,
// event-tracker tuning, correlation cookies, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-insight-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QuotaConfig defines the daily generation quota per identity class plus the
// in-memory fast window that absorbs bursts without a store round trip.
//
// The window is an accelerator only; the persisted per-day counter remains
// the source of truth (see internal/ratelimit).
type QuotaConfig struct {
	AnonymousDaily int           // RATE_LIMIT_ANONYMOUS_DAILY requests/day
	UserDaily      int           // RATE_LIMIT_USER_DAILY requests/day
	Window         time.Duration // RATE_LIMIT_WINDOW short in-memory window
}

// TrackerConfig tunes the batched event pipeline.
type TrackerConfig struct {
	BatchSize     int           // TRACKER_BATCH_SIZE events per flush trigger
	FlushInterval time.Duration // TRACKER_FLUSH_INTERVAL periodic flush
	QueueCap      int           // TRACKER_QUEUE_CAP max buffered events (drop-oldest past this)
}

// CookieConfig holds the max-ages of the correlation cookies. All three are
// SameSite=Lax and carry opaque identifiers only.
type CookieConfig struct {
	TraceMaxAge     time.Duration // COOKIE_TRACE_MAX_AGE (gg_trace_id)
	SessionMaxAge   time.Duration // COOKIE_SESSION_MAX_AGE (gg_session_id)
	AnonymousMaxAge time.Duration // COOKIE_ANONYMOUS_MAX_AGE (gg_anonymous_id)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath      string        // SQLite path
	APIBasePath string        // base path for API routes
	MinDelay    time.Duration // minimum perceived generation latency

	// Completion upstream. Empty URL selects the deterministic local
	// completion (development mode).
	CompletionURL     string        // COMPLETION_URL
	CompletionAPIKey  string        // COMPLETION_API_KEY
	CompletionTimeout time.Duration // COMPLETION_TIMEOUT

	// Quotas & abuse control
	Quota      QuotaConfig
	TrackRPS   float64 // token-bucket refill for the ingestion endpoint (>= 0)
	TrackBurst int     // token-bucket size for the ingestion endpoint (>= 1)

	// Event tracker
	Tracker TrackerConfig

	// Correlation cookies
	Cookies CookieConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:      getenv("DB_PATH", "app.db"),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		MinDelay:    getdur("MIN_GENERATION_DELAY", 2500*time.Millisecond),

		// Completion upstream
		CompletionURL:     getenv("COMPLETION_URL", ""),
		CompletionAPIKey:  getenv("COMPLETION_API_KEY", ""),
		CompletionTimeout: getdur("COMPLETION_TIMEOUT", 30*time.Second),

		// Quotas & abuse control
		Quota: QuotaConfig{
			AnonymousDaily: getint("RATE_LIMIT_ANONYMOUS_DAILY", 5),
			UserDaily:      getint("RATE_LIMIT_USER_DAILY", 10),
			Window:         getdur("RATE_LIMIT_WINDOW", 60*time.Second),
		},
		TrackRPS:   getfloat("TRACK_RPS", 20.0),
		TrackBurst: getint("TRACK_BURST", 40),

		// Event tracker
		Tracker: TrackerConfig{
			BatchSize:     getint("TRACKER_BATCH_SIZE", 10),
			FlushInterval: getdur("TRACKER_FLUSH_INTERVAL", 5*time.Second),
			QueueCap:      getint("TRACKER_QUEUE_CAP", 1000),
		},

		// Correlation cookies
		Cookies: CookieConfig{
			TraceMaxAge:     getdur("COOKIE_TRACE_MAX_AGE", 24*time.Hour),
			SessionMaxAge:   getdur("COOKIE_SESSION_MAX_AGE", 30*time.Minute),
			AnonymousMaxAge: getdur("COOKIE_ANONYMOUS_MAX_AGE", 365*24*time.Hour),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-insight-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.MinDelay < 0 {
		return cfg, errors.New("MIN_GENERATION_DELAY must be >= 0")
	}
	if cfg.CompletionTimeout <= 0 {
		return cfg, errors.New("COMPLETION_TIMEOUT must be > 0")
	}
	if cfg.Quota.AnonymousDaily < 1 || cfg.Quota.UserDaily < 1 {
		return cfg, errors.New("daily rate limits must be >= 1")
	}
	if cfg.Quota.Window <= 0 {
		return cfg, errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	// The fast window may reject against the daily cap only because it is far
	// shorter than the reset period.
	if cfg.Quota.Window >= 24*time.Hour {
		return cfg, errors.New("RATE_LIMIT_WINDOW must be shorter than a day")
	}
	if cfg.TrackRPS < 0 {
		return cfg, errors.New("TRACK_RPS must be >= 0")
	}
	if cfg.TrackBurst < 1 {
		return cfg, errors.New("TRACK_BURST must be >= 1")
	}
	if cfg.Tracker.BatchSize < 1 {
		return cfg, errors.New("TRACKER_BATCH_SIZE must be >= 1")
	}
	if cfg.Tracker.FlushInterval <= 0 {
		return cfg, errors.New("TRACKER_FLUSH_INTERVAL must be > 0")
	}
	if cfg.Tracker.QueueCap < cfg.Tracker.BatchSize {
		return cfg, errors.New("TRACKER_QUEUE_CAP must be >= TRACKER_BATCH_SIZE")
	}
	if cfg.Cookies.TraceMaxAge <= 0 || cfg.Cookies.SessionMaxAge <= 0 || cfg.Cookies.AnonymousMaxAge <= 0 {
		return cfg, errors.New("cookie max-ages must be positive durations")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
