// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Alert tier thresholds (risk score boundaries)
	NoteThreshold     float64 // below this → digest only, no alert object
	ElevatedThreshold float64
	HighThreshold     float64
	CriticalThreshold float64

	// Escalation settings
	EscalationTimeout time.Duration // per-step deadline before advancing

	// Replay capture
	CaptureThreshold float64       // risk score above which replays are captured
	SweepInterval    time.Duration // retention sweep cadence

	// Quiet hours: non-critical notifications are deferred inside this window.
	// Hours are local 24h clock; QuietStart == QuietEnd disables quiet hours.
	QuietStartHour int
	QuietEndHour   int

	// School hours window for the educational suppression rule.
	SchoolStartHour int
	SchoolEndHour   int

	// Digest delivery hour (local 24h clock)
	DigestHour int

	// Security
	DeviceKeySecret string // HMAC secret for device key verification
	WebhookSecret   string // HMAC secret for signing outbound notifications
	RateLimitRPS    int
}

// Documented defaults. Tier thresholds are per-family tunable at runtime;
// these are the starting values. Risk factor weights live in the scoring package.
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultNoteThreshold     = 0.3
	DefaultElevatedThreshold = 0.5
	DefaultHighThreshold     = 0.7
	DefaultCriticalThreshold = 0.85
	DefaultEscalationTimeout = 15 * time.Minute
	DefaultCaptureThreshold  = 0.6
	DefaultSweepInterval     = 5 * time.Minute
	DefaultSchoolStartHour   = 8
	DefaultSchoolEndHour     = 15
	DefaultDigestHour        = 19
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		NoteThreshold:     getEnvFloat("NOTE_THRESHOLD", DefaultNoteThreshold),
		ElevatedThreshold: getEnvFloat("ELEVATED_THRESHOLD", DefaultElevatedThreshold),
		HighThreshold:     getEnvFloat("HIGH_THRESHOLD", DefaultHighThreshold),
		CriticalThreshold: getEnvFloat("CRITICAL_THRESHOLD", DefaultCriticalThreshold),
		EscalationTimeout: getEnvDuration("ESCALATION_TIMEOUT", DefaultEscalationTimeout),
		CaptureThreshold:  getEnvFloat("CAPTURE_THRESHOLD", DefaultCaptureThreshold),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		QuietStartHour:    int(getEnvInt64("QUIET_START_HOUR", 21)),
		QuietEndHour:      int(getEnvInt64("QUIET_END_HOUR", 7)),
		SchoolStartHour:   int(getEnvInt64("SCHOOL_START_HOUR", DefaultSchoolStartHour)),
		SchoolEndHour:     int(getEnvInt64("SCHOOL_END_HOUR", DefaultSchoolEndHour)),
		DigestHour:        int(getEnvInt64("DIGEST_HOUR", DefaultDigestHour)),
		DeviceKeySecret:   os.Getenv("DEVICE_KEY_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.NoteThreshold < 0 || c.CriticalThreshold > 1.0 {
		return fmt.Errorf("alert thresholds must lie within [0.0, 1.0]")
	}
	if !(c.NoteThreshold < c.ElevatedThreshold &&
		c.ElevatedThreshold < c.HighThreshold &&
		c.HighThreshold < c.CriticalThreshold) {
		return fmt.Errorf("alert thresholds must be strictly increasing (note < elevated < high < critical)")
	}
	if c.EscalationTimeout <= 0 {
		return fmt.Errorf("ESCALATION_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	for name, h := range map[string]int{
		"QUIET_START_HOUR":  c.QuietStartHour,
		"QUIET_END_HOUR":    c.QuietEndHour,
		"SCHOOL_START_HOUR": c.SchoolStartHour,
		"SCHOOL_END_HOUR":   c.SchoolEndHour,
		"DIGEST_HOUR":       c.DigestHour,
	} {
		if h < 0 || h > 23 {
			return fmt.Errorf("%s must be an hour in [0, 23]", name)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// InQuietHours reports whether t falls inside the configured quiet window.
// The window may wrap midnight (e.g. 21 → 7).
func (c *Config) InQuietHours(t time.Time) bool {
	return inHourWindow(t, c.QuietStartHour, c.QuietEndHour)
}

// InSchoolHours reports whether t falls inside the configured school window.
func (c *Config) InSchoolHours(t time.Time) bool {
	return inHourWindow(t, c.SchoolStartHour, c.SchoolEndHour)
}

func inHourWindow(t time.Time, start, end int) bool {
	if start == end {
		return false
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
