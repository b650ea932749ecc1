package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultElevatedThreshold, cfg.ElevatedThreshold)
	assert.Equal(t, DefaultHighThreshold, cfg.HighThreshold)
	assert.Equal(t, DefaultCriticalThreshold, cfg.CriticalThreshold)
	assert.Equal(t, DefaultEscalationTimeout, cfg.EscalationTimeout)
	assert.Equal(t, DefaultCaptureThreshold, cfg.CaptureThreshold)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "HIGH_THRESHOLD", "0.75")
	setEnv(t, "ESCALATION_TIMEOUT", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.75, cfg.HighThreshold)
	assert.Equal(t, 5*time.Minute, cfg.EscalationTimeout)
}

func TestLoad_ThresholdsOutOfOrder(t *testing.T) {
	setEnv(t, "ELEVATED_THRESHOLD", "0.9")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "critical above 1.0",
			mutate:  func(c *Config) { c.CriticalThreshold = 1.5 },
			wantErr: "within [0.0, 1.0]",
		},
		{
			name:    "zero escalation timeout",
			mutate:  func(c *Config) { c.EscalationTimeout = 0 },
			wantErr: "ESCALATION_TIMEOUT",
		},
		{
			name:    "bad quiet hour",
			mutate:  func(c *Config) { c.QuietStartHour = 25 },
			wantErr: "QUIET_START_HOUR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				NoteThreshold:     DefaultNoteThreshold,
				ElevatedThreshold: DefaultElevatedThreshold,
				HighThreshold:     DefaultHighThreshold,
				CriticalThreshold: DefaultCriticalThreshold,
				EscalationTimeout: DefaultEscalationTimeout,
				SweepInterval:     DefaultSweepInterval,
				QuietStartHour:    21,
				QuietEndHour:      7,
				SchoolStartHour:   DefaultSchoolStartHour,
				SchoolEndHour:     DefaultSchoolEndHour,
				DigestHour:        DefaultDigestHour,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestInQuietHours_WrapsMidnight(t *testing.T) {
	cfg := &Config{QuietStartHour: 21, QuietEndHour: 7}

	at := func(hour int) time.Time {
		return time.Date(2025, 3, 10, hour, 30, 0, 0, time.Local)
	}

	assert.True(t, cfg.InQuietHours(at(22)))
	assert.True(t, cfg.InQuietHours(at(2)))
	assert.False(t, cfg.InQuietHours(at(12)))
	assert.False(t, cfg.InQuietHours(at(7)))
}

func TestInSchoolHours(t *testing.T) {
	cfg := &Config{SchoolStartHour: 8, SchoolEndHour: 15}

	at := func(hour int) time.Time {
		return time.Date(2025, 3, 10, hour, 0, 0, 0, time.Local)
	}

	assert.True(t, cfg.InSchoolHours(at(10)))
	assert.False(t, cfg.InSchoolHours(at(16)))

	// Equal start/end disables the window
	disabled := &Config{}
	assert.False(t, disabled.InSchoolHours(at(10)))
}
