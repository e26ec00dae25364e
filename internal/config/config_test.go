package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	type want struct {
		port        string
		memoryStore bool
		otpTTL      time.Duration
		generateMax int
		verifyMax   int
		verifyWin   time.Duration
		twilio      bool
	}

	tests := []struct {
		name string
		env  map[string]string
		want want
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: want{
				port:        "8080",
				otpTTL:      5 * time.Minute,
				generateMax: 5,
				verifyMax:   10,
				verifyWin:   15 * time.Minute,
			},
		},
		{
			name: "env overrides",
			env: map[string]string{
				"PORT":                     "9090",
				"USE_MEMORY_STORE":         "true",
				"OTP_TTL":                  "2m",
				"RATE_LIMIT_GENERATE_MAX":  "3",
				"RATE_LIMIT_VERIFY_MAX":    "20",
				"RATE_LIMIT_VERIFY_WINDOW": "30m",
				"TWILIO_ACCOUNT_SID":       "AC123",
				"TWILIO_AUTH_TOKEN":        "secret",
				"TWILIO_WHATSAPP_FROM":     "whatsapp:+14155238886",
			},
			want: want{
				port:        "9090",
				memoryStore: true,
				otpTTL:      2 * time.Minute,
				generateMax: 3,
				verifyMax:   20,
				verifyWin:   30 * time.Minute,
				twilio:      true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.NoError(t, err)

			assert.Equal(t, tt.want.port, cfg.Port)
			assert.Equal(t, tt.want.memoryStore, cfg.UseMemoryStore)
			assert.Equal(t, tt.want.otpTTL, cfg.OTP.TTL)
			assert.Equal(t, 5, cfg.OTP.MaxAttempts)
			assert.Equal(t, time.Hour, cfg.RateLimit.GenerateWindow)
			assert.Equal(t, tt.want.generateMax, cfg.RateLimit.GenerateMax)
			assert.Equal(t, tt.want.verifyMax, cfg.RateLimit.VerifyMax)
			assert.Equal(t, tt.want.verifyWin, cfg.RateLimit.VerifyWindow)
			assert.Equal(t, tt.want.twilio, cfg.Twilio.Configured())
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SURVEY_BASE_URL=https://shop.example/survey\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SURVEY_BASE_URL") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/survey", cfg.SurveyBaseURL)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "zero attempts", env: map[string]string{"OTP_MAX_ATTEMPTS": "0"}, wantErr: "OTP_MAX_ATTEMPTS"},
		{name: "zero argon time", env: map[string]string{"OTP_ARGON_TIME": "0"}, wantErr: "OTP_ARGON_TIME"},
		{name: "zero argon threads", env: map[string]string{"OTP_ARGON_THREADS": "0"}, wantErr: "OTP_ARGON_THREADS"},
		{
			name:    "argon memory below lanes",
			env:     map[string]string{"OTP_ARGON_THREADS": "4", "OTP_ARGON_MEMORY_KIB": "31"},
			wantErr: "OTP_ARGON_MEMORY_KIB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_AcceptsMinimalArgonCost(t *testing.T) {
	t.Setenv("OTP_ARGON_TIME", "1")
	t.Setenv("OTP_ARGON_THREADS", "1")
	t.Setenv("OTP_ARGON_MEMORY_KIB", "8")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, uint32(8), cfg.OTP.ArgonMemoryKiB)
}
