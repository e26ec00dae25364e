// Package config loads service configuration from .env files and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	UseMemoryStore bool   `env:"USE_MEMORY_STORE"`

	// Base URL of the customer survey page; the order's public token is appended.
	SurveyBaseURL string `env:"SURVEY_BASE_URL"`

	Database  DatabaseConfig  `envPrefix:"DB_"`
	Twilio    TwilioConfig    `envPrefix:"TWILIO_"`
	OTP       OTPConfig       `envPrefix:"OTP_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Notify    NotifyConfig    `envPrefix:"NOTIFY_"`
}

type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASS"`
	Name     string `env:"NAME" envDefault:"dropconfirm"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`

	// Cloud SQL instance; when set the connection goes through the unix socket.
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`
}

type TwilioConfig struct {
	AccountSID      string        `env:"ACCOUNT_SID"`
	AuthToken       string        `env:"AUTH_TOKEN"`
	WhatsAppFrom    string        `env:"WHATSAPP_FROM"` // whatsapp:+14155238886
	StatusCallback  string        `env:"STATUS_CALLBACK_URL"`
	ValidateWebhook bool          `env:"VALIDATE_WEBHOOK" envDefault:"true"`
	MaxRetries      uint64        `env:"MAX_RETRIES" envDefault:"3"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF" envDefault:"250ms"`
}

// Configured reports whether enough credentials are present to talk to Twilio.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.WhatsAppFrom != ""
}

type OTPConfig struct {
	TTL         time.Duration `env:"TTL" envDefault:"5m"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"10s"`

	ArgonTime      uint32 `env:"ARGON_TIME" envDefault:"1"`
	ArgonMemoryKiB uint32 `env:"ARGON_MEMORY_KIB" envDefault:"65536"`
	ArgonThreads   uint8  `env:"ARGON_THREADS" envDefault:"4"`

	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupRetention time.Duration `env:"CLEANUP_RETENTION" envDefault:"24h"`
}

type RateLimitConfig struct {
	GenerateWindow time.Duration `env:"GENERATE_WINDOW" envDefault:"1h"`
	GenerateMax    int           `env:"GENERATE_MAX" envDefault:"5"`
	VerifyWindow   time.Duration `env:"VERIFY_WINDOW" envDefault:"15m"`
	VerifyMax      int           `env:"VERIFY_MAX" envDefault:"10"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// Trust X-Forwarded-For when deriving the caller IP (behind a load balancer).
	TrustProxy bool `env:"TRUST_PROXY"`
}

type NotifyConfig struct {
	Workers     int           `env:"WORKERS" envDefault:"4"`
	QueueSize   int           `env:"QUEUE_SIZE" envDefault:"256"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"15s"`
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads .env files (when present) and parses the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env", "environments/.env.development"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err == nil {
			break
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.OTP.ArgonTime < 1 {
		return fmt.Errorf("OTP_ARGON_TIME must be at least 1")
	}
	if c.OTP.ArgonThreads < 1 {
		return fmt.Errorf("OTP_ARGON_THREADS must be at least 1")
	}
	// argon2 needs at least 8 KiB per lane.
	if c.OTP.ArgonMemoryKiB < 8*uint32(c.OTP.ArgonThreads) {
		return fmt.Errorf("OTP_ARGON_MEMORY_KIB must be at least 8 * OTP_ARGON_THREADS")
	}
	if c.RateLimit.GenerateMax < 1 || c.RateLimit.VerifyMax < 1 {
		return fmt.Errorf("rate limit max values must be at least 1")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	return nil
}
