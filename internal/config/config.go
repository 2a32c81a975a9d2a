package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL,required,notEmpty"`

	AdminSessionSecret string `env:"ADMIN_SESSION_SECRET,required,notEmpty"`
	PendingLoginSecret string `env:"PENDING_LOGIN_SECRET,required,notEmpty"`
	EncryptionKey      string `env:"ENCRYPTION_KEY,required,notEmpty"`

	MFARequired          bool   `env:"MFA_REQUIRED" envDefault:"true"`
	MFAIssuer            string `env:"MFA_ISSUER" envDefault:"PawPoint Admin"`
	MFASkew              uint   `env:"MFA_SKEW" envDefault:"1"`
	MFAMaxFailedAttempts int    `env:"MFA_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	MFALockoutMinutes    int    `env:"MFA_LOCKOUT_MINUTES" envDefault:"15"`

	LoginMaxFailedAttempts int `env:"LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LoginLockoutMinutes    int `env:"LOGIN_LOCKOUT_MINUTES" envDefault:"15"`
	LoginRateLimitPerMin   int `env:"LOGIN_RATE_LIMIT_PER_MIN" envDefault:"20"`

	SessionLifetimeHours   int `env:"SESSION_LIFETIME_HOURS" envDefault:"12"`
	PendingLoginTTLSeconds int `env:"PENDING_LOGIN_TTL_SECONDS" envDefault:"300"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	AuditSpoolTopic string   `env:"AUDIT_SPOOL_TOPIC" envDefault:"admin-audit-spool"`
	AuditSpoolGroup string   `env:"AUDIT_SPOOL_GROUP" envDefault:"admin-audit-replay"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.SessionLifetimeHours) * time.Hour
}

func (c *Config) PendingLoginTTL() time.Duration {
	return time.Duration(c.PendingLoginTTLSeconds) * time.Second
}

func (c *Config) LoginLockoutWindow() time.Duration {
	return time.Duration(c.LoginLockoutMinutes) * time.Minute
}

func (c *Config) MFALockoutWindow() time.Duration {
	return time.Duration(c.MFALockoutMinutes) * time.Minute
}

// SpoolEnabled reports whether critical audit events can fall back to Kafka.
func (c *Config) SpoolEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.AuditSpoolTopic != ""
}

func (c *Config) Validate(isProduction bool) error {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes encoded as 64 hex chars (generate with: openssl rand -hex 32)")
	}

	if c.SessionLifetimeHours <= 0 {
		return fmt.Errorf("SESSION_LIFETIME_HOURS must be positive")
	}
	if c.PendingLoginTTLSeconds <= 0 {
		return fmt.Errorf("PENDING_LOGIN_TTL_SECONDS must be positive")
	}
	if c.LoginMaxFailedAttempts <= 0 || c.MFAMaxFailedAttempts <= 0 {
		return fmt.Errorf("failed attempt thresholds must be positive")
	}
	if c.MFASkew > 2 {
		return fmt.Errorf("MFA_SKEW must be 0, 1 or 2")
	}

	if isProduction {
		if err := validateSecret("ADMIN_SESSION_SECRET", c.AdminSessionSecret); err != nil {
			return err
		}
		if err := validateSecret("PENDING_LOGIN_SECRET", c.PendingLoginSecret); err != nil {
			return err
		}
		if c.AdminSessionSecret == c.PendingLoginSecret {
			return fmt.Errorf("PENDING_LOGIN_SECRET must differ from ADMIN_SESSION_SECRET")
		}

		if !c.MFARequired {
			log.Warn().Msg("MFA_REQUIRED is false in production: admins without MFA get sessions after password only")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !c.SpoolEnabled() {
			log.Warn().Msg("KAFKA_BROKERS is empty in production: critical audit events have no durable fallback")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
