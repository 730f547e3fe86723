package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sdko-org/outfit-relay/internal/guard"
)

// ErrMissingSecret is returned when SHARED_SECRET is unset. No secret is
// generated in its place: an unknown random secret would lock every client out.
var ErrMissingSecret = errors.New("SHARED_SECRET must be set")

type Config struct {
	ListenAddr        string
	TLSAddr           string
	TrustForwardedFor bool
	LogLevel          string
	LogFormat         string

	AllowedOrigins       []string
	SharedSecret         string
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxPayloadBytes      int64

	RateLimitBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPrefix      string

	ReadRateLimit  int
	ReadRateWindow time.Duration

	OverlayBackend     string
	DatabaseEnabled    bool
	PostgresUser       string
	PostgresPassword   string
	PostgresHost       string
	PostgresPort       string
	PostgresDatabase   string
	PostgresSSLMode    string
	AccessLogRetention time.Duration
	PurgeInterval      time.Duration

	EmailService      string
	SMTPHost          string
	SMTPPort          int
	EmailUser         string
	EmailPass         string
	NotificationEmail string
	EmailSubject      string
	EmailTimeout      time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error
	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":5001"),
		TLSAddr:           getEnv("TLS_ADDR", ""),
		TrustForwardedFor: getEnvBool("TRUST_FORWARDED_FOR", true, &errs),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),

		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS"),
		SharedSecret:         os.Getenv("SHARED_SECRET"),
		MaxRequestsPerMinute: getEnvInt("MAX_REQUESTS_PER_MINUTE", 2, &errs),
		MaxRequestsPerHour:   getEnvInt("MAX_REQUESTS_PER_HOUR", 10, &errs),
		MaxPayloadBytes:      getEnvInt64("MAX_PAYLOAD_BYTES", 10*1024*1024, &errs),

		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0, &errs),
		RedisPrefix:      getEnv("REDIS_PREFIX", "outfit:guard"),

		ReadRateLimit:  getEnvInt("READ_RATE_LIMIT", 60, &errs),
		ReadRateWindow: getEnvDuration("READ_RATE_WINDOW", time.Minute, &errs),

		OverlayBackend:     strings.ToLower(getEnv("OVERLAY_BACKEND", "memory")),
		DatabaseEnabled:    getEnvBool("DATABASE_ENABLED", false, &errs),
		PostgresUser:       getEnv("POSTGRES_USER", "outfit"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:   getEnv("POSTGRES_DATABASE", "outfit_relay"),
		PostgresSSLMode:    getEnv("POSTGRES_SSL_MODE", "disable"),
		AccessLogRetention: getEnvDuration("ACCESS_LOG_RETENTION", 7*24*time.Hour, &errs),
		PurgeInterval:      getEnvDuration("PURGE_INTERVAL", 30*time.Minute, &errs),

		EmailService:      strings.ToLower(getEnv("EMAIL_SERVICE", "gmail")),
		SMTPHost:          getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:          getEnvInt("SMTP_PORT", 587, &errs),
		EmailUser:         os.Getenv("EMAIL_USER"),
		EmailPass:         os.Getenv("EMAIL_PASS"),
		NotificationEmail: os.Getenv("NOTIFICATION_EMAIL"),
		EmailSubject:      getEnv("EMAIL_SUBJECT", "New Outfit from Outfit Creator!"),
		EmailTimeout:      getEnvDuration("EMAIL_TIMEOUT", 30*time.Second, &errs),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.SharedSecret) == "" {
		return ErrMissingSecret
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must list at least one origin prefix")
	}
	if c.MaxRequestsPerMinute <= 0 || c.MaxRequestsPerHour <= 0 {
		return errors.New("MAX_REQUESTS_PER_MINUTE and MAX_REQUESTS_PER_HOUR must be positive")
	}
	if c.MaxPayloadBytes <= 0 || c.MaxPayloadBytes > guard.MaxPayloadLimit {
		return fmt.Errorf("MAX_PAYLOAD_BYTES must be between 1 and %d", int64(guard.MaxPayloadLimit))
	}
	switch c.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %s", c.RateLimitBackend)
	}
	switch c.OverlayBackend {
	case "memory":
	case "postgres":
		if !c.DatabaseEnabled {
			return errors.New("OVERLAY_BACKEND=postgres requires DATABASE_ENABLED=true")
		}
	default:
		return fmt.Errorf("unsupported OVERLAY_BACKEND: %s", c.OverlayBackend)
	}
	if c.S3Bucket != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return errors.New("AWS credentials must be provided when S3_BUCKET is set")
	}
	return nil
}

// GuardConfig returns the ingress guard settings.
func (c *Config) GuardConfig() guard.Config {
	return guard.Config{
		AllowedOrigins:       c.AllowedOrigins,
		SharedSecret:         c.SharedSecret,
		MaxRequestsPerMinute: c.MaxRequestsPerMinute,
		MaxRequestsPerHour:   c.MaxRequestsPerHour,
		MaxPayloadBytes:      c.MaxPayloadBytes,
	}
}

// EmailConfigured reports whether outfit emails can be sent.
func (c *Config) EmailConfigured() bool {
	return c.EmailUser != "" && c.EmailPass != "" && c.NotificationEmail != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func getEnvInt64(key string, defaultValue int64, errs *[]error) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return duration
}
