package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName            = "ClaimsGateway"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultTokenTTL           = time.Hour
	defaultStoreTimeout       = 5 * time.Second
	defaultNotifyTimeout      = 10 * time.Second
	defaultDownstreamTimeout  = 30 * time.Second
	defaultSweepInterval      = 10 * time.Minute
	defaultRateLimitPerHour   = 500
	defaultLoginLimitPerMin   = 5
	defaultRegistrationPolicy = "admin_review"
	defaultVerifyChannels     = "email,sms"
	defaultSMTPPort           = 587
	devJWTSecret              = "development-only-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	RegistrationPolicy string
	VerifyChannels     []string
	PendingTTL         time.Duration
	SweepInterval      time.Duration

	StoreTimeout      time.Duration
	NotifyTimeout     time.Duration
	DownstreamURL     string
	ClaimsAPIURL      string
	DownstreamTimeout time.Duration

	RateLimitPerHour int
	LoginLimitPerMin int
	CORSAllowOrigins string

	SMTP     SMTPConfig
	Twilio   TwilioConfig
	Telegram TelegramConfig
	Admin    AdminConfig
}

// SMTPConfig holds the mail relay used for email verification codes.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled reports whether an SMTP relay is configured.
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// TwilioConfig holds the SMS provider credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
}

// Enabled reports whether Twilio credentials are configured.
func (c TwilioConfig) Enabled() bool { return c.AccountSID != "" && c.AuthToken != "" }

// TelegramConfig holds the bot used to alert admins about new registrations.
type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
}

// Enabled reports whether admin alerts are configured.
func (c TelegramConfig) Enabled() bool { return c.BotToken != "" && c.AdminChatID != 0 }

// AdminConfig seeds an administrator account at startup.
type AdminConfig struct {
	Username string
	Password string
	Email    string
	Mobile   string
}

// Enabled reports whether an admin account should be seeded.
func (c AdminConfig) Enabled() bool {
	return c.Username != "" && c.Password != "" && c.Email != "" && c.Mobile != ""
}

// partial reports whether some but not all admin fields are set.
func (c AdminConfig) partial() bool {
	set := 0
	for _, v := range []string{c.Username, c.Password, c.Email, c.Mobile} {
		if v != "" {
			set++
		}
	}
	return set > 0 && set < 4
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RegistrationPolicy: strings.ToLower(getEnv("REGISTRATION_POLICY", defaultRegistrationPolicy)),
		VerifyChannels:     splitList(getEnv("VERIFY_CHANNELS", defaultVerifyChannels)),
		DownstreamURL:      strings.TrimRight(os.Getenv("DOWNSTREAM_URL"), "/"),
		ClaimsAPIURL:       strings.TrimRight(os.Getenv("CLAIMS_API_URL"), "/"),
		CORSAllowOrigins:   getEnv("CORS_ALLOW_ORIGINS", "*"),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		Twilio: TwilioConfig{
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			From:       os.Getenv("TWILIO_FROM"),
			BaseURL:    os.Getenv("TWILIO_BASE_URL"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
		Admin: AdminConfig{
			Username: os.Getenv("ADMIN_USERNAME"),
			Password: os.Getenv("ADMIN_PASSWORD"),
			Email:    os.Getenv("ADMIN_EMAIL"),
			Mobile:   os.Getenv("ADMIN_MOBILE"),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = durationEnv("JWT_TTL", defaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.PendingTTL, err = durationEnv("PENDING_TTL", 0); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("PENDING_SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationEnv("STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.NotifyTimeout, err = durationEnv("NOTIFY_TIMEOUT", defaultNotifyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DownstreamTimeout, err = durationEnv("DOWNSTREAM_TIMEOUT", defaultDownstreamTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerHour, err = intEnv("RATE_LIMIT_PER_HOUR", defaultRateLimitPerHour); err != nil {
		return Config{}, err
	}
	if cfg.LoginLimitPerMin, err = intEnv("LOGIN_RATE_LIMIT_PER_MIN", defaultLoginLimitPerMin); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", defaultSMTPPort); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TELEGRAM_ADMIN_CHAT_ID: %w", err)
		}
		cfg.Telegram.AdminChatID = id
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
		cfg.JWTSecret = devJWTSecret
	}

	if cfg.DatabaseURL == "" && !cfg.IsDev() {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.DownstreamURL == "" {
		return Config{}, fmt.Errorf("DOWNSTREAM_URL must be set")
	}
	if cfg.ClaimsAPIURL == "" {
		cfg.ClaimsAPIURL = cfg.DownstreamURL + "/api"
	}

	if cfg.Admin.partial() {
		return Config{}, fmt.Errorf("ADMIN_USERNAME, ADMIN_PASSWORD, ADMIN_EMAIL and ADMIN_MOBILE must be set together")
	}

	switch cfg.RegistrationPolicy {
	case "direct", "admin_review", "code_verification":
	default:
		return Config{}, fmt.Errorf("invalid REGISTRATION_POLICY %q", cfg.RegistrationPolicy)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the application runs in a development-like environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv accepts KEY_SECONDS as an integer or KEY as a Go duration string.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
