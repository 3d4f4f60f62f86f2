// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or the configuration is
// internally inconsistent, the process exits before touching any state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the outreach service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Send window (hours in SendTimezone local time).
	SendTimezone     string
	SendWindowStart  int // e.g. 9  → window opens at 09:00
	SendWindowEnd    int // e.g. 11 → preferred end at 11:00
	GracePeriodHours int // soft extension past the preferred end
	SendIntervalDays int // days between sequence stages

	// Discovery quota.
	DiscoveryDailyLimit int // daily profile-view credits
	ContactsPerCompany  int // hard cap per company per day
	MinContactsPerCo    int // below this a company needs discovery

	// Contact-source API. Empty credentials disable live discovery for
	// the cycle (logged, not fatal).
	ContactSourceURL string
	ContactSourceKey string

	// Content generation.
	PrimaryModel    string
	FallbackModel   string
	ModelDailyLimit int // per-model daily call cap
	ContentTTLDays  int
	GeminiAPIKey    string

	// Health monitoring.
	UnderutilizedThreshold float64 // used/limit below this counts as underutilized
	StreakDaysThreshold    int     // consecutive days before an alert fires
	CapSuggestionCeiling   int     // upper bound for a raised-cap suggestion

	// SMTP delivery.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	ResumePath   string

	// Cron specs for the two daily cycles.
	DiscoveryCronSpec string
	SendCronSpec      string
}

// ConfigError marks a startup-fatal configuration inconsistency.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8082"),
		DatabaseURL: dbURL,
		RedisURL:    redisURL,

		SendTimezone:     getEnv("SEND_TIMEZONE", "America/New_York"),
		SendWindowStart:  9,
		SendWindowEnd:    11,
		GracePeriodHours: 1,
		SendIntervalDays: 7,

		DiscoveryDailyLimit: 50,
		ContactsPerCompany:  3,
		MinContactsPerCo:    2,

		ContactSourceURL: getEnv("CONTACT_SOURCE_URL", "https://api.contactout.com/v1"),
		ContactSourceKey: os.Getenv("CONTACT_SOURCE_KEY"),

		PrimaryModel:    getEnv("PRIMARY_MODEL", "gemini-2.5-flash-lite"),
		FallbackModel:   getEnv("FALLBACK_MODEL", "gemini-2.5-flash"),
		ModelDailyLimit: 20,
		ContentTTLDays:  21,
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),

		UnderutilizedThreshold: 0.5,
		StreakDaysThreshold:    3,
		CapSuggestionCeiling:   10,

		SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:     587,
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_APP_PASSWORD"),
		ResumePath:   getEnv("RESUME_PATH", "Resume.pdf"),

		DiscoveryCronSpec: getEnv("DISCOVERY_CRON", "0 2 * * *"),
		SendCronSpec:      getEnv("SEND_CRON", "0 9 * * *"),
	}

	overrides := []struct {
		env string
		dst *int
		min int
	}{
		{"SEND_WINDOW_START", &cfg.SendWindowStart, 0},
		{"SEND_WINDOW_END", &cfg.SendWindowEnd, 1},
		{"GRACE_PERIOD_HOURS", &cfg.GracePeriodHours, 0},
		{"SEND_INTERVAL_DAYS", &cfg.SendIntervalDays, 1},
		{"DISCOVERY_DAILY_LIMIT", &cfg.DiscoveryDailyLimit, 1},
		{"CONTACTS_PER_COMPANY", &cfg.ContactsPerCompany, 1},
		{"MIN_CONTACTS_PER_COMPANY", &cfg.MinContactsPerCo, 1},
		{"MODEL_DAILY_LIMIT", &cfg.ModelDailyLimit, 1},
		{"CONTENT_TTL_DAYS", &cfg.ContentTTLDays, 1},
		{"STREAK_DAYS_THRESHOLD", &cfg.StreakDaysThreshold, 1},
		{"CAP_SUGGESTION_CEILING", &cfg.CapSuggestionCeiling, 1},
		{"SMTP_PORT", &cfg.SMTPPort, 1},
	}
	for _, o := range overrides {
		s := os.Getenv(o.env)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < o.min {
			return nil, fmt.Errorf("%s must be an integer >= %d, got %q", o.env, o.min, s)
		}
		*o.dst = v
	}

	if s := os.Getenv("UNDERUTILIZED_THRESHOLD"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v >= 1 {
			return nil, fmt.Errorf("UNDERUTILIZED_THRESHOLD must be in (0, 1), got %q", s)
		}
		cfg.UnderutilizedThreshold = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that would otherwise fail silently
// at runtime. Returns *ConfigError on violation.
func (c *Config) Validate() error {
	if c.SendWindowEnd <= c.SendWindowStart {
		return &ConfigError{Msg: fmt.Sprintf(
			"send window end (%d:00) must be after start (%d:00)",
			c.SendWindowEnd, c.SendWindowStart)}
	}
	if c.SendWindowEnd+c.GracePeriodHours > 24 {
		return &ConfigError{Msg: "send window hard cutoff extends past midnight"}
	}

	// The sequence spans two follow-up intervals after the initial send. A
	// shorter content TTL would silently drop mid-sequence content.
	minTTL := 2*c.SendIntervalDays + 1
	if c.ContentTTLDays < minTTL {
		return &ConfigError{Msg: fmt.Sprintf(
			"content TTL (%dd) is shorter than the full send sequence (%dd minimum for a %dd interval)",
			c.ContentTTLDays, minTTL, c.SendIntervalDays)}
	}

	if _, err := time.LoadLocation(c.SendTimezone); err != nil {
		return &ConfigError{Msg: fmt.Sprintf("unknown SEND_TIMEZONE %q", c.SendTimezone)}
	}
	return nil
}

// Location resolves the configured send timezone. Validate has already
// checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SendTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
