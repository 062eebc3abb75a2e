// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting shared by the binaries.
type Config struct {
	Port           int           `mapstructure:"PORT"`
	Address        string        `mapstructure:"ADDRESS"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins    []string      `mapstructure:"-"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int64         `mapstructure:"RATE_LIMIT_BURST"`
	KafkaBrokers   []string      `mapstructure:"-"`
	OTLPEndpoint   string        `mapstructure:"OTLP_ENDPOINT"`
	OrgName        string        `mapstructure:"ORG_NAME"`
	OrgSubtitle    string        `mapstructure:"ORG_SUBTITLE"`
	OrgAddress     string        `mapstructure:"ORG_ADDRESS"`
	LogoPath       string        `mapstructure:"LOGO_PATH"`
	RetentionDays  int           `mapstructure:"PRESCRIPTION_RETENTION_DAYS"`
	PurgeAt        string        `mapstructure:"PURGE_AT"`
	SpoolDir       string        `mapstructure:"SPOOL_DIR"`
	SpoolWorkers   int           `mapstructure:"SPOOL_WORKERS"`
}

var defaults = map[string]any{
	"PORT":                        5001,
	"ADDRESS":                     "0.0.0.0",
	"ENV":                         "dev",
	"LOG_LEVEL":                   "info",
	"DATABASE_URL":                "",
	"DB_MAX_CONNS":                10,
	"DB_MIN_CONNS":                2,
	"REQUEST_TIMEOUT":             "15s",
	"CORS_ORIGINS":                "http://localhost:3000,http://localhost:5001",
	"RATE_LIMIT_RPS":              20,
	"RATE_LIMIT_BURST":            200,
	"KAFKA_BROKERS":               "localhost:9092",
	"OTLP_ENDPOINT":               "",
	"ORG_NAME":                    "",
	"ORG_SUBTITLE":                "",
	"ORG_ADDRESS":                 "",
	"LOGO_PATH":                   "static/logo_perobal.png",
	"PRESCRIPTION_RETENTION_DAYS": 0,
	"PURGE_AT":                    "03:00",
	"SPOOL_DIR":                   "spool",
	"SPOOL_WORKERS":               4,
}

// Load reads the environment, falling back to a .env file in the working
// directory.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads the environment, falling back to the dotenv file at path.
// A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var problems []error
	check := func(err error) {
		if err != nil {
			problems = append(problems, err)
		}
	}

	check(validatePort(c.Port))
	check(oneOf("ENV", c.Env, "dev", "test", "staging", "prod"))
	check(oneOf("LOG_LEVEL", c.LogLevel, "debug", "info", "warn", "error"))
	check(positive("DB_MAX_CONNS", int(c.DBMaxConns)))
	check(positive("DB_MIN_CONNS", int(c.DBMinConns)))
	if c.DBMinConns > c.DBMaxConns {
		check(fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.RequestTimeout <= 0 {
		check(fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.RateLimitRPS <= 0 {
		check(fmt.Errorf("RATE_LIMIT_RPS must be positive, got %v", c.RateLimitRPS))
	}
	check(positive("RATE_LIMIT_BURST", int(c.RateLimitBurst)))
	if c.RetentionDays < 0 {
		check(fmt.Errorf("PRESCRIPTION_RETENTION_DAYS must be >= 0, got %d", c.RetentionDays))
	}
	if _, _, err := ParseClock(c.PurgeAt); err != nil {
		check(fmt.Errorf("PURGE_AT: %w", err))
	}
	check(positive("SPOOL_WORKERS", c.SpoolWorkers))

	return errors.Join(problems...)
}

// RequireDatabase fails when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// IsDev reports whether the development environment is selected.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// ListenAddr is the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Retention is the prescription retention window, zero when disabled.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func validatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", p)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

func positive(key string, n int) error {
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return nil
}
