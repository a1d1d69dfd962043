/*
Package config loads server configuration from the environment.

SOURCES (highest wins):
  1. Command-line flags applied by cmd/server (-port, -db)
  2. Process environment
  3. A .env file in the working directory, if present
  4. Defaults below

VARIABLES:
  PORT                  HTTP port (8080)
  DB_PATH               SQLite path (yield.db), ":memory:" allowed
  APP_ENV               development | production
  LOG_LEVEL             debug | info | warn | error
  CORS_ALLOWED_ORIGINS  Comma separated
  ADMIN_USERNAME        Static admin login (admin)
  ADMIN_PASSWORD        Static admin password (admin123)
  JWT_SECRET            HS256 signing key
  TOKEN_TTL             Session token lifetime (24h)
  MIN_WITHDRAWAL        Smallest withdrawal accepted (10)
  DEFAULT_RATE_PERCENT  Rate for products created without one (20)
  SWEEP_SCHEDULE        Cron spec for the accrual sweep, empty disables it
  SEED_CATALOG          Seed the standard catalog into an empty database
  PAYMENT_CONTACT       Initial value of the payment_contact setting
  ADMIN_DISPLAY_NAME    Initial value of the admin_display_name setting
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/yield-engine/engine"
)

type Config struct {
	Port           int
	DBPath         string
	Env            string
	LogLevel       string
	AllowedOrigins []string

	AdminUsername string
	AdminPassword string
	JWTSecret     string
	TokenTTL      time.Duration

	MinWithdrawal      decimal.Decimal
	DefaultRatePercent decimal.Decimal
	SweepSchedule      string
	SeedCatalog        bool

	PaymentContact   string
	AdminDisplayName string
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnvAsInt("PORT", 8080),
		DBPath:         getEnv("DB_PATH", "yield.db"),
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:      getEnvAsDuration("TOKEN_TTL", 24*time.Hour),

		SweepSchedule: getEnvAllowEmpty("SWEEP_SCHEDULE", "5 0 * * *"),
		SeedCatalog:   getEnvAsBool("SEED_CATALOG", true),

		PaymentContact:   getEnv("PAYMENT_CONTACT", ""),
		AdminDisplayName: getEnv("ADMIN_DISPLAY_NAME", "Admin"),
	}

	var err error
	if cfg.MinWithdrawal, err = getEnvAsDecimal("MIN_WITHDRAWAL", decimal.NewFromInt(10)); err != nil {
		return nil, err
	}
	if cfg.DefaultRatePercent, err = getEnvAsDecimal("DEFAULT_RATE_PERCENT", decimal.NewFromInt(20)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Port)
	case c.DBPath == "":
		return fmt.Errorf("config: DB_PATH is empty")
	case c.JWTSecret == "":
		return fmt.Errorf("config: JWT_SECRET is empty")
	case c.TokenTTL <= 0:
		return fmt.Errorf("config: TOKEN_TTL must be positive")
	case c.MinWithdrawal.IsNegative():
		return fmt.Errorf("config: MIN_WITHDRAWAL must not be negative")
	case c.DefaultRatePercent.IsNegative():
		return fmt.Errorf("config: DEFAULT_RATE_PERCENT must not be negative")
	case c.IsProduction() && c.JWTSecret == "dev-secret-change-me":
		return fmt.Errorf("config: JWT_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// SettingDefaults are the settings seeded on first start.
func (c *Config) SettingDefaults() map[string]string {
	return map[string]string{
		engine.SettingPaymentContact:   c.PaymentContact,
		engine.SettingAdminDisplayName: c.AdminDisplayName,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty treats a variable set to "" as a value, not as unset.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if val, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s=%q is not a number: %w", key, raw, err)
	}
	return d, nil
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
