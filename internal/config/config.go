// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage (optional; in-memory when unset)
	DatabaseURL string
	RedisURL    string

	// Sessions
	SessionIdleTimeout      time.Duration
	SessionSweepInterval    time.Duration
	SessionArchiveRetention time.Duration

	// Telecom identity oracle
	TelecomOracleURL     string
	TelecomDataPath      string
	TelecomOracleTimeout time.Duration

	// IP intelligence
	GeoIPAnonDBPath string
	VPNCIDRs        []string

	// Wallet
	WalletStartingBalance decimal.Decimal
	ReconcileInterval     time.Duration

	// Risk engine tuning
	RiskWeights            map[string]int
	RiskThresholds         [3]int // medium, high, critical lower bounds
	RiskFastLoginMillis    int
	RiskCopyPasteThreshold int
	RiskYoungSIMDays       int
	RiskHoneypotLevel      string

	// Security
	AdminSecret    string
	RateLimitRPM   int
	RateLimitBurst int
	CORSOrigins    []string

	// Observability
	OTLPEndpoint       string
	AlertWebhookURL    string
	AlertWebhookSecret string
}

// Defaults
const (
	DefaultPort                    = "8080"
	DefaultEnv                     = "development"
	DefaultLogLevel                = "info"
	DefaultLogFormat               = "text"
	DefaultSessionIdleTimeout      = 30 * time.Minute
	DefaultSessionSweepInterval    = time.Minute
	DefaultSessionArchiveRetention = 24 * time.Hour
	DefaultTelecomOracleTimeout    = 2 * time.Second
	DefaultStartingBalance         = "50000"
	DefaultReconcileInterval       = 5 * time.Minute
	DefaultRateLimitRPM            = 120
	DefaultRateLimitBurst          = 30
	DefaultRiskFastLoginMillis     = 800
	DefaultRiskCopyPasteThreshold  = 3
	DefaultRiskYoungSIMDays        = 30
	DefaultRiskHoneypotLevel       = "HIGH"
)

// DefaultRiskThresholds are the lower bounds of MEDIUM, HIGH and CRITICAL.
var DefaultRiskThresholds = [3]int{30, 60, 80}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                    getEnv("PORT", DefaultPort),
		Env:                     getEnv("ENV", DefaultEnv),
		LogLevel:                getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:               getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisURL:                os.Getenv("REDIS_URL"),
		SessionIdleTimeout:      getEnvDuration("SESSION_IDLE_TIMEOUT", DefaultSessionIdleTimeout),
		SessionSweepInterval:    getEnvDuration("SESSION_SWEEP_INTERVAL", DefaultSessionSweepInterval),
		SessionArchiveRetention: getEnvDuration("SESSION_ARCHIVE_RETENTION", DefaultSessionArchiveRetention),
		TelecomOracleURL:        os.Getenv("TELECOM_ORACLE_URL"),
		TelecomDataPath:         os.Getenv("TELECOM_DATA_PATH"),
		TelecomOracleTimeout:    getEnvDuration("TELECOM_ORACLE_TIMEOUT", DefaultTelecomOracleTimeout),
		GeoIPAnonDBPath:         os.Getenv("GEOIP_ANON_DB_PATH"),
		VPNCIDRs:                getEnvList("VPN_CIDRS"),
		ReconcileInterval:       getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		RiskFastLoginMillis:     int(getEnvInt64("RISK_FAST_LOGIN_MS", DefaultRiskFastLoginMillis)),
		RiskCopyPasteThreshold:  int(getEnvInt64("RISK_COPY_PASTE_THRESHOLD", DefaultRiskCopyPasteThreshold)),
		RiskYoungSIMDays:        int(getEnvInt64("RISK_YOUNG_SIM_DAYS", DefaultRiskYoungSIMDays)),
		RiskHoneypotLevel:       strings.ToUpper(getEnv("RISK_HONEYPOT_LEVEL", DefaultRiskHoneypotLevel)),
		AdminSecret:             os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:            int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:          int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		CORSOrigins:             getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AlertWebhookURL:         os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret:      os.Getenv("ALERT_WEBHOOK_SECRET"),
	}

	balance, err := decimal.NewFromString(getEnv("WALLET_STARTING_BALANCE", DefaultStartingBalance))
	if err != nil {
		return nil, fmt.Errorf("WALLET_STARTING_BALANCE: %w", err)
	}
	cfg.WalletStartingBalance = balance

	weights, err := parseWeights(os.Getenv("RISK_WEIGHTS"))
	if err != nil {
		return nil, fmt.Errorf("RISK_WEIGHTS: %w", err)
	}
	cfg.RiskWeights = weights

	thresholds, err := parseThresholds(os.Getenv("RISK_THRESHOLDS"))
	if err != nil {
		return nil, fmt.Errorf("RISK_THRESHOLDS: %w", err)
	}
	cfg.RiskThresholds = thresholds

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.TelecomOracleTimeout <= 0 {
		return fmt.Errorf("TELECOM_ORACLE_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.WalletStartingBalance.IsNegative() {
		return fmt.Errorf("WALLET_STARTING_BALANCE must not be negative")
	}
	t := c.RiskThresholds
	if t[0] <= 0 || t[0] >= t[1] || t[1] >= t[2] || t[2] > 100 {
		return fmt.Errorf("RISK_THRESHOLDS must be strictly increasing within 1..100, got %v", t)
	}
	for name, w := range c.RiskWeights {
		if w < 0 || w > 100 {
			return fmt.Errorf("risk weight %q must be within 0..100", name)
		}
	}
	switch c.RiskHoneypotLevel {
	case "MEDIUM", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("RISK_HONEYPOT_LEVEL must be MEDIUM, HIGH or CRITICAL")
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseWeights parses "factor=weight,factor=weight" overrides.
func parseWeights(raw string) (map[string]int, error) {
	out := map[string]int{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected factor=weight, got %q", pair)
		}
		w, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("weight for %q: %w", name, err)
		}
		out[strings.TrimSpace(name)] = w
	}
	return out, nil
}

// parseThresholds parses "medium,high,critical".
func parseThresholds(raw string) ([3]int, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultRiskThresholds, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("expected three comma-separated bounds, got %q", raw)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return [3]int{}, fmt.Errorf("bound %q: %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}
