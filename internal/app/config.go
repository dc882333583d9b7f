package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	// Allocation defaults applied when a request or experiment leaves them
	// unset.
	DefaultEpsilon float64
	DefaultSubtype string

	// Security & hardening.
	AdminToken     string   // required for /admin/v1 access in production
	APIKeyAuth     bool     // enable API key auth on /v1 endpoints
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing.
	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("MOEBANDIT_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("MOEBANDIT_LOG_LEVEL", "info"),
		DBDSN:      getEnv("MOEBANDIT_DB_DSN", "file:/data/moebandit.sqlite"),

		DefaultEpsilon: getEnvFloat("MOEBANDIT_DEFAULT_EPSILON", 0.1),
		DefaultSubtype: getEnv("MOEBANDIT_DEFAULT_SUBTYPE", "epsilon_greedy"),

		AdminToken:     getEnv("MOEBANDIT_ADMIN_TOKEN", ""),
		APIKeyAuth:     getEnvBool("MOEBANDIT_API_KEY_AUTH", false),
		CORSOrigins:    getEnvStringSlice("MOEBANDIT_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("MOEBANDIT_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("MOEBANDIT_RATE_LIMIT_BURST", 120),

		OTelEnabled:  getEnvBool("MOEBANDIT_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("MOEBANDIT_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.DefaultEpsilon < 0 || c.DefaultEpsilon >= 1 {
		return fmt.Errorf("MOEBANDIT_DEFAULT_EPSILON must be in [0, 1), got %f", c.DefaultEpsilon)
	}
	if c.DefaultSubtype == "" {
		return fmt.Errorf("MOEBANDIT_DEFAULT_SUBTYPE must not be empty")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("MOEBANDIT_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("MOEBANDIT_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
