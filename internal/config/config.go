// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database (participant directory, room descriptors, moderation state)
	DatabaseURL string `koanf:"database_url"`

	// Redis (presence, viewership, typing)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // set during secret rotation, empty otherwise

	// Ephemeral-state tuning. PresenceTTL must comfortably exceed
	// HeartbeatInterval so network jitter never drops a live participant.
	PresenceTTL       time.Duration `koanf:"presence_ttl"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	TypingTTL         time.Duration `koanf:"typing_ttl"`
	TypingStaleness   time.Duration `koanf:"typing_staleness"`
	StoreTimeout      time.Duration `koanf:"store_timeout"`

	// Idle connection sweeping
	IdleSweepInterval time.Duration `koanf:"idle_sweep_interval"`
	MaxIdle           time.Duration `koanf:"max_idle"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"` // otlp-grpc or otlp-http
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required")
	ErrMissingRedisAddr       = errors.New("REDIS_ADDR is required")
	ErrMissingJWTSecret       = errors.New("JWT_SECRET is required")
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
	ErrInvalidDuration        = errors.New("duration values must be valid Go durations")
	ErrTTLBelowHeartbeat      = errors.New("PRESENCE_TTL must exceed HEARTBEAT_INTERVAL")
	ErrStalenessAboveTTL      = errors.New("TYPING_STALENESS must be shorter than TYPING_TTL")
	ErrInvalidSamplingRate    = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
	ErrInvalidTracingExporter = errors.New("TRACING_EXPORTER must be otlp-grpc or otlp-http")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultRedisAddr           = "localhost:6379"
	DefaultPresenceTTL         = 5 * time.Minute
	DefaultHeartbeatInterval   = time.Minute
	DefaultTypingTTL           = 10 * time.Second
	DefaultTypingStaleness     = 5 * time.Second
	DefaultStoreTimeout        = 500 * time.Millisecond
	DefaultIdleSweepInterval   = time.Hour
	DefaultMaxIdle             = time.Hour
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSamplingRate = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	redisDB, redisDBErr := getEnvIntOrDefault("REDIS_DB", k.Int("redis_db"), 0)
	if redisDBErr != nil {
		loadErrs = append(loadErrs, redisDBErr)
	}

	presenceTTL, err := getEnvDurationOrDefault("PRESENCE_TTL", k.Duration("presence_ttl"), DefaultPresenceTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	heartbeat, err := getEnvDurationOrDefault("HEARTBEAT_INTERVAL", k.Duration("heartbeat_interval"), DefaultHeartbeatInterval)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	typingTTL, err := getEnvDurationOrDefault("TYPING_TTL", k.Duration("typing_ttl"), DefaultTypingTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	typingStaleness, err := getEnvDurationOrDefault("TYPING_STALENESS", k.Duration("typing_staleness"), DefaultTypingStaleness)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	storeTimeout, err := getEnvDurationOrDefault("STORE_TIMEOUT", k.Duration("store_timeout"), DefaultStoreTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sweepInterval, err := getEnvDurationOrDefault("IDLE_SWEEP_INTERVAL", k.Duration("idle_sweep_interval"), DefaultIdleSweepInterval)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxIdle, err := getEnvDurationOrDefault("MAX_IDLE", k.Duration("max_idle"), DefaultMaxIdle)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefault("ONSTAGE_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", k.String("redis_addr"), DefaultRedisAddr),
		RedisPassword:     getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		RedisDB:           redisDB,
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		PresenceTTL:       presenceTTL,
		HeartbeatInterval: heartbeat,
		TypingTTL:         typingTTL,
		TypingStaleness:   typingStaleness,
		StoreTimeout:      storeTimeout,
		IdleSweepInterval: sweepInterval,
		MaxIdle:           maxIdle,

		TracingEnabled:      tracingEnabled,
		TracingExporter:     getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and coherent.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisAddr == "" {
		errs = append(errs, ErrMissingRedisAddr)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.PresenceTTL <= c.HeartbeatInterval {
		errs = append(errs, ErrTTLBelowHeartbeat)
	}
	if c.TypingStaleness >= c.TypingTTL {
		errs = append(errs, ErrStalenessAboveTTL)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}
	if c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
		errs = append(errs, ErrInvalidTracingExporter)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_addr":            c.RedisAddr,
		"redis_password":        maskSecret(c.RedisPassword),
		"redis_db":              fmt.Sprintf("%d", c.RedisDB),
		"jwt_secret":            maskSecret(c.JWTSecret),
		"jwt_previous_secret":   maskSecret(c.JWTPreviousSecret),
		"presence_ttl":          c.PresenceTTL.String(),
		"heartbeat_interval":    c.HeartbeatInterval.String(),
		"typing_ttl":            c.TypingTTL.String(),
		"typing_staleness":      c.TypingStaleness.String(),
		"store_timeout":         c.StoreTimeout.String(),
		"idle_sweep_interval":   c.IdleSweepInterval.String(),
		"max_idle":              c.MaxIdle.String(),
		"tracing_enabled":       fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":      c.TracingExporter,
		"tracing_otlp_endpoint": c.TracingOTLPEndpoint,
		"tracing_sampling_rate": fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
