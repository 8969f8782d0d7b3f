package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/idregistry/idregistry/internal/account"
)

const (
	defaultAppName         = "idregistry"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultJWTIssuer       = "idregistry"
	defaultAccessTokenTTL  = time.Hour
	defaultSubmitRateLimit = 10
	defaultKafkaTopic      = "registry.events"
	defaultRelayBatchSize  = 100
	defaultCheckCacheTTL   = 30 * time.Second
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
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

	// Registry node.
	RegistryOwner          account.Address
	EnumerateResubmissions bool
	KafkaBrokers           []string
	KafkaTopic             string
	RelayBatchSize         int

	// Gateway.
	RegistryURL   string
	CheckCacheTTL time.Duration

	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	SubmitRateLimit int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		RelayBatchSize:  defaultRelayBatchSize,
		RegistryURL:     os.Getenv("REGISTRY_URL"),
		CheckCacheTTL:   defaultCheckCacheTTL,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       getEnv("JWT_ISSUER", defaultJWTIssuer),
		AccessTokenTTL:  defaultAccessTokenTTL,
		SubmitRateLimit: defaultSubmitRateLimit,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationFromEnv("", "ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.CheckCacheTTL, err = durationFromEnv("", "CHECK_CACHE_TTL", cfg.CheckCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.SubmitRateLimit, err = intFromEnv("SUBMIT_RATE_LIMIT", cfg.SubmitRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.RelayBatchSize, err = intFromEnv("RELAY_BATCH_SIZE", cfg.RelayBatchSize); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("REGISTRY_ENUMERATE_RESUBMISSIONS"); v != "" {
		if cfg.EnumerateResubmissions, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid REGISTRY_ENUMERATE_RESUBMISSIONS: %w", err)
		}
	}
	if v := os.Getenv("REGISTRY_OWNER"); v != "" {
		if cfg.RegistryOwner, err = account.Parse(v); err != nil {
			return Config{}, fmt.Errorf("invalid REGISTRY_OWNER: %w", err)
		}
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return cfg, nil
}

// ValidateRegistry checks settings only the registry node needs.
func (c Config) ValidateRegistry() error {
	if c.RegistryOwner.IsZero() {
		return fmt.Errorf("REGISTRY_OWNER must be set")
	}
	return nil
}

// ValidateGateway checks settings only the gateway needs.
func (c Config) ValidateGateway() error {
	if c.RegistryURL == "" {
		return fmt.Errorf("REGISTRY_URL must be set")
	}
	return nil
}

// IsDev reports whether the service runs in a development environment, where
// Postgres and Redis are optional and in-memory backends are used instead.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationFromEnv prefers an integer seconds variable over a Go duration one.
func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
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
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
