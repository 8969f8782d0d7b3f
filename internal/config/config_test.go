package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idregistry/idregistry/internal/account"
)

func TestLoadDevDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("REGISTRY_OWNER", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	t.Setenv("REGISTRY_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 10*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, account.MustParse("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), cfg.RegistryOwner)
	assert.False(t, cfg.EnumerateResubmissions)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.NoError(t, cfg.ValidateRegistry())
	assert.Error(t, cfg.ValidateGateway())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("PORT", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("SUBMIT_RATE_LIMIT", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REGISTRY_ENUMERATE_RESUBMISSIONS", "true")
	t.Setenv("REGISTRY_URL", "http://registry:8080")
	t.Setenv("REGISTRY_OWNER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 3, cfg.SubmitRateLimit)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.EnumerateResubmissions)
	assert.NoError(t, cfg.ValidateGateway())
	assert.Error(t, cfg.ValidateRegistry(), "owner is unset")
}

func TestLoadRequiresInfraOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/idregistry")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err = Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SHUTDOWN_TIMEOUT_SECONDS":         "soon",
		"IDEMPOTENCY_TTL":                  "forever",
		"SUBMIT_RATE_LIMIT":                "lots",
		"REGISTRY_ENUMERATE_RESUBMISSIONS": "maybe",
		"REGISTRY_OWNER":                   "0x1234",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("APP_ENV", "dev")
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}
